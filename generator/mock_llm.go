package generator

import (
	"context"
	"strings"
)

// MockLLM is a placeholder backend for local runs; it never calls a model and
// answers with the first non-empty line of the user message.
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	for _, line := range strings.Split(prompt.User, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return "Ejemplo: " + line, nil
		}
	}
	return "Ejemplo generado sin contenido", nil
}
