package generator

import "context"

// LLMClient abstracts the model backend so it can be swapped or mocked.
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings is the base configuration handed to concrete clients.
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// Models lists the model identifiers a request may select; empty means
	// only Model is accepted.
	Models []string
}
