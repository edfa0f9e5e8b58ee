// Package generator produces metadata field values and dataset titles with an
// LLM from the uploaded files and the user's property assignment.
package generator

import (
	"context"
	"errors"
	"fmt"

	"dataset_metadata_publisher/metadata"
)

// FieldRequest is the input of one generation call.
type FieldRequest struct {
	Files        []metadata.FileDescriptor
	Selected     metadata.Assignment
	Field        metadata.FieldID
	Model        string
	CustomPrompt string
}

// TitleRequest is the input of the one-shot title generation.
type TitleRequest struct {
	Files    []metadata.FileDescriptor
	Selected metadata.Assignment
	Model    string
}

// Agent turns requests into prompts, calls the model and cleans the answer.
type Agent struct {
	llm LLMClient
}

func NewAgent(llm LLMClient) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Agent{llm: llm}, nil
}

// GenerateField returns the generated value for req.Field.
func (a *Agent) GenerateField(ctx context.Context, req FieldRequest) (string, error) {
	if !req.Field.Valid() {
		return "", fmt.Errorf("%w: %q", metadata.ErrUnknownField, req.Field)
	}
	if len(req.Files) == 0 {
		return "", errors.New("no files provided")
	}
	raw, err := a.llm.Complete(ctx, BuildFieldPrompt(req))
	if err != nil {
		return "", err
	}
	return PostProcess(req.Field, raw)
}

// GenerateTitle returns a dataset title.
func (a *Agent) GenerateTitle(ctx context.Context, req TitleRequest) (string, error) {
	if len(req.Files) == 0 {
		return "", errors.New("no files provided")
	}
	raw, err := a.llm.Complete(ctx, BuildTitlePrompt(req))
	if err != nil {
		return "", err
	}
	return PostProcessTitle(raw)
}
