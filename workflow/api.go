package workflow

import (
	"encoding/json"

	"dataset_metadata_publisher/metadata"
)

// Endpoint paths.
const (
	PathExtractProperties = "/api/extract-properties/"
	PathGenerateTitle     = "/api/generate-title/"
	PathGenerateMetadata  = "/api/generate-metadata/"
	PathCatalogProxy      = "/ckan/proxy/"
	PathCatalogPublish    = "/ckan/publish/"
)

// Catalog proxy actions.
const (
	ActionGetOrganizations   = "get_organizations"
	ActionCreateOrganization = "create_organization"
)

// ExtractRequest is the body of the extract-properties call.
type ExtractRequest struct {
	Files []metadata.FileDescriptor `json:"files"`
}

// TitleRequest is the body of the generate-title call.
type TitleRequest struct {
	Files              []metadata.FileDescriptor `json:"files"`
	SelectedProperties metadata.Assignment       `json:"selectedProperties"`
	AIModel            string                    `json:"ai_model,omitempty"`
}

// TitleResponse is the answer of the generate-title call.
type TitleResponse struct {
	Success bool   `json:"success"`
	Title   string `json:"title,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GenerateRequest is the body of the generate-metadata call.
type GenerateRequest struct {
	Files              []metadata.FileDescriptor `json:"files"`
	SelectedProperties metadata.Assignment       `json:"selectedProperties"`
	FieldID            metadata.FieldID          `json:"field_id"`
	AIModel            string                    `json:"ai_model"`
	CustomPrompt       *string                   `json:"custom_prompt,omitempty"`
}

// GenerateResponse is the answer of the generate-metadata call.
type GenerateResponse struct {
	Success bool   `json:"success"`
	Value   string `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProxyRequest is the body of the catalog proxy call.
type ProxyRequest struct {
	Action      string `json:"action"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProxyResponse is the answer of the catalog proxy call; Result is a list of
// organizations or a single one depending on the action.
type ProxyResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// PublishResponse is the answer of the publish call.
type PublishResponse struct {
	Success   bool   `json:"success"`
	DatasetID string `json:"dataset_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
