package publisher

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

// Config is the service configuration read from config.json.
type Config struct {
	ServerAddr string         `json:"server_addr,omitempty"`
	APIBaseURL string         `json:"api_base_url,omitempty"`
	Database   string         `json:"database,omitempty"`
	CKAN       CKANConfig     `json:"ckan"`
	LLM        *LLMConfig     `json:"llm,omitempty"`
	Workflow   WorkflowConfig `json:"workflow,omitempty"`
}

// CKANConfig holds the catalog endpoint and the fallback API token.
type CKANConfig struct {
	BaseURL            string `json:"base_url"`
	APIToken           string `json:"api_token,omitempty"`
	UserID             int    `json:"user_id,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider string   `json:"provider,omitempty"`
	Model    string   `json:"model,omitempty"`
	Models   []string `json:"models,omitempty"`
	APIKey   string   `json:"api_key,omitempty"`
	BaseURL  string   `json:"base_url,omitempty"`
}

// WorkflowConfig tunes the inference pages; zero values fall back to defaults.
type WorkflowConfig struct {
	StepDelayMS       int `json:"step_delay_ms,omitempty"`
	SuccessRedirectMS int `json:"success_redirect_ms,omitempty"`
	PartialRedirectMS int `json:"partial_redirect_ms,omitempty"`
	PublishRedirectMS int `json:"publish_redirect_ms,omitempty"`
}

// Timeout is the HTTP timeout used towards the catalog.
func (c CKANConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadConfig reads JSON config from disk.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.CKAN.BaseURL == "" {
		return Config{}, errors.New("config must include ckan.base_url")
	}
	if cfg.CKAN.UserID == 0 {
		cfg.CKAN.UserID = 1
	}
	return cfg, nil
}
