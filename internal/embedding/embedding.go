package embedding

import "context"

// Provider turns memory text into vectors for semantic recall.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the configured provider, defaulting to the API one.
func New(cfg Config) Provider {
	if cfg.Provider == "local" {
		return NewLocalProvider(cfg)
	}
	return NewAPIProvider(cfg)
}
