// Package llm is the single choke-point for model calls. Providers register
// here at startup; no other package may import a provider SDK (enforced by
// the router validator).
package llm

import "context"

// Request is one routed completion call.
type Request struct {
	Prompt    string
	Model     string
	UserID    string
	MaxTokens int64
}

// Response is the normalized provider output.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Tokens  int64  `json:"tokens"`
}

// Provider is a model backend. Implementations live in this package only.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Embedder is implemented by providers that can produce vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Factory builds a provider from its configuration.
type Factory func(apiKey, baseURL string) (Provider, error)
