package llm

import (
	"context"
	"crypto/sha256"
)

// EchoProvider is a deterministic in-process provider for tests and
// offline smoke runs. Completions mirror the prompt; embeddings hash it.
type EchoProvider struct {
	Dim int
}

// RegisterEcho installs the echo factory in the registry.
func RegisterEcho(dim int) {
	Register("echo", func(apiKey, baseURL string) (Provider, error) {
		return &EchoProvider{Dim: dim}, nil
	})
}

func (p *EchoProvider) Name() string { return "echo" }

func (p *EchoProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	return &Response{Content: "echo: " + req.Prompt, Model: "echo", Tokens: int64(len(req.Prompt))}, nil
}

// Embed derives a stable pseudo-vector from the text digest.
func (p *EchoProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := p.Dim
	if dim <= 0 {
		dim = 32
	}
	h := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(h[i%len(h)])/255.0 - 0.5
	}
	return vec, nil
}
