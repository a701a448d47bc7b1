package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ollamaProvider talks to a local Ollama daemon. It is also the default
// embedder for air-gapped deployments.
type ollamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// RegisterOllama installs the ollama factory in the registry.
func RegisterOllama() {
	Register("ollama", func(apiKey, baseURL string) (Provider, error) {
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return &ollamaProvider{
			baseURL: baseURL,
			model:   "llama3",
			client:  &http.Client{Timeout: 60 * time.Second},
		}, nil
	})
}

func (p *ollamaProvider) Name() string { return "ollama" }

func (p *ollamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	body, _ := json.Marshal(map[string]any{
		"model":  p.model,
		"prompt": req.Prompt,
		"stream": false,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	var out struct {
		Response  string `json:"response"`
		EvalCount int64  `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &Response{Content: out.Response, Model: p.model, Tokens: out.EvalCount}, nil
}

func (p *ollamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(map[string]any{
		"model":  p.model,
		"prompt": text,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	vec := make([]float32, len(out.Embedding))
	for i, f := range out.Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}
