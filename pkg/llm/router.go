package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

var (
	registryMu sync.Mutex
	factories  = make(map[string]Factory)
)

// Register adds a provider factory under a model-family name. Each provider
// file calls this from the startup wiring; adding a provider requires no
// router change.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// ResetRegistry clears registered factories. Tests only.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories = make(map[string]Factory)
}

// Router routes every model call through a provider registry, persists an
// audit event before any response is returned, and serves repeated
// embeddings from a bounded LRU cache.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	recorder  *audit.Recorder
	cache     *embeddingCache
	calls     metric.Int64Counter
}

// NewRouter builds a router over the given audit recorder.
func NewRouter(recorder *audit.Recorder, cacheSize int) *Router {
	return &Router{
		providers: make(map[string]Provider),
		recorder:  recorder,
		cache:     newEmbeddingCache(cacheSize),
	}
}

// Configure instantiates a registered factory and mounts the provider.
func (r *Router) Configure(name, apiKey, baseURL string) error {
	registryMu.Lock()
	f, ok := factories[name]
	registryMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no provider factory %q", corpuserr.ErrValidation, name)
	}
	p, err := f(apiKey, baseURL)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()
	return nil
}

// WithCallCounter wires the routed-call instrument. Cache hits are not
// counted; they reach no provider.
func (r *Router) WithCallCounter(c metric.Int64Counter) *Router {
	r.calls = c
	return r
}

func (r *Router) count(ctx context.Context) {
	if r.calls != nil {
		r.calls.Add(ctx, 1)
	}
}

// Mount attaches an already-built provider (tests, local stubs).
func (r *Router) Mount(p Provider) {
	r.mu.Lock()
	r.providers[p.Name()] = p
	r.mu.Unlock()
}

func (r *Router) provider(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[model]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", corpuserr.ErrValidation, model)
	}
	return p, nil
}

// Route performs one completion call. The audit event is persisted before
// the response is returned; failures audit as LLM_CALL_FAILED with the
// normalized error class only.
func (r *Router) Route(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", corpuserr.ErrValidation)
	}
	p, err := r.provider(req.Model)
	if err != nil {
		return nil, err
	}

	r.count(ctx)
	resp, callErr := p.Complete(ctx, req)
	if callErr != nil {
		norm := Normalize(callErr)
		slog.Warn("llm call failed", "model", req.Model, "error", Scrub(callErr.Error()))
		_ = r.recorder.Emit(ctx, audit.OpLLMCallFailed, req.UserID, "llm/"+req.Model,
			contracts.ResultFailure, map[string]any{"error_class": corpuserr.StatusLabel(norm)})
		return nil, norm
	}

	if err := r.recorder.Emit(ctx, audit.OpLLMCallRouted, req.UserID, "llm/"+req.Model,
		contracts.ResultSuccess, map[string]any{"prompt": req.Prompt, "tokens": resp.Tokens}); err != nil {
		// No response leaves the router without its audit event.
		return nil, fmt.Errorf("%w: audit persist failed", corpuserr.ErrInternal)
	}
	return resp, nil
}

// Embed returns a vector for text, consulting the cache first. Cache hits
// do not re-audit; the original call already did.
func (r *Router) Embed(ctx context.Context, model, text, userID string) ([]float32, error) {
	key := cacheKey(model, text)
	if v, ok := r.cache.get(key); ok {
		return v, nil
	}

	p, err := r.provider(model)
	if err != nil {
		return nil, err
	}
	emb, ok := p.(Embedder)
	if !ok {
		return nil, fmt.Errorf("%w: model %q cannot embed", corpuserr.ErrValidation, model)
	}

	r.count(ctx)
	vec, callErr := emb.Embed(ctx, text)
	if callErr != nil {
		norm := Normalize(callErr)
		_ = r.recorder.Emit(ctx, audit.OpLLMCallFailed, userID, "llm/"+model,
			contracts.ResultFailure, map[string]any{"error_class": corpuserr.StatusLabel(norm)})
		return nil, norm
	}
	if err := r.recorder.Emit(ctx, audit.OpLLMCallRouted, userID, "llm/"+model,
		contracts.ResultSuccess, map[string]any{"embed_chars": len(text)}); err != nil {
		return nil, fmt.Errorf("%w: audit persist failed", corpuserr.ErrInternal)
	}
	r.cache.put(key, vec)
	return vec, nil
}

// CacheLen reports the embedding cache occupancy (metrics and tests).
func (r *Router) CacheLen() int { return r.cache.len() }
