package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/corpus/pkg/audio"
	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/export"
	"github.com/Mindburn-Labs/corpus/pkg/jobs"
	"github.com/Mindburn-Labs/corpus/pkg/llm"
	"github.com/Mindburn-Labs/corpus/pkg/observability"
	"github.com/Mindburn-Labs/corpus/pkg/policy"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
	"github.com/Mindburn-Labs/corpus/pkg/speech"
)

// Container wires the whole engine from one configuration. Open builds the
// object graph; Close tears it down. Tests use Reset to drop process-wide
// state (policy cache, provider registry) between cases.
type Container struct {
	cfg *config.Config

	store    *corpus.Store
	recorder *audit.Recorder
	router   *llm.Router
	fabric   *jobs.Fabric
	sweeper  *audit.Sweeper

	corpusRepo  *repository.CorpusRepository
	sessionRepo *repository.SessionRepository
	jobRepo     *repository.JobRepository
	auditRepo   *repository.AuditRepository
	exportRepo  *repository.ExportRepository

	Corpus   *CorpusService
	Sessions *SessionService
	Media    *MediaService
	Exports  *ExportService
	Audits   *AuditService
}

// NewContainer prepares a container; nothing is opened until Open.
func NewContainer(cfg *config.Config) *Container {
	return &Container{cfg: cfg}
}

// Open opens the corpus and builds every service. An ErrMutationDetected
// from the store is returned after wiring completes so read paths stay
// usable against the read-only store.
func (c *Container) Open(ctx context.Context) error {
	policy.SetPath(c.cfg.PolicyPath)

	store, openErr := corpus.Open(c.cfg.CorpusPath)
	if store == nil {
		return openErr
	}
	c.store = store

	c.corpusRepo = repository.NewCorpusRepository(store, c.cfg.EmbeddingDim)
	c.sessionRepo = repository.NewSessionRepository(store)
	c.jobRepo = repository.NewJobRepository(store)
	c.auditRepo = repository.NewAuditRepository(store)
	c.exportRepo = repository.NewExportRepository(store)

	c.recorder = audit.NewRecorder(c.auditRepo)

	c.router = llm.NewRouter(c.recorder, 1024)
	llm.RegisterEcho(c.cfg.EmbeddingDim)
	llm.RegisterOllama()
	llm.RegisterClaude()
	if err := c.router.Configure("echo", "", ""); err != nil {
		return err
	}
	for _, p := range c.cfg.LLMProviders {
		if err := c.router.Configure(p.Name, p.APIKey, p.BaseURL); err != nil {
			slog.Warn("llm provider not configured", "name", p.Name, "error", err)
		}
	}

	fabric, err := jobs.NewFabric(ctx, c.cfg, c.jobRepo, c.recorder)
	if err != nil {
		return err
	}
	c.fabric = fabric

	audioStore, err := audio.NewStore(c.cfg.AudioDir, c.cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	signingKey := []byte(c.cfg.ExportSigningKey)
	if len(signingKey) == 0 {
		slog.Warn("export_signing_key not set; using an ephemeral development key")
		signingKey = []byte("corpus-dev-signing-key")
	}

	builder := export.NewBuilder(store, c.cfg.ExportsDir, signingKey)
	c.sweeper = audit.NewSweeper(store, c.auditRepo, c.recorder, c.cfg.RetentionDays, signingKey)

	c.Corpus = NewCorpusService(store, c.corpusRepo, c.sessionRepo, c.router, c.recorder, c.cfg.EmbeddingDim)
	c.Sessions = NewSessionService(store, c.sessionRepo, c.recorder)
	c.Media = NewMediaService(store, c.cfg, audioStore, c.sessionRepo, c.jobRepo, fabric, c.recorder)
	c.Exports = NewExportService(store, builder, c.exportRepo, c.recorder, signingKey)
	c.Audits = NewAuditService(store, c.auditRepo)

	stub := speech.LocalStub{}
	RegisterJobHandlers(fabric, c.sessionRepo, c.jobRepo, c.Corpus, c.Exports, stub, stub, c.cfg.LLMDefaultModel)

	return openErr
}

// Instrument wires the engine counters into the store, the model router and
// the job fabric. serve calls it between Open and Start.
func (c *Container) Instrument(m *observability.Metrics) {
	c.store.WithAppendCounter(m.Appends)
	c.router.WithCallCounter(m.LLMCalls)
	c.fabric.WithRunCounter(m.JobsRun)
}

// Start launches the background workers: the job fabric and the audit
// retention sweeper.
func (c *Container) Start(ctx context.Context) {
	c.fabric.Start(ctx)
	go c.sweeper.Run(ctx)
}

// Store exposes the corpus store (CLI validate, tests).
func (c *Container) Store() *corpus.Store { return c.store }

// Fabric exposes the job fabric (metrics, backpressure probes).
func (c *Container) Fabric() *jobs.Fabric { return c.fabric }

// Recorder exposes the audit recorder.
func (c *Container) Recorder() *audit.Recorder { return c.recorder }

// Close stops the workers and releases the store.
func (c *Container) Close() error {
	if c.fabric != nil {
		c.fabric.Stop()
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Reset drops process-wide state between test cases.
func Reset() {
	policy.Reset()
	llm.ResetRegistry()
}

// Health summarizes engine liveness for the health endpoint.
func (c *Container) Health(ctx context.Context) map[string]any {
	h := map[string]any{
		"read_only":   c.store.ReadOnly(),
		"queue_depth": c.fabric.QueueDepth(ctx),
		"job_mode":    string(c.cfg.JobMode),
	}
	if id, err := c.store.CorpusID(ctx); err == nil {
		h["corpus_id"] = id
	} else {
		h["corpus_id"] = fmt.Sprintf("unavailable: %v", err)
	}
	return h
}
