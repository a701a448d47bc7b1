package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/llm"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// CorpusService appends interactions and embeddings and answers similarity
// queries. Corrections never rewrite: they append a new interaction whose
// metadata carries correction_of = the prior interaction id.
type CorpusService struct {
	gate
	repo     *repository.CorpusRepository
	sessions *repository.SessionRepository
	router   *llm.Router
	recorder *audit.Recorder
	dim      int
	clock    func() time.Time
}

// NewCorpusService wires the corpus service.
func NewCorpusService(store *corpus.Store, repo *repository.CorpusRepository, sessions *repository.SessionRepository, router *llm.Router, recorder *audit.Recorder, dim int) *CorpusService {
	return &CorpusService{
		gate:     gate{store: store, recorder: recorder},
		repo:     repo,
		sessions: sessions,
		router:   router,
		recorder: recorder,
		dim:      dim,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *CorpusService) WithClock(clock func() time.Time) *CorpusService {
	s.clock = clock
	return s
}

// AppendInteraction records one interaction against an open session. If the
// metadata names a correction_of target, that interaction must exist.
func (s *CorpusService) AppendInteraction(ctx context.Context, credential string, in contracts.Interaction) (string, error) {
	if in.SessionID == "" {
		return "", fmt.Errorf("%w: session_id is required", corpuserr.ErrValidation)
	}
	if in.Prompt == "" && in.Response == "" {
		return "", fmt.Errorf("%w: interaction needs a prompt or a response", corpuserr.ErrValidation)
	}

	sess, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return "", err
	}
	if sess.State != contracts.SessionOpen {
		return "", fmt.Errorf("%w: session %s is %s, appends need an open session",
			corpuserr.ErrInvalidTransition, in.SessionID, sess.State)
	}

	if target, ok := in.Metadata["correction_of"].(string); ok && target != "" {
		if _, err := s.repo.GetInteraction(ctx, target); err != nil {
			return "", fmt.Errorf("%w: correction_of target %s", corpuserr.ErrValidation, target)
		}
	}

	in.InteractionID = uuid.New().String()
	in.Timestamp = s.clock().UTC()

	resource := "interaction/" + in.InteractionID
	if err := s.authorize(ctx, credential, sess.UserID, audit.OpInteractionAppend, resource); err != nil {
		return "", err
	}
	auditRec, err := s.recorder.Record(audit.OpInteractionAppend, sess.UserID, resource,
		contracts.ResultSuccess, in)
	if err != nil {
		return "", err
	}
	if _, err := s.repo.AppendInteraction(ctx, in, auditRec); err != nil {
		return "", err
	}
	return in.InteractionID, nil
}

// AppendEmbedding records a caller-supplied vector for an interaction.
// Vectors are zero-padded to the configured width by the repository.
func (s *CorpusService) AppendEmbedding(ctx context.Context, credential string, e contracts.Embedding) error {
	in, err := s.repo.GetInteraction(ctx, e.InteractionID)
	if err != nil {
		return err
	}
	sess, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return err
	}
	resource := "embedding/" + e.InteractionID
	if err := s.authorize(ctx, credential, sess.UserID, audit.OpEmbeddingAppend, resource); err != nil {
		return err
	}
	return s.appendEmbedding(ctx, sess.UserID, e)
}

// EmbedInteraction derives an embedding for a stored interaction through the
// router and appends it. Job handlers call this; ownership was verified at
// enqueue time.
func (s *CorpusService) EmbedInteraction(ctx context.Context, interactionID, model string) error {
	in, err := s.repo.GetInteraction(ctx, interactionID)
	if err != nil {
		return err
	}
	resource := "embedding/" + interactionID
	if err := s.checkPolicy(ctx, "system", audit.OpEmbeddingAppend, resource); err != nil {
		return err
	}
	vec, err := s.router.Embed(ctx, model, in.Prompt+"\n"+in.Response, "system")
	if err != nil {
		return err
	}
	return s.appendEmbedding(ctx, "system", contracts.Embedding{
		InteractionID: interactionID,
		Vector:        vec,
		Model:         model,
	})
}

func (s *CorpusService) appendEmbedding(ctx context.Context, userID string, e contracts.Embedding) error {
	e.Timestamp = s.clock().UTC()
	auditRec, err := s.recorder.Record(audit.OpEmbeddingAppend, userID, "embedding/"+e.InteractionID,
		contracts.ResultSuccess, map[string]any{"model": e.Model, "dim": len(e.Vector)})
	if err != nil {
		return err
	}
	_, err = s.repo.AppendEmbedding(ctx, e, auditRec)
	return err
}

// SimilarHit is one similarity search result.
type SimilarHit struct {
	InteractionID string  `json:"interaction_id"`
	Score         float64 `json:"score"`
}

// SearchSimilar embeds the query through the router and ranks stored
// embeddings by cosine similarity.
func (s *CorpusService) SearchSimilar(ctx context.Context, model, query, userID string, topK int) ([]SimilarHit, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", corpuserr.ErrValidation)
	}
	if topK <= 0 {
		topK = 10
	}
	qvec, err := s.router.Embed(ctx, model, query, userID)
	if err != nil {
		return nil, err
	}
	qvec, err = corpus.NormalizeVector(qvec, s.dim)
	if err != nil {
		return nil, err
	}

	all, err := s.repo.ListEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	hits := make([]SimilarHit, 0, len(all))
	for _, e := range all {
		hits = append(hits, SimilarHit{
			InteractionID: e.InteractionID,
			Score:         corpus.CosineSimilarity(qvec, e.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// GetInteraction returns the newest record for an interaction id.
func (s *CorpusService) GetInteraction(ctx context.Context, interactionID string) (*contracts.Interaction, error) {
	return s.repo.GetInteraction(ctx, interactionID)
}

// ListInteractions returns a session's interactions in append order.
func (s *CorpusService) ListInteractions(ctx context.Context, sessionID string) ([]contracts.Interaction, error) {
	return s.repo.ListInteractions(ctx, sessionID)
}
