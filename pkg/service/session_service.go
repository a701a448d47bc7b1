package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// SessionService manages clinical sessions. State moves forward only:
// open -> finalized -> archived, with open -> archived permitted.
type SessionService struct {
	gate
	repo     *repository.SessionRepository
	recorder *audit.Recorder
	clock    func() time.Time
}

// NewSessionService wires the session service.
func NewSessionService(store *corpus.Store, repo *repository.SessionRepository, recorder *audit.Recorder) *SessionService {
	return &SessionService{
		gate:     gate{store: store, recorder: recorder},
		repo:     repo,
		recorder: recorder,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	s.clock = clock
	return s
}

// Create opens a new session for a user.
func (s *SessionService) Create(ctx context.Context, credential, userID string, metadata map[string]any) (*contracts.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", corpuserr.ErrValidation)
	}
	sess := contracts.Session{
		SessionID: uuid.New().String(),
		UserID:    userID,
		CreatedAt: s.clock().UTC(),
		State:     contracts.SessionOpen,
		Metadata:  metadata,
	}
	if err := s.authorize(ctx, credential, userID, audit.OpSessionCreated, "session/"+sess.SessionID); err != nil {
		return nil, err
	}
	auditRec, err := s.recorder.Record(audit.OpSessionCreated, userID, "session/"+sess.SessionID,
		contracts.ResultSuccess, sess)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sess, auditRec); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Finalize moves an open session to finalized.
func (s *SessionService) Finalize(ctx context.Context, credential, sessionID, userID string) error {
	return s.transition(ctx, credential, sessionID, userID, contracts.SessionFinalized, audit.OpSessionFinalized)
}

// Archive moves an open or finalized session to archived.
func (s *SessionService) Archive(ctx context.Context, credential, sessionID, userID string) error {
	return s.transition(ctx, credential, sessionID, userID, contracts.SessionArchived, audit.OpSessionArchived)
}

// forwardTransitions is the closed set of legal state moves.
var forwardTransitions = map[contracts.SessionState][]contracts.SessionState{
	contracts.SessionOpen:      {contracts.SessionFinalized, contracts.SessionArchived},
	contracts.SessionFinalized: {contracts.SessionArchived},
	contracts.SessionArchived:  {},
}

func allowedTransition(from, to contracts.SessionState) bool {
	for _, t := range forwardTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (s *SessionService) transition(ctx context.Context, credential, sessionID, userID string, to contracts.SessionState, op string) error {
	current, err := s.repo.CurrentState(ctx, sessionID)
	if err != nil {
		return err
	}
	if !allowedTransition(current, to) {
		return fmt.Errorf("%w: session %s cannot move %s -> %s",
			corpuserr.ErrInvalidTransition, sessionID, current, to)
	}
	if err := s.authorize(ctx, credential, userID, op, "session/"+sessionID); err != nil {
		return err
	}
	auditRec, err := s.recorder.Record(op, userID, "session/"+sessionID, contracts.ResultSuccess,
		map[string]any{"from": string(current), "to": string(to)})
	if err != nil {
		return err
	}
	return s.repo.AppendState(ctx, contracts.SessionEvent{
		SessionID: sessionID,
		State:     to,
		Timestamp: s.clock().UTC(),
	}, auditRec)
}

// Get returns a session with its folded state.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*contracts.Session, error) {
	return s.repo.Get(ctx, sessionID)
}

// List returns a user's sessions, newest first.
func (s *SessionService) List(ctx context.Context, userID string, limit int) ([]contracts.Session, error) {
	return s.repo.List(ctx, userID, limit)
}
