package service

import (
	"context"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// AuditService answers audit queries and exposes the validation report.
type AuditService struct {
	store *corpus.Store
	repo  *repository.AuditRepository
}

// NewAuditService wires the audit query service.
func NewAuditService(store *corpus.Store, repo *repository.AuditRepository) *AuditService {
	return &AuditService{store: store, repo: repo}
}

// Query returns audit events matching the filter in append order.
func (s *AuditService) Query(ctx context.Context, f repository.QueryFilter) ([]contracts.AuditEvent, error) {
	return s.repo.Query(ctx, f)
}

// Validate replays the length log against the corpus and returns the report.
func (s *AuditService) Validate(ctx context.Context) (*corpus.Report, error) {
	return s.store.Validate(ctx)
}
