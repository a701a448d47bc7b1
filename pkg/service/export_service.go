package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/export"
	"github.com/Mindburn-Labs/corpus/pkg/policy"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// ExportService builds, verifies and soft-deletes signed export bundles.
type ExportService struct {
	gate
	builder    *export.Builder
	repo       *repository.ExportRepository
	recorder   *audit.Recorder
	signingKey []byte
	clock      func() time.Time
}

// NewExportService wires the export service.
func NewExportService(store *corpus.Store, builder *export.Builder, repo *repository.ExportRepository, recorder *audit.Recorder, signingKey []byte) *ExportService {
	return &ExportService{
		gate:       gate{store: store, recorder: recorder},
		builder:    builder,
		repo:       repo,
		recorder:   recorder,
		signingKey: signingKey,
		clock:      time.Now,
	}
}

// Create builds a signed bundle for the selected groups after the egress
// destination passes policy. Destination defaults to local.
func (s *ExportService) Create(ctx context.Context, credential, userID string, targets []string, destination string) (*contracts.Export, error) {
	if destination == "" {
		destination = "local"
	}
	pol, err := policy.Get()
	if err != nil {
		return nil, err
	}
	if err := pol.CheckEgress(destination); err != nil {
		_ = s.recorder.Emit(ctx, audit.OpPolicyDenied, userID, "export", contracts.ResultDenied,
			map[string]any{"destination": destination})
		return nil, err
	}
	if err := s.authorize(ctx, credential, userID, audit.OpExportCreated, "export"); err != nil {
		return nil, err
	}
	return s.build(ctx, userID, targets)
}

// CreateForJob builds an export on behalf of the job fabric. Ownership was
// verified when the job was enqueued.
func (s *ExportService) CreateForJob(ctx context.Context, targets []string) (*contracts.Export, error) {
	if err := s.checkPolicy(ctx, "system", audit.OpExportCreated, "export"); err != nil {
		return nil, err
	}
	return s.build(ctx, "system", targets)
}

func (s *ExportService) build(ctx context.Context, userID string, targets []string) (*contracts.Export, error) {
	e, err := s.builder.Build(ctx, targets)
	if err != nil {
		return nil, err
	}
	auditRec, err := s.recorder.Record(audit.OpExportCreated, userID, "export/"+e.ExportID,
		contracts.ResultSuccess, map[string]any{"targets": targets, "artifacts": len(e.Artifacts)})
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, *e, auditRec); err != nil {
		return nil, err
	}
	return e, nil
}

// Verify re-checks a bundle on disk against its manifest and signature.
// The outcome is audited either way.
func (s *ExportService) Verify(ctx context.Context, exportID, userID string) (*export.VerifyReport, error) {
	if _, err := s.repo.Get(ctx, exportID); err != nil {
		return nil, err
	}
	report, err := export.Verify(s.builder.Dir(exportID), s.signingKey)
	if err != nil {
		return nil, err
	}
	result := contracts.ResultSuccess
	if !report.OK() {
		result = contracts.ResultFailure
	}
	if err := s.recorder.Emit(ctx, audit.OpExportVerified, userID, "export/"+exportID, result,
		map[string]any{"signature_valid": report.SignatureValid, "mismatches": len(report.Mismatches)}); err != nil {
		return nil, err
	}
	return report, nil
}

// Delete soft-deletes an export: a tombstone row is appended and the audit
// trail retained. Bundle files stay on disk.
func (s *ExportService) Delete(ctx context.Context, credential, exportID, userID string) error {
	e, err := s.repo.Get(ctx, exportID)
	if err != nil {
		return err
	}
	if e.DeletedAt != nil {
		return fmt.Errorf("%w: export %s already deleted", corpuserr.ErrInvalidTransition, exportID)
	}
	if err := s.authorize(ctx, credential, userID, audit.OpExportDeleted, "export/"+exportID); err != nil {
		return err
	}
	now := s.clock().UTC()
	e.DeletedAt = &now
	auditRec, err := s.recorder.Record(audit.OpExportDeleted, userID, "export/"+exportID,
		contracts.ResultSuccess, nil)
	if err != nil {
		return err
	}
	return s.repo.MarkDeleted(ctx, *e, auditRec)
}

// Get returns the newest record for an export id.
func (s *ExportService) Get(ctx context.Context, exportID string) (*contracts.Export, error) {
	return s.repo.Get(ctx, exportID)
}

// List returns the newest record per export id.
func (s *ExportService) List(ctx context.Context, limit int) ([]contracts.Export, error) {
	return s.repo.List(ctx, limit)
}
