// Package service implements the application layer: policy and ownership
// gating, entity validation and audit coupling on top of the repositories.
// Every service write is preceded by the gate and carries its audit event
// into the repository's critical section.
package service

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/policy"
)

// gate enforces the write policy and ownership identity ahead of any store
// mutation. Denials are audited as standalone events since no data append
// follows them.
type gate struct {
	store    *corpus.Store
	recorder *audit.Recorder
}

// authorize checks the append-only policy and, when the policy requires it,
// the caller's ownership credential. Both outcomes land in the audit log.
func (g *gate) authorize(ctx context.Context, credential, userID, operation, resource string) error {
	pol, err := policy.Get()
	if err != nil {
		return err
	}
	if err := pol.CheckWrite(); err != nil {
		_ = g.recorder.Emit(ctx, audit.OpPolicyDenied, userID, resource, contracts.ResultDenied,
			map[string]any{"operation": operation})
		return err
	}
	if !pol.OwnershipRequired() {
		return nil
	}
	ok, err := g.store.VerifyOwnership(ctx, credential)
	if err != nil {
		return err
	}
	if !ok {
		_ = g.recorder.Emit(ctx, audit.OpOwnershipDenied, userID, resource, contracts.ResultDenied, nil)
		return fmt.Errorf("%w: credential does not match corpus owner", corpuserr.ErrOwnershipDenied)
	}
	return g.recorder.Emit(ctx, audit.OpOwnershipVerified, userID, resource, contracts.ResultSuccess, nil)
}

// checkPolicy runs only the write-policy half of the gate. System-initiated
// writes (job handlers) use it; their enqueue already verified ownership.
func (g *gate) checkPolicy(ctx context.Context, userID, operation, resource string) error {
	pol, err := policy.Get()
	if err != nil {
		return err
	}
	if err := pol.CheckWrite(); err != nil {
		_ = g.recorder.Emit(ctx, audit.OpPolicyDenied, userID, resource, contracts.ResultDenied,
			map[string]any{"operation": operation})
		return err
	}
	return nil
}
