// Package policy loads the declarative corpus policy (retention, PII
// filtering, egress, append-only rules) and enforces it ahead of every
// service-level write. The document is loaded once and cached behind a
// double-checked-locking accessor; tests reset it via Reset.
package policy

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/corpus/pkg/canonical"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// PII configures export-time redaction.
type PII struct {
	FilterOnExport bool     `yaml:"filter_on_export" json:"filter_on_export"`
	Patterns       []string `yaml:"patterns" json:"patterns"`
}

// Egress restricts where exports may be written.
type Egress struct {
	AllowedDestinations []string `yaml:"allowed_destinations" json:"allowed_destinations"`
}

// Policy is the declarative document.
type Policy struct {
	AppendOnly    bool   `yaml:"append_only" json:"append_only"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
	PII           PII    `yaml:"pii" json:"pii"`
	Egress        Egress `yaml:"egress" json:"egress"`
	Ownership     string `yaml:"ownership" json:"ownership"`
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		AppendOnly:    true,
		RetentionDays: 90,
		PII: PII{
			FilterOnExport: true,
			Patterns:       []string{"email", "phone", "ssn", "url"},
		},
		Egress:    Egress{AllowedDestinations: []string{"local"}},
		Ownership: "required",
	}
}

var (
	mu     sync.Mutex
	cached *Policy
	path   string
)

// SetPath points the accessor at a policy file. Must be called before the
// first Get; later calls have no effect until Reset.
func SetPath(p string) {
	mu.Lock()
	defer mu.Unlock()
	path = p
}

// Get returns the process-wide policy, loading it on first call.
func Get() (*Policy, error) {
	if p := loaded(); p != nil {
		return p, nil
	}
	mu.Lock()
	defer mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	p, err := load(path)
	if err != nil {
		return nil, err
	}
	cached = p
	return cached, nil
}

func loaded() *Policy {
	mu.Lock()
	defer mu.Unlock()
	return cached
}

// Reset clears the cached policy. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
	path = ""
}

func load(p string) (*Policy, error) {
	if p == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("policy: read %s: %w", p, err)
	}
	pol := Default()
	if err := yaml.Unmarshal(data, pol); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", p, err)
	}
	return pol, nil
}

// Version returns the content hash of the policy. It is embedded in export
// manifests so a verifier can reproduce the filtering.
func (p *Policy) Version() (string, error) {
	h, err := canonical.Hash(p)
	if err != nil {
		return "", err
	}
	return "policy-sha256:" + h[:16], nil
}

// CheckWrite rejects writes the policy forbids. Called by services before
// any store mutation; the write rule is corpus-wide, so the gate supplies
// the refused operation in its own audit metadata.
func (p *Policy) CheckWrite() error {
	if !p.AppendOnly {
		return fmt.Errorf("%w: append_only policy disabled; writes refused", corpuserr.ErrPolicyDenied)
	}
	return nil
}

// CheckEgress rejects export destinations the policy does not allow.
func (p *Policy) CheckEgress(destination string) error {
	for _, d := range p.Egress.AllowedDestinations {
		if d == destination {
			return nil
		}
	}
	return fmt.Errorf("%w: egress to %q not allowed", corpuserr.ErrPolicyDenied, destination)
}

// OwnershipRequired reports whether writes must verify ownership identity.
func (p *Policy) OwnershipRequired() bool {
	return p.Ownership == "required"
}
