package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/policy"
)

func TestDefaultPolicy(t *testing.T) {
	t.Cleanup(policy.Reset)
	policy.Reset()

	p, err := policy.Get()
	require.NoError(t, err)
	assert.True(t, p.AppendOnly)
	assert.True(t, p.OwnershipRequired())
	assert.NoError(t, p.CheckWrite())
	assert.NoError(t, p.CheckEgress("local"))
	assert.ErrorIs(t, p.CheckEgress("s3://somewhere"), corpuserr.ErrPolicyDenied)
}

func TestLoadFromFile(t *testing.T) {
	t.Cleanup(policy.Reset)
	policy.Reset()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
append_only: true
retention_days: 30
ownership: optional
pii:
  filter_on_export: false
egress:
  allowed_destinations: [local, archive]
`), 0o600))
	policy.SetPath(path)

	p, err := policy.Get()
	require.NoError(t, err)
	assert.Equal(t, 30, p.RetentionDays)
	assert.False(t, p.OwnershipRequired())
	assert.False(t, p.PII.FilterOnExport)
	assert.NoError(t, p.CheckEgress("archive"))
}

func TestVersionIsStableAndContentBound(t *testing.T) {
	t.Cleanup(policy.Reset)
	policy.Reset()

	a := policy.Default()
	v1, err := a.Version()
	require.NoError(t, err)
	v2, err := a.Version()
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	b := policy.Default()
	b.RetentionDays = 7
	v3, err := b.Version()
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestRedactor(t *testing.T) {
	p := policy.Default()
	r := policy.NewRedactor(p)
	require.True(t, r.Active())

	in := "reach dr.smith@clinic.example or +1 555 123 4567, SSN 123-45-6789, notes at https://emr.example/x"
	out := r.Redact(in)
	assert.NotContains(t, out, "dr.smith@clinic.example")
	assert.NotContains(t, out, "123-45-6789")
	assert.NotContains(t, out, "https://emr.example/x")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactorDisabled(t *testing.T) {
	p := policy.Default()
	p.PII.FilterOnExport = false
	r := policy.NewRedactor(p)
	assert.False(t, r.Active())
	assert.Equal(t, "a@b.com", r.Redact("a@b.com"))
}

func TestCheckWriteWithAppendOnlyDisabled(t *testing.T) {
	p := policy.Default()
	p.AppendOnly = false
	assert.ErrorIs(t, p.CheckWrite(), corpuserr.ErrPolicyDenied)
}
