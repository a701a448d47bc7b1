package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// manifestSchema constrains the manifest document shape. Verification fails
// before any hashing if the manifest itself is malformed.
const manifestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["export_id", "corpus_id", "created_at", "selectors", "artifacts", "policy_version"],
	"properties": {
		"export_id": {"type": "string", "pattern": "^exp-[0-9a-f]{16}$"},
		"corpus_id": {"type": "string", "minLength": 1},
		"created_at": {"type": "string", "minLength": 1},
		"selectors": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"artifacts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["path", "sha256", "size"],
				"properties": {
					"path": {"type": "string", "minLength": 1},
					"sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
					"size": {"type": "integer", "minimum": 0}
				}
			}
		},
		"policy_version": {"type": "string", "minLength": 1}
	}
}`

var compiledManifestSchema = jsonschema.MustCompileString("manifest.schema.json", manifestSchema)

// Mismatch reports one artifact whose bytes no longer match the manifest.
type Mismatch struct {
	Artifact string `json:"artifact"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerifyReport is the outcome of bundle verification.
type VerifyReport struct {
	ExportID       string     `json:"export_id"`
	SignatureValid bool       `json:"signature_valid"`
	Mismatches     []Mismatch `json:"mismatches,omitempty"`
}

// OK reports whether the bundle is intact.
func (r *VerifyReport) OK() bool { return r.SignatureValid && len(r.Mismatches) == 0 }

// Verify re-validates a bundle on disk: manifest schema, manifest signature,
// then every artifact hash. All mismatches are collected, not just the first.
func Verify(dir string, signingKey []byte) (*VerifyReport, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: bundle %s has no manifest", corpuserr.ErrNotFound, dir)
		}
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(manifestBytes, &doc); err != nil {
		return nil, fmt.Errorf("%w: manifest is not JSON: %v", corpuserr.ErrIntegrity, err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: manifest schema: %v", corpuserr.ErrIntegrity, err)
	}

	var manifest struct {
		ExportID  string `json:"export_id"`
		Artifacts []struct {
			Path   string `json:"path"`
			SHA256 string `json:"sha256"`
			Size   int64  `json:"size"`
		} `json:"artifacts"`
	}
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, err
	}

	report := &VerifyReport{ExportID: manifest.ExportID}

	sigBytes, err := os.ReadFile(filepath.Join(dir, "manifest.sig"))
	if err != nil {
		return nil, fmt.Errorf("%w: bundle %s has no signature", corpuserr.ErrNotFound, dir)
	}
	signature := string(bytes.TrimSpace(sigBytes))
	report.SignatureValid = VerifySignature(manifestBytes, signature, signingKey) == nil

	for _, a := range manifest.Artifacts {
		data, err := os.ReadFile(filepath.Join(dir, a.Path))
		if err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Artifact: a.Path, Expected: a.SHA256, Actual: "missing",
			})
			continue
		}
		sum := sha256.Sum256(data)
		actual := hex.EncodeToString(sum[:])
		if actual != a.SHA256 {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Artifact: a.Path, Expected: a.SHA256, Actual: actual,
			})
		}
	}
	return report, nil
}
