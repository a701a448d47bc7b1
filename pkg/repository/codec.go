// Package repository mediates all entity access to the corpus store. Each
// repository owns one logical entity type and exposes create, read and list
// operations; update and delete are absent by policy.
//
// Complex attribute serialization lives here and only here: any non-primitive
// value is JSON-encoded on write and symmetrically decoded on read, so a
// nested mapping never comes back as a string.
package repository

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/corpus/pkg/corpus"
)

// EncodeAttr serializes an attribute value for storage. Mappings, sequences
// and nil become JSON; strings and numbers pass through.
func EncodeAttr(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("repository: encode attr: %w", err)
	}
	return string(b), nil
}

// DecodeAttr is the symmetric inverse of EncodeAttr. JSON content is
// detected by its leading byte; malformed JSON falls back to the raw string.
// The read path never fails on decode.
func DecodeAttr(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if trimmed == "null" {
		return nil
	}
	switch trimmed[0] {
	case '{', '[', '"':
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}

// DecodeAttrMap decodes an attribute expected to hold a mapping. Anything
// else (including malformed JSON) yields nil.
func DecodeAttrMap(s string) map[string]any {
	if m, ok := DecodeAttr(s).(map[string]any); ok {
		return m
	}
	return nil
}

func jsonUnmarshal(s string, v any) error {
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("repository: decode: %w", err)
	}
	return nil
}

// formatTime uses the store's fixed-width layout so SQL string comparison
// over timestamps is chronological.
func formatTime(t time.Time) string {
	return t.UTC().Format(corpus.TimeLayout)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
