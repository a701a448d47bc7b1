package policy

import (
	"regexp"
)

// piiPatterns are the built-in regex families. Their names are part of the
// policy content hash, so a manifest's policy_version pins the filtering a
// verifier must reproduce.
var piiPatterns = map[string]*regexp.Regexp{
	"email": regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	"phone": regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}`),
	"ssn":   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"url":   regexp.MustCompile(`https?://[^\s"']+`),
}

// Redactor applies the policy's PII families to text.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the redactor for the policy's enabled families.
// Unknown family names are ignored.
func NewRedactor(p *Policy) *Redactor {
	r := &Redactor{}
	if !p.PII.FilterOnExport {
		return r
	}
	for _, name := range p.PII.Patterns {
		if re, ok := piiPatterns[name]; ok {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

// Redact replaces every PII match with the [REDACTED] marker.
func (r *Redactor) Redact(text string) string {
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}

// Active reports whether any family is enabled.
func (r *Redactor) Active() bool { return len(r.patterns) > 0 }
