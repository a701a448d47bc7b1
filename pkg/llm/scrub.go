package llm

import "regexp"

// credentialPatterns match secrets that must never reach logs or clients.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret)\s*[=:]\s*\S+`),
}

// Scrub removes credential material from provider error text before it is
// logged. Only the error class is ever propagated to callers.
func Scrub(msg string) string {
	for _, re := range credentialPatterns {
		msg = re.ReplaceAllString(msg, "[SCRUBBED]")
	}
	return msg
}
