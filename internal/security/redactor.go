// Package security scrubs secrets out of log output and API payloads.
package security

import (
	"regexp"
	"strings"
	"sync"
)

// ServiceRedactor is the service registry name of the process Redactor.
// Modules that load credentials register them through AddLiteral.
const ServiceRedactor = "security.redactor"

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches map keys that likely contain secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|key|api_key|credential|dsn)`)

// Redactor replaces secret values in strings and maps with a redaction placeholder.
// Known key formats are matched by regex; credentials loaded at runtime
// are matched literally. All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor pre-loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: DefaultPatterns(),
	}
}

// AddPattern adds a compiled regex pattern to the redactor.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral adds a literal secret value that should be redacted on sight.
// Empty strings and values already known are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lit := range r.literals {
		if lit == secret {
			return
		}
	}
	r.literals = append(r.literals, secret)
}

// Redact replaces all known secret patterns and literal values in s
// with RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	// Literals first: a configured key may also match a pattern, and the
	// literal covers the whole value.
	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}

// RedactMap walks a map and replaces values whose keys look like secrets.
// Used when echoing module configuration back to the operator.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			if s, ok := v.(string); ok && s != "" {
				m[k] = RedactPlaceholder
				continue
			}
		}
		switch val := v.(type) {
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok {
					r.RedactMap(sub)
				}
			}
		case string:
			if redacted := r.Redact(val); redacted != val {
				m[k] = redacted
			}
		}
	}
}

// DefaultPatterns returns compiled regex patterns for the model provider
// key formats insightd may be configured with.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Google API key (Gemini)
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		// OpenAI: sk-... (at least 20 chars after prefix)
		regexp.MustCompile(`sk-[a-zA-Z0-9\-_]{20,}`),
		// Authorization headers echoed in errors
		regexp.MustCompile(`(?i)bearer [a-zA-Z0-9\-_.=]{16,}`),
	}
}
