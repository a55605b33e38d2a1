package bootlog

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Mask replaces redacted content.
const Mask = "[REDACTED]"

var assignmentPattern = regexp.MustCompile(`(?i)(password|passwd|pwd|token|secret)(\s*[:=]\s*)["']?([^"'\s&]+)["']?`)

// Package hashes (ab3x9z2-00123456) and long hex digests.
var hashPattern = regexp.MustCompile(`\b(?:[a-z0-9]{7}-[0-9]{8}|[0-9a-fA-F]{32,})\b`)

// minLiteral is the shortest secret masked wherever it occurs. Shorter ones
// are masked only when they stand alone.
const minLiteral = 3

const wordBounds = `\s"'=:,;()\[\]`

// Redactor masks registered secrets, hash-like tokens and key=value
// assignments of sensitive keys.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
	short   []*regexp.Regexp
}

// Add registers a literal secret.
func (r *Redactor) Add(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(secret) < minLiteral {
		r.short = append(r.short, regexp.MustCompile(
			`(^|[`+wordBounds+`])`+regexp.QuoteMeta(secret)+`($|[`+wordBounds+`&])`))
		return
	}
	for _, s := range r.secrets {
		if s == secret {
			return
		}
	}
	r.secrets = append(r.secrets, secret)
	// Longest first so overlapping secrets are fully masked.
	sort.Slice(r.secrets, func(i, j int) bool { return len(r.secrets[i]) > len(r.secrets[j]) })
}

// RedactString returns s with every secret masked.
func (r *Redactor) RedactString(s string) string {
	r.mu.RLock()
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, Mask)
	}
	for _, re := range r.short {
		// Twice, since adjacent matches share a delimiter.
		for range 2 {
			s = re.ReplaceAllString(s, "${1}"+Mask+"${2}")
		}
	}
	r.mu.RUnlock()
	s = hashPattern.ReplaceAllString(s, Mask)
	return assignmentPattern.ReplaceAllString(s, "$1$2"+Mask)
}

var sensitiveKeys = []string{"password", "token", "secret", "authorization"}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(k, sk) {
			return true
		}
	}
	return false
}
