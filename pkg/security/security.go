// Package security provides validation, sanitization, and limits for the
// pipeline.
package security

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/augurhq/augur/pkg/core"
)

// Limits.
const (
	// MaxQueryLength is the maximum length in bytes for query text (64KB)
	MaxQueryLength = 1 << 16

	// MaxContextEntries is the maximum number of context pairs per query
	MaxContextEntries = 64

	// MaxJobIDLength is the maximum length for caller-supplied job ids
	MaxJobIDLength = 64

	// MaxCallbackURLLength is the maximum length for callback URLs
	MaxCallbackURLLength = 2048

	// MaxAttempts is the hard limit for per-job attempt ceilings
	MaxAttempts = 25

	// MaxConcurrency is the hard limit for worker pool size
	MaxConcurrency = 256

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// ValidateCallbackURL checks that a callback URL is absolute, http or https,
// and within length limits. An empty URL is valid (no webhook).
func ValidateCallbackURL(raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > MaxCallbackURLLength {
		return core.ErrInvalidCallbackURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return core.ErrInvalidCallbackURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.ErrInvalidCallbackURL
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts ensures an attempt ceiling is within limits
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
