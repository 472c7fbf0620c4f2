// Package obslog wraps log/slog with the PII-redaction pass the gateway
// applies before any user-originated text (transcripts, tool arguments,
// free-form conversation content) reaches a log line.
package obslog

import (
	"log/slog"
	"os"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns in free-form text before
// it is logged or otherwise persisted.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// New builds the process-wide structured logger: JSON to stdout, with a
// ReplaceAttr hook that redacts any attribute value carrying user text
// (keyed "text", "transcript", "content", or "utterance") before it's
// written.
func New(level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	})
	return slog.New(h)
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case "text", "transcript", "content", "utterance":
		if s, ok := a.Value.Any().(string); ok {
			redacted, _ := RedactPII(s)
			a.Value = slog.StringValue(redacted)
		}
	}
	return a
}

// WithSession returns a logger with the session id attached, for log lines
// scoped to one session's lifecycle (e.g. its expiry-persistence path).
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String("session_id", sessionID))
}
