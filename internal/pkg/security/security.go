// Package security guards untrusted input: training data files and
// utterances that end up in logs.
package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxTrainingDataSize bounds a training data file read into memory.
	MaxTrainingDataSize = 32 << 20

	// MaxUtteranceLength bounds a single utterance in bytes.
	MaxUtteranceLength = 4096
)

// ContentError represents a content validation error.
type ContentError struct {
	Reason string
	Size   int
	Max    int
}

func (e *ContentError) Error() string {
	if e.Size > 0 && e.Max > 0 {
		return fmt.Sprintf("%s (size: %s, max: %s)", e.Reason, formatSize(e.Size), formatSize(e.Max))
	}
	return e.Reason
}

// ValidateContent checks that data is text of at most maxSize bytes: valid
// UTF-8 and not binary.
func ValidateContent(data []byte, maxSize int) error {
	if len(data) > maxSize {
		return &ContentError{
			Reason: "content exceeds maximum size",
			Size:   len(data),
			Max:    maxSize,
		}
	}
	if isBinary(data) {
		return &ContentError{Reason: "content appears to be binary"}
	}
	if !utf8.Valid(data) {
		return &ContentError{Reason: "content is not valid UTF-8"}
	}
	return nil
}

// ValidateUtterance checks an utterance submitted for classification.
func ValidateUtterance(s string) error {
	if strings.TrimSpace(s) == "" {
		return &ContentError{Reason: "utterance is empty"}
	}
	if len(s) > MaxUtteranceLength {
		return &ContentError{
			Reason: "utterance exceeds maximum length",
			Size:   len(s),
			Max:    MaxUtteranceLength,
		}
	}
	if !utf8.ValidString(s) {
		return &ContentError{Reason: "utterance is not valid UTF-8"}
	}
	return nil
}

// SanitizeForLog makes user text safe to log: newlines, carriage returns
// and tabs are escaped, other control characters dropped, and the result
// truncated to 200 characters.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, 200)
}

// SanitizeForLogWithLength sanitizes a string for logging with a custom max length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString("\\n")
			count += 2
		case '\r':
			b.WriteString("\\r")
			count += 2
		case '\t':
			b.WriteString("\\t")
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}

// isBinary inspects the first 8KB: a few NUL bytes or more than 10%
// non-whitespace control bytes mark the data as binary.
func isBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sample := data[:min(len(data), 8192)]

	nullCount := 0
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			nullCount++
			if nullCount > 3 {
				return true
			}
		} else if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}

	return float64(nonPrintable)/float64(len(sample)) > 0.1
}

// formatSize formats a byte size as human-readable.
func formatSize(bytes int) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}
	return fmt.Sprintf("%.1f%s", float64(bytes)/float64(div), units[exp])
}
