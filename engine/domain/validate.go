package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns match statement syntax, not bare keywords: legal
// questions routinely say "set aside", "drop charges" or "delete from".
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|INSERT|UPDATE|ALTER|SELECT)\b`),
	regexp.MustCompile(`(?i)\b(DROP|ALTER|TRUNCATE)\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

const (
	MinQuestionLength = 3
	MaxQuestionLength = 4000
	MaxTopK           = 50
)

// ValidateQuestion validates a free-text research question.
func ValidateQuestion(question string) error {
	text := strings.TrimSpace(question)
	if text == "" {
		return NewValidationError("question", text, ErrEmptyText)
	}

	n := utf8.RuneCountInString(text)
	if n < MinQuestionLength {
		return NewValidationError("question", text, ErrQueryTooShort)
	}
	if n > MaxQuestionLength {
		return NewValidationError("question", fmt.Sprintf("%d runes", n), ErrQueryTooLong)
	}

	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("question", text, ErrQueryInjection)
		}
	}
	return nil
}

// ValidateTopK rejects result counts outside [1, MaxTopK].
func ValidateTopK(k int) error {
	if k < 1 || k > MaxTopK {
		return NewValidationError("top_k", fmt.Sprintf("%d", k), ErrInvalidTopK)
	}
	return nil
}

// ValidateDocument checks a Document before ingestion.
func ValidateDocument(doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return NewValidationError("id", doc.ID, ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return NewValidationError("text", doc.ID, ErrEmptyText)
	}
	return nil
}
