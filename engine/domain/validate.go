package domain

import (
	"strings"
	"unicode/utf8"
)

// MinQueryLength is the minimum number of runes in a trimmed query.
const MinQueryLength = 3

// ValidateQuery checks a free-text search query.
func ValidateQuery(query string) error {
	text := strings.TrimSpace(query)
	if text == "" {
		return NewValidationError("query", query, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) < MinQueryLength {
		return NewValidationError("query", query, ErrQueryTooShort)
	}
	return nil
}
