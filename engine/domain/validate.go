package domain

import "strings"

// MaxQueryChars bounds free-text query length. Anything longer is rejected
// before any downstream work happens.
const MaxQueryChars = 500

// ValidateQuery checks a raw user query and returns it trimmed. Original
// casing is preserved; lowercasing is a cache-key concern, not a validation
// one.
func ValidateQuery(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", NewValidationError("query", raw, ErrEmptyQuery)
	}
	if len(trimmed) > MaxQueryChars {
		return "", NewValidationError("query", trimmed[:32]+"...", ErrQueryTooLong)
	}
	return trimmed, nil
}

// ValidateCollection checks a collection name from an operator request.
func ValidateCollection(name string) (Collection, error) {
	c := Collection(strings.ToLower(strings.TrimSpace(name)))
	if !ValidCollections[c] {
		return "", NewValidationError("collection", name, ErrUnknownCollection)
	}
	return c, nil
}
