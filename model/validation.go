package model

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports malformed create or patch input together with the
// offending field names, so a caller can correct the request
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s (fields: %s)", e.Reason, strings.Join(e.Fields, ", "))
}

// ValidateCreate checks a create input against the type catalog. It returns
// nil when the type is known and all required attributes are present and
// non-empty.
func ValidateCreate(entityType EntityType, attributes Attributes) *ValidationError {
	if !KnownEntityType(entityType) {
		return &ValidationError{
			Fields: []string{"entity_type"},
			Reason: fmt.Sprintf("unknown entity type %q", entityType),
		}
	}

	var missing []string
	for _, field := range RequiredFields(entityType) {
		value, ok := attributes[field]
		if !ok || value == nil || value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{
			Fields: missing,
			Reason: "missing required attributes",
		}
	}

	return nil
}
