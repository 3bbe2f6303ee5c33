// Package validation applies per-document-kind structural rules to extracted fields.
package validation

import "fmt"

// UnknownKindError is returned when no rule set exists for a document kind.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("validation error: no rules for document kind %q", e.Kind)
}
