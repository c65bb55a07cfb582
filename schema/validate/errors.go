package validate

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateError reports two top-level declarations of the same kind
// sharing a name.
type DuplicateError struct {
	Kind string // "model", "enum", "type" or "view"
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("lode/schema: duplicate %s %q", e.Kind, e.Name)
}

// UnknownTypeError reports a field whose type name resolves to nothing.
type UnknownTypeError struct {
	Model    string
	Field    string
	TypeName string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("lode/schema: %s.%s references unknown type %q", e.Model, e.Field, e.TypeName)
}

// MissingIDError reports a model without an @id field or @@id block.
type MissingIDError struct {
	Model string
}

func (e *MissingIDError) Error() string {
	return fmt.Sprintf("lode/schema: model %q has no primary key (@id or @@id)", e.Model)
}

// AttributeError reports an attribute used on an incompatible field.
type AttributeError struct {
	Model     string
	Field     string
	Attribute string
	Reason    string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("lode/schema: %s.%s: @%s %s", e.Model, e.Field, e.Attribute, e.Reason)
}

// RelationError reports an unresolvable or ambiguous relation.
type RelationError struct {
	Model  string
	Field  string
	Reason string
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("lode/schema: relation %s.%s: %s", e.Model, e.Field, e.Reason)
}

// ErrorList accumulates validation errors so a run reports the whole
// batch instead of failing on the first.
type ErrorList struct {
	Errors []error
}

func (e *ErrorList) Error() string {
	switch len(e.Errors) {
	case 0:
		return "lode/schema: no errors"
	case 1:
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "lode/schema: %d validation errors:", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ErrorList) Unwrap() []error { return e.Errors }

// AsErrorList returns the ErrorList wrapped in err, if any.
func AsErrorList(err error) (*ErrorList, bool) {
	var list *ErrorList
	ok := errors.As(err, &list)
	return list, ok
}
