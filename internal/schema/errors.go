package schema

import (
	"errors"
	"fmt"
)

var ErrInvalidRecord = errors.New("invalid record")

// FieldError names the offending field and what was expected there.
type FieldError struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid record: expected %s, got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("invalid record: field %q: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

func (e *FieldError) Unwrap() error { return ErrInvalidRecord }
