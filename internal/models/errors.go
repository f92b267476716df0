package models

import (
	"errors"
	"fmt"
)

// Rejection reasons for malformed records.
var (
	ErrMalformed     = errors.New("malformed payload")
	ErrMissingField  = errors.New("missing field")
	ErrNullValue     = errors.New("null or empty value")
	ErrType          = errors.New("type error")
	ErrInvalidValue  = errors.New("invalid value")
	ErrUnknownKind   = errors.New("unknown record kind")
	ErrSnapshotShape = errors.New("unexpected snapshot shape")
)

// ValidationError describes why a single record was rejected.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s record: %v", e.Kind, e.Reason)
	if e.Field != "" {
		msg += " for " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap lets errors.Is match the rejection reason.
func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// Reject builds a ValidationError.
func Reject(kind Kind, field string, reason error, detail string) error {
	return &ValidationError{Kind: kind, Field: field, Reason: reason, Detail: detail}
}

// ReasonLabel returns a short metric label for a rejection.
func ReasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrNullValue):
		return "null_value"
	case errors.Is(err, ErrType):
		return "type_error"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	default:
		return "other"
	}
}
