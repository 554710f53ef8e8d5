package services

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindUnauthenticated   Kind = "unauthenticated"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidState      Kind = "invalid_state"
	KindInvalidAmount     Kind = "invalid_amount"
	KindOutOfStock        Kind = "out_of_stock"
	KindSelfBarter        Kind = "self_barter"
	KindInternal          Kind = "internal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the caller-visible failure of an engine operation. Message never
// names parties other than the caller.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, strings.Join(parts, "; "))
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ErrValidation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "request is invalid", Fields: fields}
}

func ErrUnauthorized(action string) *Error {
	return newError(KindUnauthorized, "not allowed to %s", action)
}

func ErrNotFound(entity string) *Error {
	return newError(KindNotFound, "%s not found", entity)
}

func ErrConflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func ErrInvalidTransition(from, to any) *Error {
	return newError(KindInvalidTransition, "cannot move from %v to %v", from, to)
}

func ErrInvalidState(format string, args ...any) *Error {
	return newError(KindInvalidState, format, args...)
}

func ErrInvalidAmount(format string, args ...any) *Error {
	return newError(KindInvalidAmount, format, args...)
}

func ErrOutOfStock(productID string) *Error {
	return newError(KindOutOfStock, "product %s does not have enough stock", productID)
}

func ErrSelfBarter() *Error {
	return newError(KindSelfBarter, "cannot barter with yourself")
}

func errInternal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}
