// Package apperr defines the error taxonomy shared by the domain packages and
// the HTTP layer. Every domain failure is an *Error carrying a Kind and a
// stable machine-readable code.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies an error for propagation and transport mapping.
type Kind uint8

const (
	// KindUnknown is never assigned explicitly; KindOf reports unclassified
	// errors as KindPersistence.
	KindUnknown Kind = iota
	// KindValidation marks malformed or missing input.
	KindValidation
	// KindNotFound marks an unknown order, coupon or product.
	KindNotFound
	// KindConflict marks a state conflict such as an exhausted coupon.
	KindConflict
	// KindSignature marks a webhook authenticity failure.
	KindSignature
	// KindPersistence marks storage failures. Safe to retry.
	KindPersistence
	// KindGateway marks a failed payment provider call.
	KindGateway
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindValidation:  "validation",
	KindNotFound:    "not_found",
	KindConflict:    "conflict",
	KindSignature:   "signature",
	KindPersistence: "persistence",
	KindGateway:     "gateway",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same kind and code, so that
// sentinel values match copies produced by With.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// With returns a copy of e wrapping cause.
func (e *Error) With(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// Withf returns a copy of e with a formatted message.
func (e *Error) Withf(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Validation creates a KindValidation error.
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// NotFound creates a KindNotFound error.
func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Conflict creates a KindConflict error.
func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// Signature creates a KindSignature error wrapping cause.
func Signature(cause error) *Error {
	return &Error{Kind: KindSignature, Code: "invalid_signature", Message: "webhook signature verification failed", Err: cause}
}

// Persistence wraps a storage failure for the named operation.
func Persistence(op string, cause error) *Error {
	return &Error{Kind: KindPersistence, Code: "persistence_error", Message: op, Err: cause}
}

// Gateway wraps a payment provider failure for the named operation.
func Gateway(op string, cause error) *Error {
	return &Error{Kind: KindGateway, Code: "gateway_error", Message: op, Err: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain. Errors
// without classification are treated as persistence failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// CodeOf returns the stable code of err, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// Retryable reports whether the failure leaves no partial state and may be
// retried by the caller.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPersistence, KindGateway:
		return true
	default:
		return false
	}
}

// Classify returns err unchanged when it is already classified and wraps it
// as a persistence failure of op otherwise.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Persistence(op, err)
}
