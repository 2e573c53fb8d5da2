package types

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindKite ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindRouting
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindRouting:
		return "routing"
	default:
		return "kite"
	}
}

// Code is the HTTP status code reported to the origin for this kind.
func (k ErrorKind) Code() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRouting:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type KiteError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *KiteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *KiteError) Unwrap() error {
	return e.Err
}

// Is matches another *KiteError of the same kind, so errors.Is(err,
// &KiteError{Kind: KindConflict}) works without comparing messages.
func (e *KiteError) Is(target error) bool {
	t, ok := target.(*KiteError)
	return ok && t.Message == "" && t.Kind == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *KiteError {
	return &KiteError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *KiteError {
	return newError(KindValidation, format, args...)
}

func Conflictf(format string, args ...any) *KiteError {
	return newError(KindConflict, format, args...)
}

func NotFoundf(format string, args ...any) *KiteError {
	return newError(KindNotFound, format, args...)
}

func Routingf(format string, args ...any) *KiteError {
	return newError(KindRouting, format, args...)
}

func Kitef(format string, args ...any) *KiteError {
	return newError(KindKite, format, args...)
}

// WrapRouting reports a failed provider send.
func WrapRouting(err error, format string, args ...any) *KiteError {
	ke := newError(KindRouting, format, args...)
	ke.Err = err
	return ke
}

func AsKiteError(err error) (*KiteError, bool) {
	var ke *KiteError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

func KindOf(err error) ErrorKind {
	if ke, ok := AsKiteError(err); ok {
		return ke.Kind
	}
	return KindKite
}

func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return err != nil && KindOf(err) == KindConflict }
func IsNotFound(err error) bool   { return err != nil && KindOf(err) == KindNotFound }
func IsRouting(err error) bool    { return err != nil && KindOf(err) == KindRouting }
