// Package errs defines the error taxonomy shared by the relay's components.
// Every error that reaches the HTTP layer is classified by Kind; nothing is
// retried on the caller's behalf.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind uint8

const (
	KindInternal Kind = iota
	KindUserRejected
	KindIdentityUnavailable
	KindValidation
	KindExchangeRejected
	KindConfiguration
	KindPersistence
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUserRejected:
		return "user_rejected"
	case KindIdentityUnavailable:
		return "identity_unavailable"
	case KindValidation:
		return "validation"
	case KindExchangeRejected:
		return "exchange_rejected"
	case KindConfiguration:
		return "configuration"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus is the status code the API layer answers with for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUserRejected:
		return http.StatusConflict
	case KindIdentityUnavailable:
		return http.StatusPreconditionFailed
	case KindValidation:
		return http.StatusBadRequest
	case KindExchangeRejected:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Kind plus the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels like ErrNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind-only sentinels for errors.Is checks.
var (
	ErrUserRejected        = &Error{Kind: KindUserRejected}
	ErrIdentityUnavailable = &Error{Kind: KindIdentityUnavailable}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrExchangeRejected    = &Error{Kind: KindExchangeRejected}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrPersistence         = &Error{Kind: KindPersistence}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

func E(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Classified is implemented by error types outside this package that carry a Kind.
type Classified interface {
	error
	ErrKind() Kind
}

// KindOf reports the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Kind
		case Classified:
			return e.ErrKind()
		}
		err = errors.Unwrap(err)
	}
	return KindInternal
}
