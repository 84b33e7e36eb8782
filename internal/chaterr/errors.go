// Package chaterr defines the error taxonomy shared by the chat services.
package chaterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorization
	KindValidation
	KindPermission
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names are internal.
func ParseKind(name string) Kind {
	for k := KindInternal; k <= KindTransient; k++ {
		if k.String() == name {
			return k
		}
	}
	return KindInternal
}

// New builds an error of an explicit kind, typically decoded from the wire.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Error is a classified chat error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, chaterr.ErrPermission) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrPermission    = &Error{Kind: KindPermission}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrTransient     = &Error{Kind: KindTransient}
)

// Authorization reports that the caller is not a member of the channel.
// The message must not reveal whether the channel exists.
func Authorization(format string, args ...interface{}) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Permission(format string, args ...interface{}) error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a network level failure that the caller may recover from.
func Transient(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// Internal wraps an unexpected failure, typically from storage.
func Internal(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Terminal reports whether err must be surfaced verbatim and never retried.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindAuthorization, KindPermission, KindValidation, KindNotFound:
		return true
	}
	return false
}
