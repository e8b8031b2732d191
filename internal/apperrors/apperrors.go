// Package apperrors defines the error kinds the broker reports to callers and
// their mapping onto HTTP status codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the request boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindIdentityUnavailable
	KindTokenInvalid
	KindTokenExpired
	KindStateMismatch
	KindCodeInvalid
	KindRedirectMismatch
	KindQuotaExceeded
	KindUnauthorized
	KindForbidden
	KindNotFoundMasked
)

var kindInfo = map[Kind]struct {
	status int
	code   string
}{
	KindInternal:            {http.StatusInternalServerError, "internal_error"},
	KindInvalid:             {http.StatusBadRequest, "invalid_request"},
	KindIdentityUnavailable: {http.StatusBadRequest, "identity_unavailable"},
	KindTokenInvalid:        {http.StatusUnauthorized, "invalid_token"},
	KindTokenExpired:        {http.StatusUnauthorized, "token_expired"},
	KindStateMismatch:       {http.StatusBadRequest, "state_mismatch"},
	KindCodeInvalid:         {http.StatusBadRequest, "invalid_code"},
	KindRedirectMismatch:    {http.StatusBadRequest, "redirect_mismatch"},
	KindQuotaExceeded:       {http.StatusBadRequest, "quota_exceeded"},
	KindUnauthorized:        {http.StatusUnauthorized, "unauthorized"},
	KindForbidden:           {http.StatusForbidden, "forbidden"},
	KindNotFoundMasked:      {http.StatusNotFound, "not_found"},
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable error code for the kind.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return "internal_error"
}

func (k Kind) String() string { return k.Code() }

// Error is an error with a kind and a client-safe message. Err holds the
// underlying cause for logs; it is never sent to the client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinel values can be
// compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As returns the *Error in err's chain. Errors without one are reported as
// internal errors wrapping err.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(KindInternal, "internal server error", err)
}

// KindOf returns the kind of err, KindInternal when it carries none.
func KindOf(err error) Kind {
	return As(err).Kind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
