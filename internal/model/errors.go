package model

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies a relay failure.
type FailureKind string

// Failure kinds. Caller-input kinds map to 400, upstream kinds to 502.
const (
	KindMissingParameter         FailureKind = "missing_parameter"
	KindInvalidURL               FailureKind = "invalid_url"
	KindInvalidProxy             FailureKind = "invalid_proxy"
	KindInvalidProxyIndex        FailureKind = "invalid_proxy_index"
	KindEmptyPool                FailureKind = "empty_pool"
	KindProxyNotFound            FailureKind = "proxy_not_found"
	KindInvalidUserAgent         FailureKind = "invalid_user_agent"
	KindUpstreamTimeout          FailureKind = "upstream_timeout"
	KindUpstreamConnectionFailed FailureKind = "upstream_connection_failed"
	KindUpstreamBodyTooLarge     FailureKind = "upstream_body_too_large"
	KindClientCanceled           FailureKind = "client_canceled"
)

// IsClientError reports whether the kind is caused by caller input.
func (k FailureKind) IsClientError() bool {
	switch k {
	case KindMissingParameter, KindInvalidURL, KindInvalidProxy,
		KindInvalidProxyIndex, KindEmptyPool, KindProxyNotFound, KindInvalidUserAgent:
		return true
	}
	return false
}

// StatusCode returns the outbound HTTP status for the kind.
func (k FailureKind) StatusCode() int {
	if k.IsClientError() {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// Sentinel errors for errors.Is; any *RelayError of the same kind matches.
var (
	ErrMissingParameter         = &RelayError{Kind: KindMissingParameter}
	ErrInvalidURL               = &RelayError{Kind: KindInvalidURL}
	ErrInvalidProxy             = &RelayError{Kind: KindInvalidProxy}
	ErrInvalidProxyIndex        = &RelayError{Kind: KindInvalidProxyIndex}
	ErrEmptyPool                = &RelayError{Kind: KindEmptyPool}
	ErrProxyNotFound            = &RelayError{Kind: KindProxyNotFound}
	ErrInvalidUserAgent         = &RelayError{Kind: KindInvalidUserAgent}
	ErrUpstreamTimeout          = &RelayError{Kind: KindUpstreamTimeout}
	ErrUpstreamConnectionFailed = &RelayError{Kind: KindUpstreamConnectionFailed}
	ErrUpstreamBodyTooLarge     = &RelayError{Kind: KindUpstreamBodyTooLarge}
	ErrClientCanceled           = &RelayError{Kind: KindClientCanceled}
)

// RelayError is a classified relay failure carrying a readable message.
type RelayError struct {
	Kind    FailureKind
	Message string
	Err     error
}

// Fail returns a RelayError with a formatted message.
func Fail(kind FailureKind, format string, args ...any) *RelayError {
	return &RelayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind.
func Wrap(kind FailureKind, msg string, err error) *RelayError {
	return &RelayError{Kind: kind, Message: msg, Err: err}
}

func (e *RelayError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RelayError) Unwrap() error { return e.Err }

// Is matches any RelayError of the same kind.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the failure kind of err, or the empty kind if err is not a
// RelayError.
func KindOf(err error) FailureKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
