// Package apierror defines the error type returned by every provisioner
// component and surfaced unchanged to API callers.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies an error for callers and for HTTP status mapping
type Kind string

const (
	KindNotImplemented      Kind = "NotImplemented"
	KindInternal            Kind = "Internal"
	KindUnauthorized        Kind = "Unauthorized"
	KindNotFound            Kind = "NotFound"
	KindBadRequest          Kind = "BadRequest"
	KindUnsupported         Kind = "Unsupported"
	KindDuplicate           Kind = "Duplicate"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindSerialize           Kind = "SerializeError"
	KindDeserialize         Kind = "DeserializeError"
)

// Error carries the kind plus metadata attached where the failure was detected
type Error struct {
	Kind      Kind      `json:"kind"`
	Tag       string    `json:"tag,omitempty"`
	Message   string    `json:"message,omitempty"`
	Method    string    `json:"method,omitempty"`
	Info      []string  `json:"info,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an error of the given kind stamped with the current time
func New(kind Kind) *Error {
	return &Error{Kind: kind, Timestamp: time.Now().UTC()}
}

func NotImplemented() *Error      { return New(KindNotImplemented) }
func Internal() *Error            { return New(KindInternal) }
func Unauthorized() *Error        { return New(KindUnauthorized) }
func NotFound() *Error            { return New(KindNotFound) }
func BadRequest() *Error          { return New(KindBadRequest) }
func Unsupported() *Error         { return New(KindUnsupported) }
func Duplicate() *Error           { return New(KindDuplicate) }
func InsufficientBalance() *Error { return New(KindInsufficientBalance) }
func Serialize() *Error           { return New(KindSerialize) }
func Deserialize() *Error         { return New(KindDeserialize) }

// WithMessage returns a copy of e with the message set
func (e *Error) WithMessage(message string) *Error {
	c := e.clone()
	c.Message = message
	return c
}

// WithMessagef is WithMessage with formatting
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithTag returns a copy of e with the tag set
func (e *Error) WithTag(tag string) *Error {
	c := e.clone()
	c.Tag = tag
	return c
}

// WithMethod returns a copy of e recording the operation that failed
func (e *Error) WithMethod(method string) *Error {
	c := e.clone()
	c.Method = method
	return c
}

// WithInfo returns a copy of e with one more context tag appended
func (e *Error) WithInfo(info string) *Error {
	c := e.clone()
	c.Info = append(c.Info, info)
	return c
}

func (e *Error) clone() *Error {
	c := *e
	if e.Info != nil {
		c.Info = append([]string(nil), e.Info...)
	}
	return &c
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Method != "" {
		fmt.Fprintf(&b, " in %s", e.Method)
	}
	if e.Tag != "" {
		fmt.Fprintf(&b, " [%s]", e.Tag)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if len(e.Info) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Info, ", "))
	}
	return b.String()
}

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, apierror.NotFound()).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// From converts any error into an *Error, wrapping foreign errors as Internal
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal().WithMessage(err.Error())
}

// HTTPStatus maps a kind to the status code the API responds with
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindDeserialize:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindDuplicate:
		return http.StatusConflict
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindUnsupported:
		return http.StatusUnsupportedMediaType
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
