package datasource

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound        = errors.New("data source not found")
	ErrUnsupportedType = errors.New("unsupported data source type")
	ErrConfiguration   = errors.New("invalid data source configuration")
	ErrValidation      = errors.New("invalid request")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrProtocol        = errors.New("protocol error")
)

// Error is a classified direct query error. Error() is exactly Message so
// callers can relay it to users unchanged.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// NotFound reports an unknown data source.
func NotFound(name string) *Error {
	return newError(ErrNotFound, nil, "Data source does not exist: %s", name)
}

// UnsupportedType reports a connector type nothing is registered for.
func UnsupportedType(format string, args ...any) *Error {
	return newError(ErrUnsupportedType, nil, format, args...)
}

// Configuration reports a bad or missing data source property.
func Configuration(format string, args ...any) *Error {
	return newError(ErrConfiguration, nil, format, args...)
}

// ConfigurationWrap is Configuration with an underlying cause.
func ConfigurationWrap(cause error, format string, args ...any) *Error {
	return newError(ErrConfiguration, cause, format, args...)
}

// Validation reports a request missing fields required for its mode.
func Validation(format string, args ...any) *Error {
	return newError(ErrValidation, nil, format, args...)
}

// InvalidArgument reports a resource request the handler cannot serve.
func InvalidArgument(format string, args ...any) *Error {
	return newError(ErrInvalidArgument, nil, format, args...)
}

// Protocol reports a backend failure with a verbatim message.
func Protocol(message string) *Error {
	return &Error{Kind: ErrProtocol, Message: message}
}

// ProtocolWrap reports a backend failure caused by err.
func ProtocolWrap(cause error, format string, args ...any) *Error {
	return newError(ErrProtocol, cause, format, args...)
}

// Message returns the user-facing message of err, unwrapping to the first
// classified Error when one is present.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
