package proxyerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable, client-visible error code
type Kind string

const (
	KindConfigTimeout  Kind = "config_timeout"
	KindInvalidConfig  Kind = "invalid_config"
	KindAuth           Kind = "auth_error"
	KindNetwork        Kind = "network_error"
	KindVendorProtocol Kind = "vendor_protocol_error"
	KindFrameDecode    Kind = "frame_decode_error"
	KindCapacity       Kind = "capacity_exceeded"
	KindClientGone     Kind = "client_disconnect"
	KindInternal       Kind = "internal_error"
)

// Error is a classified proxy error
type Error struct {
	Kind    Kind
	Code    string // vendor-specific code, if any
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = msg + ": " + e.Cause.Error()
		}
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (code=%s): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Vendor creates a vendor protocol error carrying the vendor's code and message
func Vendor(code, message string) *Error {
	return &Error{Kind: KindVendorProtocol, Code: code, Message: message}
}

// KindOf returns the kind of the first classified error in err's chain.
// Context cancellation is reported as a client disconnect, anything else
// unclassified as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindClientGone
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == kind
	}
	return false
}

// IsRetryable reports whether the vendor side may be retried after err
func IsRetryable(err error) bool {
	return Is(err, KindNetwork)
}

// CodeOf returns the vendor code attached to err, if any
func CodeOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}

// MessageOf returns the client-facing message for err
func MessageOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Message != "" {
			return perr.Message
		}
	}
	return err.Error()
}
