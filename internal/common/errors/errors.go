// Package errors defines the failure taxonomy shared by the workflow
// client and orchestrator. Every failure a caller can observe is one of
// four kinds: local validation, transport, HTTP, or decode.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ==========================
// 1. Local validation errors
// ==========================

// Validation error codes.
const (
	CodeContentTooShort    = "content_too_short"
	CodeInvalidProvider    = "invalid_provider"
	CodeTemperatureRange   = "temperature_out_of_range"
	CodeProviderSetInvalid = "provider_set_invalid"
)

// ValidationError is a pre-flight, field-level failure. It is recovered
// locally and never sent over the wire.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewContentTooShort names the minimum the content field must meet.
func NewContentTooShort(min int) *ValidationError {
	return &ValidationError{
		Field:   "content",
		Code:    CodeContentTooShort,
		Message: fmt.Sprintf("content must be at least %d characters after trimming", min),
	}
}

func NewInvalidProvider(value string) *ValidationError {
	return &ValidationError{
		Field:   "provider",
		Code:    CodeInvalidProvider,
		Message: fmt.Sprintf("provider %q is not one of openai, anthropic, google", value),
	}
}

func NewTemperatureOutOfRange(value float64) *ValidationError {
	return &ValidationError{
		Field:   "temperature",
		Code:    CodeTemperatureRange,
		Message: fmt.Sprintf("temperature %g is outside [0.0, 2.0]", value),
	}
}

func NewProviderSetInvalid(detail string) *ValidationError {
	return &ValidationError{
		Field:   "providers",
		Code:    CodeProviderSetInvalid,
		Message: detail,
	}
}

// ==========================
// 2. Transport-level errors
// ==========================

// TransportError means the request never reached or never returned from
// the server: offline, DNS failure, timeout. Its status code is always 0.
// Transport errors are the only kind the orchestrator retries on its own.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusCode always reports 0: no response was received.
func (e *TransportError) StatusCode() int { return 0 }

// FieldDetail is the server's structured validation entry shape:
// { loc: (string|number)[], msg: string, type: string, ctx?: mapping }.
type FieldDetail struct {
	Loc  []interface{}          `json:"loc"`
	Msg  string                 `json:"msg"`
	Type string                 `json:"type"`
	Ctx  map[string]interface{} `json:"ctx,omitempty"`
}

// Location renders the loc path as a dotted string for display.
func (d FieldDetail) Location() string {
	parts := make([]string, 0, len(d.Loc))
	for _, seg := range d.Loc {
		parts = append(parts, fmt.Sprint(seg))
	}
	return strings.Join(parts, ".")
}

// HTTPError means the server responded with a failure status. It is
// surfaced immediately and never retried automatically.
type HTTPError struct {
	Status  int
	Message string
	Details []FieldDetail
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// DecodeError means a response arrived but its body is not valid JSON or
// does not match the expected result shape. It is an HTTPError subtype:
// the status code of the response is preserved.
type DecodeError struct {
	HTTPError
}

func NewDecodeError(status int, cause error) *DecodeError {
	return &DecodeError{HTTPError: HTTPError{
		Status:  status,
		Message: fmt.Sprintf("response did not match the expected result shape: %v", cause),
	}}
}

// ==========================
// 3. Classification helpers
// ==========================

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsDecode reports whether err is (or wraps) a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// AsHTTP extracts an HTTPError, covering the DecodeError subtype too.
func AsHTTP(err error) (*HTTPError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return &de.HTTPError, true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// AsValidation extracts a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
