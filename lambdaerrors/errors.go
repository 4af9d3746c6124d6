// Package lambdaerrors defines the error taxonomy shared by the HTTP
// client, the Runtime API wrapper, and the bootstrap loop, along with the
// JSON error record the Runtime API's error endpoints expect.
package lambdaerrors

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind classifies a failure the way the Runtime API contract does: by
// where in the request lifecycle it originated, not by Go type.
type Kind string

const (
	KindConfig           Kind = "Config"
	KindIO               Kind = "Io"
	KindProtocol         Kind = "Protocol"
	KindHTTPStatus       Kind = "HttpStatus"
	KindMissingRequestID Kind = "MissingRequestId"
	KindUTF8             Kind = "Utf8"
	KindHandlerFailure   Kind = "HandlerFailure"
)

// Error wraps a Kind and an eris-annotated cause so that every failure
// carries a stack trace from the point it was first observed, without the
// HTTP client or the Runtime API wrapper having to capture one by hand.
type Error struct {
	Kind   Kind
	Status int // populated only for KindHTTPStatus
	cause  error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.cause.Error(), e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause.Error())
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a root error of the given kind, annotated with a stack trace.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, cause: eris.New(message)}
}

// Newf is the formatted variant of New.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, cause: eris.Errorf(format, args...)}
}

// Wrap attaches a kind and a stack frame to an existing error.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, cause: eris.Wrap(cause, message)}
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, cause: eris.Wrap(cause, fmt.Sprintf(format, args...))}
}

// HTTPStatus builds an error for a Runtime API response outside the 2xx
// range: status is carried separately from the message so callers can
// branch on it without parsing the error text.
func HTTPStatus(status int) *Error {
	return &Error{
		Kind:   KindHTTPStatus,
		Status: status,
		cause:  eris.Errorf("unexpected status code from runtime API: %d", status),
	}
}

// Stack renders err with its full eris stack trace if it carries one,
// falling back to err.Error() otherwise. Used by the bootstrap loop's
// error-level log line.
func Stack(err error) string {
	var e *Error
	if As(err, &e) {
		return eris.ToString(e.cause, true)
	}
	return err.Error()
}

// As walks err's Unwrap chain and stores the first *Error it finds in
// target, so callers can pull the Kind out of an error without importing
// errors. It follows only single-error Unwrap methods; errors joined via
// Unwrap() []error and custom As methods are not searched.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ErrorResponse is the JSON object posted to the Runtime API's
// invocation-error and init-error endpoints:
// {"errorType": kind, "errorMessage": message}.
type ErrorResponse struct {
	Type       string       `json:"errorType"`
	Message    string       `json:"errorMessage"`
	StackTrace []StackFrame `json:"stackTrace,omitempty"`
}

func (e *ErrorResponse) Error() string { return e.Message }

// StackFrame is a single frame of a captured panic stack trace.
type StackFrame struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Label string `json:"label"`
}

// NewErrorResponse builds the wire error record for a returned (not
// panicked) handler or runtime error.
func NewErrorResponse(err error) *ErrorResponse {
	var kindErr *Error
	if As(err, &kindErr) {
		return &ErrorResponse{
			Message: err.Error(),
			Type:    "Runtime." + string(kindErr.Kind),
		}
	}

	return &ErrorResponse{
		Message: err.Error(),
		Type:    errorType(err),
	}
}

// namedTypeOf returns the base (pointer-dereferenced) type name of v, or
// "" if v has no useful name (nil, or an unnamed type).
func namedTypeOf(v any) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		return t.Elem().Name()
	}
	return t.Name()
}

// errorType derives an AWS-recommended "Category.Reason" type string for
// an arbitrary handler error that isn't one of our own Kinds. Go's own
// unnamed error types (a bare errors.New, an fmt.Errorf wrap) collapse to
// a single HandlerError bucket rather than leaking Go-internal names
// like "errorString" into the Lambda console.
func errorType(err error) string {
	if err == nil {
		return "Runtime.Unknown"
	}

	name := namedTypeOf(err)
	switch {
	case name == "":
		return "Runtime.HandlerError"
	case name == "errorString" || name == "errors" || strings.Contains(name, "wrap"):
		return "Runtime.HandlerError"
	default:
		return "Runtime." + name
	}
}

// NewPanicResponse builds the wire error record for a recovered handler
// panic.
func NewPanicResponse(panicValue any) *ErrorResponse {
	return &ErrorResponse{
		Message:    fmt.Sprintf("%v", panicValue),
		Type:       "Runtime." + string(KindHandlerFailure) + "." + panicType(panicValue),
		StackTrace: captureStackTrace(),
	}
}

func panicType(panicValue any) string {
	if name := namedTypeOf(panicValue); name != "" {
		return name
	}
	if panicValue == nil {
		return "Unknown"
	}

	// Anonymous or unnamed type: fall back to the %T rendering and keep
	// only the last path segment (fmt renders the full package path).
	typeStr := fmt.Sprintf("%T", panicValue)
	if idx := strings.LastIndex(typeStr, "."); idx >= 0 {
		typeStr = typeStr[idx+1:]
	}
	if typeStr == "" {
		return "Unknown"
	}
	return typeStr
}

// captureStackTrace records the frames above invokeHandlerSafely's
// deferred recover closure, which is always the direct caller of
// NewPanicResponse on this path: recover -> NewPanicResponse ->
// captureStackTrace -> runtime.Callers. Skipping those three plus
// runtime.Callers itself lands the first recorded frame on
// runtime.gopanic, one above the line that actually panicked.
func captureStackTrace() []StackFrame {
	const maxFrames = 32
	const framesToSkip = 4

	callers := make([]uintptr, maxFrames)
	n := runtime.Callers(framesToSkip, callers)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(callers[:n])
	recorded := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		recorded = append(recorded, formatFrame(frame))
		if !more {
			break
		}
	}
	return recorded
}

// formatFrame trims a runtime.Frame down to the last N+1 segments of its
// file path, N being the number of slashes in the function's import
// path, and a bare "Type.Method" label, discarding the full import path
// runtime.Frame otherwise carries.
func formatFrame(frame runtime.Frame) StackFrame {
	path := frame.File
	label := frame.Function

	pathSegments := strings.Count(label, "/")
	if pathSegments > 0 {
		parts := strings.Split(path, "/")
		if len(parts) > pathSegments+1 {
			path = strings.Join(parts[len(parts)-pathSegments-1:], "/")
		}
	}

	if idx := strings.LastIndex(label, "/"); idx >= 0 {
		label = label[idx+1:]
	}
	if idx := strings.Index(label, "."); idx >= 0 {
		label = label[idx+1:]
	}

	return StackFrame{Path: path, Line: frame.Line, Label: label}
}
