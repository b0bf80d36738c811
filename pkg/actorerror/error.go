// Package actorerror implements the structured error shape used across the
// wire boundary (spec §6, §7): every framework or application failure is
// data, never a bare Go error, so it can cross the transport unchanged and
// be reconstructed identically on the other side.
//
// The taxonomy and propagation rules mirror how the teacher distinguishes
// errActorDoesNotExist from ordinary errors (registry/kv_registry.go):
// a small set of sentinel codes wrapped with %w so callers can use
// errors.Is/errors.As, generalized here to the full framework code set.
package actorerror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind distinguishes errors the runtime itself produced (Framework) from
// errors raised by application action code (Application).
type Kind string

const (
	KindFramework   Kind = "framework"
	KindApplication Kind = "application"
)

// Code is one of the exhaustive framework error codes from spec §6.
type Code string

const (
	CodeFrameworkError        Code = "FRAMEWORK_ERROR"
	CodeUnexpectedError       Code = "UNEXPECTED_ERROR"
	CodeNoReceiversAvailable  Code = "NO_RECEIVERS_AVAILABLE"
	CodeInvokeError           Code = "INVOKE_ERROR"
	CodeUnknownAction         Code = "UNKNOWN_ACTION"
	CodeUnknownActorType      Code = "UNKNOWN_ACTOR_TYPE"
	CodeActorLockFailed       Code = "ACTOR_LOCK_FAILED"
	CodeFinalizing            Code = "FINALIZING"
	CodeActivationFailed      Code = "ACTIVATION_FAILED"
	CodeDeactivated           Code = "DEACTIVATED"
	CodeRedirectDestination   Code = "REDIRECT_DESTINATION"
	CodeNoCompartment         Code = "NO_COMPARTMENT"
	CodeNoHandler             Code = "NO_HANDLER"
	CodeBaselineMismatch      Code = "BASELINE_MISMATCH"
	CodeVersionConflict       Code = "VERSION_CONFLICT"
	CodeUnknownInstance       Code = "UNKNOWN_INSTANCE"
)

// retryable is the set of framework codes that represent transient state
// and should be retried by the portal per spec §7 retry policy.
var retryable = map[Code]bool{
	CodeFinalizing:       true,
	CodeActorLockFailed:  true,
	CodeUnknownActorType: true,
}

// Retryable reports whether a framework error of this code should trigger a
// backoff-and-retry in the portal, as opposed to failing immediately.
func (c Code) Retryable() bool { return retryable[c] }

// ActionError is the structured error shape that crosses the transport.
// Both framework and application errors share this shape; callers
// distinguish by Kind.
type ActionError struct {
	Kind       Kind     `json:"kind"`
	Code       Code     `json:"code"`
	Message    string   `json:"message"`
	Template   string   `json:"template,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Nested     []*ActionError `json:"nested,omitempty"`
	Stack      string   `json:"stack,omitempty"`
}

// Error implements the error interface by rendering Template with
// Parameters substituted, falling back to Message.
func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Template == "" {
		return e.Message
	}
	return render(e.Template, e.Parameters)
}

// Is allows errors.Is(err, target) to match by Code, so framework code
// checks read naturally: errors.Is(err, actorerror.New(actorerror.CodeDeactivated, "", nil)).
func (e *ActionError) Is(target error) bool {
	var other *ActionError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func render(template string, params map[string]any) string {
	out := template
	for k, v := range params {
		out = strings.ReplaceAll(out, "["+k+"]", fmt.Sprint(v))
	}
	return out
}

// New constructs a framework ActionError. New never captures a stack; a
// stack is only attached by an explicit WithStack call, and stacks are
// never fabricated.
func New(code Code, template string, params map[string]any) *ActionError {
	return &ActionError{
		Kind:       KindFramework,
		Code:       code,
		Message:    render(template, params),
		Template:   template,
		Parameters: params,
	}
}

// WithStack attaches a captured call stack to e and returns e.
func (e *ActionError) WithStack() *ActionError {
	buf := make([]uintptr, 32)
	n := runtime.Callers(2, buf)
	frames := runtime.CallersFrames(buf[:n])
	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	e.Stack = b.String()
	return e
}

// WithNested returns a copy of e carrying nested as its nested error chain,
// preserving the chain across hops the way the portal must when an error
// propagates through several actor invocations.
func (e *ActionError) WithNested(nested ...*ActionError) *ActionError {
	cp := *e
	cp.Nested = nested
	return &cp
}

// Application wraps an error raised by application action code (or a
// recovered panic) into the ApplicationError shape of spec §4.1/§7.
func Application(code, template string, params map[string]any, nested *ActionError) *ActionError {
	e := &ActionError{
		Kind:       KindApplication,
		Code:       Code(code),
		Message:    render(template, params),
		Template:   template,
		Parameters: params,
	}
	if nested != nil {
		e.Nested = []*ActionError{nested}
	}
	return e
}

// FromPanic converts a recovered panic value into an application error, the
// way the instance wrapper must so that a panicking action method never
// takes down the process.
func FromPanic(recovered any) *ActionError {
	return &ActionError{
		Kind:    KindApplication,
		Code:    "PANIC",
		Message: fmt.Sprint(recovered),
	}
}

// NoReceiversAvailable is returned when placement names a hosting
// application that the registry does not currently report as hosting the
// actor type.
func NoReceiversAvailable(actorType string) *ActionError {
	return New(CodeNoReceiversAvailable, "No receivers available for actor type [type]", map[string]any{"type": actorType})
}

// Redirect is returned by a node that knows a better destination for the
// requested actor.
func Redirect(destination string) *ActionError {
	return New(CodeRedirectDestination, "Redirect to destination [destination]", map[string]any{"destination": destination})
}

// Attempt records one invocation attempt made by the portal while pursuing
// an invoke through retries/redirects, surfaced on INVOKE_ERROR.
type Attempt struct {
	Destination string
	Error       *ActionError
	RequestTime int64 // unix nanos
}

// InvokeError is returned when the portal exhausts its deadline without a
// successful invocation.
func InvokeError(attempts []Attempt) *ActionError {
	e := New(CodeInvokeError, "Invoke failed after [count] attempts", map[string]any{"count": len(attempts)})
	e.Parameters["attempts"] = attempts
	return e
}
