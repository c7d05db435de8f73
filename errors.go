package sdkplay

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. Every typed error below unwraps to
// exactly one of these.
var (
	ErrCoercion         = errors.New("coercion failed")
	ErrUnboundVariable  = errors.New("unbound variable")
	ErrMissingFile      = errors.New("missing file")
	ErrEvaluation       = errors.New("evaluation failed")
	ErrInstanceNotReady = errors.New("instance not ready")
	ErrUnderlyingCall   = errors.New("underlying call failed")
)

// CoercionError reports a raw value that cannot satisfy its declared kind.
type CoercionError struct {
	Param  string
	Kind   Kind
	Value  any
	Reason string
}

func (e *CoercionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("param %q: cannot coerce %T to %s", e.Param, e.Value, e.Kind)
	}
	return fmt.Sprintf("param %q: cannot coerce %T to %s: %s", e.Param, e.Value, e.Kind, e.Reason)
}

func (e *CoercionError) Unwrap() error { return ErrCoercion }

// UnboundVariableError reports a placeholder token whose name has no stored value.
// Path locates the token inside a structured value ("$" is the value itself).
type UnboundVariableError struct {
	Token string
	Name  string
	Param string
	Path  string
}

func (e *UnboundVariableError) Error() string {
	msg := fmt.Sprintf("placeholder %s is not bound", e.Token)
	if e.Param != "" {
		msg = fmt.Sprintf("param %q: %s", e.Param, msg)
	}
	if e.Path != "" && e.Path != "$" {
		msg += " (at " + e.Path + ")"
	}
	return msg
}

func (e *UnboundVariableError) Unwrap() error { return ErrUnboundVariable }

// MissingFileError reports a file-kind parameter with no backing file handle.
type MissingFileError struct {
	Param string
	Ref   string
}

func (e *MissingFileError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("param %q: no file selected", e.Param)
	}
	return fmt.Sprintf("param %q: no file registered as %q", e.Param, e.Ref)
}

func (e *MissingFileError) Unwrap() error { return ErrMissingFile }

// EvaluationError reports function source that failed to compile, or a compiled
// callable that does not fit the callback contract of the target.
type EvaluationError struct {
	Param string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("param %q: %v", e.Param, e.Err)
}

func (e *EvaluationError) Unwrap() []error { return []error{ErrEvaluation, e.Err} }

// InstanceNotReadyError reports a tagged instance that has not been constructed.
// Known is false when the tag is not part of the router's declared set at all.
type InstanceNotReadyError struct {
	Tag   string
	Known bool
}

func (e *InstanceNotReadyError) Error() string {
	if !e.Known {
		return fmt.Sprintf("instance %q is not a known instance tag", e.Tag)
	}
	return fmt.Sprintf("instance %q is not ready", e.Tag)
}

func (e *InstanceNotReadyError) Unwrap() error { return ErrInstanceNotReady }

// UnderlyingCallError wraps a failure returned (or panicked) by the SDK call itself.
type UnderlyingCallError struct {
	Op  string
	Err error
}

func (e *UnderlyingCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UnderlyingCallError) Unwrap() []error { return []error{ErrUnderlyingCall, e.Err} }

// ArgumentError is returned by targets when a prepared argument cannot be
// converted to the Go parameter type of the method. The dispatcher maps it to a
// CoercionError naming the declared parameter.
type ArgumentError struct {
	Index int
	Want  string
	Got   string
	Err   error
}

func (e *ArgumentError) Error() string {
	msg := fmt.Sprintf("argument %d: cannot use %s as %s", e.Index, e.Got, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// IsPreparationError reports whether err was raised before the underlying call
// was issued.
func IsPreparationError(err error) bool {
	return errors.Is(err, ErrCoercion) ||
		errors.Is(err, ErrUnboundVariable) ||
		errors.Is(err, ErrMissingFile) ||
		errors.Is(err, ErrEvaluation) ||
		errors.Is(err, ErrInstanceNotReady)
}
