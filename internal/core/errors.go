package core

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind categorizes a CallError. The string values are part of the
// foreign call surface.
type ErrorKind string

const (
	KindConfigurationConflict ErrorKind = "ConfigurationConflict"
	KindCompileError          ErrorKind = "CompileError"
	KindRuntimeException      ErrorKind = "RuntimeException"
	KindTypeMismatch          ErrorKind = "TypeMismatch"
	KindEngineDisposed        ErrorKind = "EngineDisposed"
	KindTimeout               ErrorKind = "Timeout"
	KindBusy                  ErrorKind = "Busy"
	KindNotReady              ErrorKind = "NotReady"
	KindInvalidHandle         ErrorKind = "InvalidHandle"
	KindFaulted               ErrorKind = "Faulted"
)

// Recoverable reports whether the instance stays usable after an error of
// this kind.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindTypeMismatch, KindBusy, KindInvalidHandle, KindCompileError, KindRuntimeException:
		return true
	}
	return false
}

// Sentinels for errors.Is. Matching compares kinds only.
var (
	ErrConfigurationConflict = &CallError{Kind: KindConfigurationConflict}
	ErrCompile               = &CallError{Kind: KindCompileError}
	ErrRuntimeException      = &CallError{Kind: KindRuntimeException}
	ErrTypeMismatch          = &CallError{Kind: KindTypeMismatch}
	ErrEngineDisposed        = &CallError{Kind: KindEngineDisposed}
	ErrTimeout               = &CallError{Kind: KindTimeout}
	ErrBusy                  = &CallError{Kind: KindBusy}
	ErrNotReady              = &CallError{Kind: KindNotReady}
	ErrInvalidHandle         = &CallError{Kind: KindInvalidHandle}
	ErrFaulted               = &CallError{Kind: KindFaulted}
)

// CallError is the structured error returned across the bridge. Line and
// Column are 1-based and zero when the engine did not report a position.
type CallError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Name    string    `json:"name,omitempty"` // script-side error name (TypeError, ...)
	Stack   string    `json:"stack,omitempty"`
	Origin  string    `json:"origin,omitempty"`
	Line    int       `json:"line,omitempty"`
	Column  int       `json:"column,omitempty"`
	Cause   error     `json:"-"`
}

// NewError builds a CallError with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *CallError {
	return &CallError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a CallError that keeps cause for errors.Unwrap.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *CallError {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &CallError{Kind: kind, Message: msg, Cause: cause}
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Line > 0 {
		b.WriteString(" (")
		if e.Origin != "" {
			b.WriteString(e.Origin)
			b.WriteByte(':')
		}
		b.WriteString(strconv.Itoa(e.Line))
		if e.Column > 0 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(e.Column))
		}
		b.WriteByte(')')
	}
	return b.String()
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CallError of the same kind.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindRuntimeException for errors that
// are not CallErrors.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindRuntimeException
}

// AsCallError converts any error to a CallError. Foreign errors become
// RuntimeException.
func AsCallError(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{Kind: KindRuntimeException, Message: err.Error(), Cause: err}
}

// stackPosRe matches the first "file:line:column" frame in a script stack.
// QuickJS prints "at fn (origin:3:9)", V8 prints "at origin:3:9".
var stackPosRe = regexp.MustCompile(`([^\s()]+):(\d+):(\d+)\)?`)

// ScriptException builds the error for a script exception of the given
// kind. Only the compile step reports CompileError; anything thrown while
// running, a SyntaxError from eval or JSON.parse included, is a
// RuntimeException.
func ScriptException(kind ErrorKind, name, message, stack, origin string) *CallError {
	msg := message
	if name != "" && name != "Error" {
		msg = name + ": " + message
	}
	ce := &CallError{Kind: kind, Message: msg, Name: name, Stack: stack, Origin: origin}
	ce.SetPosition(stack)
	return ce
}

// SetPosition fills Line, Column and an empty Origin from the first
// "file:line:column" found in text. It reports whether one was found.
func (e *CallError) SetPosition(text string) bool {
	m := stackPosRe.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	e.Line, _ = strconv.Atoi(m[2])
	e.Column, _ = strconv.Atoi(m[3])
	if e.Origin == "" {
		e.Origin = m[1]
	}
	return true
}
