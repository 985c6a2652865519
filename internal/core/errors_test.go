package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCallError_Is(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(KindTimeout, "slow"))
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(ErrTimeout) = false")
	}
	if errors.Is(err, ErrBusy) {
		t.Error("errors.Is(ErrBusy) = true")
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf = %s", KindOf(err))
	}
}

func TestCallError_WrapKeepsCause(t *testing.T) {
	err := WrapError(KindBusy, context.Canceled, "waiting")
	if !errors.Is(err, context.Canceled) {
		t.Error("cause lost")
	}
	if err.Message != "waiting: context canceled" {
		t.Errorf("message = %q", err.Message)
	}
}

func TestCallError_Format(t *testing.T) {
	e := &CallError{Kind: KindCompileError, Message: "SyntaxError: unexpected", Origin: "a.js", Line: 3, Column: 9}
	if got := e.Error(); got != "CompileError: SyntaxError: unexpected (a.js:3:9)" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewError(KindNotReady, "").Error(); got != "NotReady" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAsCallError(t *testing.T) {
	if AsCallError(nil) != nil {
		t.Error("AsCallError(nil) != nil")
	}
	ce := AsCallError(errors.New("plain"))
	if ce.Kind != KindRuntimeException || ce.Message != "plain" {
		t.Errorf("ce = %+v", ce)
	}
}

func TestScriptException(t *testing.T) {
	tests := []struct {
		name, stack   string
		wantKind      ErrorKind
		wantLine, col int
		wantOrigin    string
	}{
		{"TypeError", "TypeError: x\n    at f (app.js:3:9)\n    at <eval> (app.js:5:1)", KindRuntimeException, 3, 9, "fallback.js"},
		{"SyntaxError", "    at app.js:1:2", KindRuntimeException, 1, 2, "fallback.js"},
		{"Error", "", KindRuntimeException, 0, 0, "fallback.js"},
	}
	for _, tt := range tests {
		ce := ScriptException(tt.wantKind, tt.name, "msg", tt.stack, "fallback.js")
		if ce.Kind != tt.wantKind || ce.Line != tt.wantLine || ce.Column != tt.col || ce.Origin != tt.wantOrigin {
			t.Errorf("%s: got %+v", tt.name, ce)
		}
	}
	if ce := ScriptException(KindCompileError, "SyntaxError", "bad", "", ""); ce.Kind != KindCompileError || ce.Message != "SyntaxError: bad" {
		t.Errorf("compile error = %+v", ce)
	}
	if ce := ScriptException(KindRuntimeException, "TypeError", "bad", "", ""); ce.Message != "TypeError: bad" {
		t.Errorf("message = %q", ce.Message)
	}
	if ce := ScriptException(KindRuntimeException, "Error", "bad", "", ""); ce.Message != "bad" {
		t.Errorf("message = %q", ce.Message)
	}
}

func TestSetPosition_FillsEmptyOrigin(t *testing.T) {
	ce := &CallError{}
	if !ce.SetPosition("at lib.js:10:4") {
		t.Fatal("no position found")
	}
	if ce.Origin != "lib.js" || ce.Line != 10 || ce.Column != 4 {
		t.Errorf("ce = %+v", ce)
	}
	if (&CallError{}).SetPosition("no position here") {
		t.Error("position found in plain text")
	}
}

func TestRecoverable(t *testing.T) {
	for _, k := range []ErrorKind{KindTimeout, KindFaulted, KindEngineDisposed} {
		if k.Recoverable() {
			t.Errorf("%s recoverable", k)
		}
	}
	if !KindBusy.Recoverable() {
		t.Error("Busy not recoverable")
	}
}
