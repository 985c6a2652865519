//go:build v8

package v8engine

import (
	"errors"
	"testing"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
)

func newTestRuntime(t *testing.T) *v8Runtime {
	t.Helper()
	rt, err := Backend{}.NewRuntime(core.DefaultConfig())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt.(*v8Runtime)
}

func TestRuntime_EvalHelpers(t *testing.T) {
	rt := newTestRuntime(t)
	n, err := rt.EvalInt("40 + 2")
	if err != nil || n != 42 {
		t.Errorf("EvalInt = %d, %v", n, err)
	}
	s, err := rt.EvalString("'a' + 'b'")
	if err != nil || s != "ab" {
		t.Errorf("EvalString = %q, %v", s, err)
	}
	b, err := rt.EvalBool("1 < 2")
	if err != nil || !b {
		t.Errorf("EvalBool = %v, %v", b, err)
	}
}

func TestRuntime_RegisterFunc(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.RegisterFunc("echo", func(s string) string { return s + "!" }); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	got, err := rt.EvalString("echo('hi')")
	if err != nil || got != "hi!" {
		t.Errorf("echo = %q, %v", got, err)
	}
}

func TestCompiler_SyntaxErrorIsCompileError(t *testing.T) {
	rt := newTestRuntime(t)
	err := rt.Compile("k", "var a = 1;\nvar b = ;", "broken.js")
	if !errors.Is(err, core.ErrCompile) {
		t.Fatalf("Compile error = %v, want CompileError", err)
	}
	ce := core.AsCallError(err)
	if ce.Message == "" {
		t.Error("expected a message")
	}
	if ce.Line != 2 {
		t.Errorf("line = %d, want 2", ce.Line)
	}
}

func TestCompiler_RunStoresCompletion(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Compile("k", "1 + 1", "add.js"); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := rt.Run("k", "__out"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, err := rt.EvalInt("__out")
	if err != nil || n != 2 {
		t.Errorf("__out = %d, %v", n, err)
	}
	rt.Forget("k")
	if err := rt.Run("k", "__out"); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("Run after Forget = %v, want InvalidHandle", err)
	}
}

func TestCompiler_RunThrowIsRuntimeException(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Compile("k", "null.x", "npe.js"); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	err := rt.Run("k", "__out")
	ce := core.AsCallError(err)
	if ce == nil || ce.Kind != core.KindRuntimeException || ce.Name != "TypeError" {
		t.Fatalf("Run error = %#v, want RuntimeException TypeError", err)
	}
}

func TestRuntime_InterruptStopsLoop(t *testing.T) {
	rt := newTestRuntime(t)
	timer := time.AfterFunc(50*time.Millisecond, rt.Interrupt)
	defer timer.Stop()
	if err := rt.Eval("for (;;) {}"); err == nil {
		t.Fatal("expected terminated execution")
	}
}

func TestSplitErrorMessage(t *testing.T) {
	tests := []struct {
		in, name, msg string
	}{
		{"TypeError: x is not a function", "TypeError", "x is not a function"},
		{"Uncaught SyntaxError: Unexpected token", "SyntaxError", "Unexpected token"},
		{"something odd happened", "Error", "something odd happened"},
		{"a b: c", "Error", "a b: c"},
	}
	for _, tt := range tests {
		name, msg := splitErrorMessage(tt.in)
		if name != tt.name || msg != tt.msg {
			t.Errorf("splitErrorMessage(%q) = %q, %q; want %q, %q", tt.in, name, msg, tt.name, tt.msg)
		}
	}
}
