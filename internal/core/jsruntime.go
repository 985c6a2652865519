package core

// JSRuntime abstracts the JavaScript engine (QuickJS or V8) behind a
// common interface used by the engine-agnostic instance code in
// internal/engine, the prelude in internal/prelude and the shared event
// loop in internal/eventloop.
//
// A JSRuntime is not safe for concurrent use. The only method that may be
// called from another goroutine is Interrupt.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// The function's Go types are automatically marshaled to/from JS types.
	// On error return, the JS wrapper throws a TypeError instead of
	// returning an array.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	// V8: PerformMicrotaskCheckpoint, QuickJS: ExecutePendingJob loop.
	RunMicrotasks()

	// Interrupt aborts the script currently running on the runtime. It is
	// safe to call from any goroutine. The runtime must not be reused
	// afterwards.
	Interrupt()

	// Close releases the engine resources. Close must not be called while
	// a call into the runtime is in progress.
	Close() error
}

// Compiler is an optional interface for runtimes that can compile a script
// without running it. V8 implements it with CompileUnboundScript; QuickJS
// relies on the prepare step in internal/scriptprep for syntax checking.
type Compiler interface {
	// Compile parses source under the given origin and keeps the compiled
	// form under key for a later Run.
	Compile(key, source, origin string) error

	// Run executes a script previously compiled under key and returns the
	// completion value stored in the given global.
	Run(key, resultGlobal string) error

	// Forget drops the compiled form stored under key.
	Forget(key string)
}
