// Package prelude installs the script-side half of the bridge into a
// runtime and drives calls through it: argument passing, the promise
// await loop, result and exception collection, reference release and host
// function binding.
package prelude

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/eventloop"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Console receives console.* output from scripts.
type Console func(level, message string)

// HostCall is the raw shape of a host function as seen by the prelude:
// it takes the JSON array of tagged arguments and returns an envelope,
// either {"ok":<tagged>} or {"exc":{"name","message","stack"}}.
type HostCall func(argsWire string) string

var (
	// ErrUnsettled is returned when a promise is still pending but nothing
	// is left that could settle it.
	ErrUnsettled = errors.New("promise never settled: no pending timers or jobs")
	// ErrDeadline is returned when the next timer a pending promise waits
	// on is scheduled after the call deadline.
	ErrDeadline = errors.New("deadline reached while awaiting promise")
)

// Install registers the Go callbacks and evaluates the prelude.
func Install(rt core.JSRuntime, el *eventloop.EventLoop, console Console) error {
	if err := rt.RegisterFunc("__jsb_console", func(level, message string) {
		console(level, message)
	}); err != nil {
		return fmt.Errorf("registering console: %w", err)
	}
	if err := rt.RegisterFunc("__jsb_timer_register", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return fmt.Errorf("registering timers: %w", err)
	}
	if err := rt.RegisterFunc("__jsb_timer_clear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return fmt.Errorf("registering timers: %w", err)
	}
	if err := rt.Eval(preludeJS); err != nil {
		return fmt.Errorf("evaluating prelude: %w", err)
	}
	return installEncoding(rt)
}

// BeginSource starts evaluating source at global scope. The completion
// value becomes the call result.
func BeginSource(rt core.JSRuntime, source string) error {
	if err := rt.SetGlobal("__jsb_src", source); err != nil {
		return fmt.Errorf("passing source: %w", err)
	}
	return rt.Eval("__jsb.begin(__jsb.evalSource)")
}

// BeginCompletion starts a call whose result is the value a compiled
// script left in CompletionGlobal.
func BeginCompletion(rt core.JSRuntime) error {
	return rt.Eval("__jsb.begin(__jsb.completion)")
}

// CompletionGlobal is where compiled scripts store their completion value.
const CompletionGlobal = "__jsb_completion"

// BeginRef starts a call of the function held in a reference slot.
func BeginRef(rt core.JSRuntime, slot int64, argsWire string) error {
	if err := rt.SetGlobal("__jsb_args", argsWire); err != nil {
		return fmt.Errorf("passing arguments: %w", err)
	}
	return rt.Eval(fmt.Sprintf("__jsb.begin(function() { return __jsb.callRef(%d); })", slot))
}

// BeginGlobal starts a call of globalThis[name].
func BeginGlobal(rt core.JSRuntime, name, argsWire string) error {
	if err := rt.SetGlobal("__jsb_args", argsWire); err != nil {
		return fmt.Errorf("passing arguments: %w", err)
	}
	if err := rt.SetGlobal("__jsb_name", name); err != nil {
		return fmt.Errorf("passing function name: %w", err)
	}
	return rt.Eval("__jsb.begin(__jsb.callGlobal)")
}

// GlobalArity returns the declared parameter count of globalThis[name],
// or -1 when it is not a function.
func GlobalArity(rt core.JSRuntime, name string) (int, error) {
	if err := rt.SetGlobal("__jsb_name", name); err != nil {
		return 0, fmt.Errorf("passing function name: %w", err)
	}
	return rt.EvalInt("__jsb.arityOf()")
}

// Await pumps microtasks and fires timers until the call started by one
// of the Begin functions has settled. A zero deadline means none.
func Await(ctx context.Context, rt core.JSRuntime, el *eventloop.EventLoop, deadline time.Time) error {
	for {
		rt.RunMicrotasks()
		settled, err := rt.EvalBool("__jsb.settled()")
		if err != nil {
			return fmt.Errorf("checking promise state: %w", err)
		}
		if settled {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fired, err := el.RunNext(ctx, rt, deadline)
		if err != nil {
			return err
		}
		if fired {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if el.HasPending() {
			return ErrDeadline
		}
		return ErrUnsettled
	}
}

// Finish collects the outcome of the current call. A script exception is
// returned as a RuntimeException *core.CallError with the given origin; a
// result that has no wire form (a string with unpaired surrogates) is a
// TypeMismatch.
func Finish(rt core.JSRuntime, codec core.WireCodec, origin string) (core.Value, error) {
	out, err := rt.EvalString("__jsb.finish()")
	if err != nil {
		return core.Null, fmt.Errorf("collecting result: %w", err)
	}
	res := gjson.Parse(out)
	if exc := res.Get("exc"); exc.Exists() {
		kind := core.KindRuntimeException
		if res.Get("mismatch").Bool() {
			kind = core.KindTypeMismatch
		}
		return core.Null, core.ScriptException(
			kind,
			exc.Get("name").String(),
			exc.Get("message").String(),
			exc.Get("stack").String(),
			origin,
		)
	}
	ok := res.Get("ok")
	if !ok.Exists() {
		return core.Null, fmt.Errorf("malformed call result %q", out)
	}
	return codec.Unmarshal(ok.Raw)
}

// Release drops the script-side value held in a reference slot.
func Release(rt core.JSRuntime, slot int64) error {
	return rt.Eval(fmt.Sprintf("__jsb.release(%d)", slot))
}

// RefCount reports how many reference slots are live on the script side.
func RefCount(rt core.JSRuntime) (int, error) {
	return rt.EvalInt("__jsb.refCount()")
}

// BindHost exposes fn as globalThis[name]. rawName must be unique per
// runtime; it names the temporary global the backend registers fn under.
func BindHost(rt core.JSRuntime, name, rawName string, fn HostCall) error {
	if err := rt.RegisterFunc(rawName, func(argsWire string) string {
		return fn(argsWire)
	}); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	if err := rt.SetGlobal("__jsb_name", name); err != nil {
		return fmt.Errorf("passing function name: %w", err)
	}
	return rt.Eval(fmt.Sprintf("__jsb.bindHost(%q)", rawName))
}

// HostResult builds the envelope a HostCall returns for a value.
func HostResult(codec core.WireCodec, v core.Value) string {
	w, err := codec.Marshal(v)
	if err != nil {
		return HostException(err)
	}
	return `{"ok":` + w + `}`
}

// HostException builds the envelope a HostCall returns for a failure. The
// script sees an Error carrying the message, with the error kind as its
// kind property. A name and stack recorded on the CallError are kept.
func HostException(err error) string {
	ce := core.AsCallError(err)
	name := "Error"
	if ce.Name != "" {
		name = ce.Name
	}
	out, _ := sjson.Set(`{"exc":{}}`, "exc.name", name)
	out, _ = sjson.Set(out, "exc.message", ce.Message)
	out, _ = sjson.Set(out, "exc.kind", string(ce.Kind))
	if ce.Stack != "" {
		out, _ = sjson.Set(out, "exc.stack", ce.Stack)
	}
	return out
}
