//go:build v8

package v8engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/cryguy/jsbridge/internal/core"
	v8 "github.com/tommie/v8go"
)

// v8Runtime implements core.JSRuntime and core.Compiler for the V8 engine.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context

	// keep registered callbacks reachable for the lifetime of the context
	templates []*v8.FunctionTemplate
	scripts   map[string]*v8.UnboundScript

	closeOnce sync.Once
}

var (
	_ core.JSRuntime = (*v8Runtime)(nil)
	_ core.Compiler  = (*v8Runtime)(nil)
)

// Eval evaluates JavaScript and discards the result.
func (r *v8Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.ctx.RunScript(js, "eval_bool.js")
	if err != nil {
		return false, err
	}
	if val == nil || !val.IsBoolean() {
		return false, fmt.Errorf("expected bool result")
	}
	return val.Boolean(), nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *v8Runtime) EvalInt(js string) (int, error) {
	val, err := r.ctx.RunScript(js, "eval_int.js")
	if err != nil {
		return 0, err
	}
	if val == nil || !val.IsNumber() {
		return 0, fmt.Errorf("expected number result")
	}
	return int(val.Integer()), nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Uses reflection to inspect the Go function's signature and creates a
// V8 FunctionTemplate that marshals arguments and return values.
//
// Supported Go function signatures:
//   - func(args...) with no return, the JS function returns undefined
//   - func(args...) T, the JS function returns T
//   - func(args...) (T, error), on error the call throws the message
//
// Supported argument and return types: string, int, int64, float64, bool.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < fnType.NumIn() {
			r.throwMessage(fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args)))
			return nil
		}

		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}

		results := fnVal.Call(goArgs)
		switch fnType.NumOut() {
		case 0:
			return nil
		case 1:
			return goToJSValue(r.iso, results[0])
		case 2:
			if errVal := results[1]; !errVal.IsNil() {
				r.throwMessage(fmt.Sprintf("calling %s: %s", name, errVal.Interface().(error).Error()))
				return nil
			}
			return goToJSValue(r.iso, results[0])
		default:
			return nil
		}
	})
	r.templates = append(r.templates, tmpl)
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

// throwMessage throws msg as a plain string exception. The prelude
// wraps host calls itself, so only internal registrations reach this.
func (r *v8Runtime) throwMessage(msg string) {
	jsMsg, _ := v8.NewValue(r.iso, msg)
	r.iso.ThrowException(jsMsg)
}

// SetGlobal sets a global variable on the JS context.
func (r *v8Runtime) SetGlobal(name string, value any) error {
	jsVal, err := goAnyToJSValue(r.iso, value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, jsVal)
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// Interrupt terminates the script running on the isolate.
func (r *v8Runtime) Interrupt() {
	r.iso.TerminateExecution()
}

// Compile parses source into an unbound script kept under key. Syntax
// errors come back as a CompileError with the reported position.
func (r *v8Runtime) Compile(key, source, origin string) error {
	script, err := r.iso.CompileUnboundScript(source, origin, v8.CompileOptions{})
	if err != nil {
		return scriptError(err, core.KindCompileError, origin)
	}
	r.scripts[key] = script
	return nil
}

// Run binds the script compiled under key to the context, runs it and
// stores the completion value in resultGlobal.
func (r *v8Runtime) Run(key, resultGlobal string) error {
	script, ok := r.scripts[key]
	if !ok {
		return core.NewError(core.KindInvalidHandle, "no compiled script %q", key)
	}
	val, err := script.Run(r.ctx)
	if err != nil {
		return scriptError(err, core.KindRuntimeException, "")
	}
	if val == nil {
		val = v8.Undefined(r.iso)
	}
	return r.ctx.Global().Set(resultGlobal, val)
}

// Forget drops the compiled script stored under key.
func (r *v8Runtime) Forget(key string) {
	delete(r.scripts, key)
}

// Close disposes the context and the isolate.
func (r *v8Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.scripts = nil
		r.templates = nil
		r.ctx.Close()
		r.iso.Dispose()
	})
	return nil
}

// scriptError converts a V8 exception into a CallError of kind.
// Termination is left to the caller, which knows whether it asked for it.
func scriptError(err error, kind core.ErrorKind, origin string) error {
	var jsErr *v8.JSError
	if !errors.As(err, &jsErr) {
		return err
	}
	name, message := splitErrorMessage(jsErr.Message)
	ce := core.ScriptException(kind, name, message, jsErr.StackTrace, origin)
	if ce.Line == 0 {
		ce.SetPosition(jsErr.Location)
	}
	return ce
}

// splitErrorMessage splits "TypeError: x is not a function" into its name
// and message. V8 may prefix the text with "Uncaught ".
func splitErrorMessage(s string) (string, string) {
	s = strings.TrimPrefix(s, "Uncaught ")
	name, msg, ok := strings.Cut(s, ": ")
	if !ok || strings.ContainsAny(name, " \t\n") {
		return "Error", s
	}
	return name, msg
}

// jsToGoArg converts a V8 value to a Go reflect.Value of the expected type.
func jsToGoArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(targetType)
	}
}

// goToJSValue converts a Go reflect.Value to a V8 value.
func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	switch val.Kind() {
	case reflect.String:
		v, _ := v8.NewValue(iso, val.String())
		return v
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, _ := v8.NewValue(iso, float64(val.Int()))
		return v
	case reflect.Float64, reflect.Float32:
		v, _ := v8.NewValue(iso, val.Float())
		return v
	case reflect.Bool:
		v, _ := v8.NewValue(iso, val.Bool())
		return v
	default:
		return nil
	}
}

// goAnyToJSValue converts a basic Go value to a V8 value.
func goAnyToJSValue(iso *v8.Isolate, value any) (*v8.Value, error) {
	switch v := value.(type) {
	case nil:
		return v8.Undefined(iso), nil
	case string:
		return v8.NewValue(iso, v)
	case int:
		return v8.NewValue(iso, float64(v))
	case int32:
		return v8.NewValue(iso, v)
	case int64:
		return v8.NewValue(iso, float64(v))
	case float64:
		return v8.NewValue(iso, v)
	case bool:
		return v8.NewValue(iso, v)
	case *v8.Value:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported global type %T", value)
}
