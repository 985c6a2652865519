package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/eventloop"
	"github.com/cryguy/jsbridge/internal/prelude"
	"github.com/cryguy/jsbridge/internal/scriptcache"
	"github.com/cryguy/jsbridge/internal/scriptprep"
	"go.uber.org/zap"
)

// State is the execution state of an instance.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFaulted
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateFaulted:
		return "Faulted"
	case StateDisposed:
		return "Disposed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// HostFunc implements a function exposed to scripts. It runs on the
// goroutine driving the script while the instance's execution lock is
// held. ctx is cancelled when the call times out or the instance is
// disposed. Calls made back into an instance from a HostFunc must pass
// ctx (or a context derived from it): a call on an instance whose
// callback is on the stack then fails with Busy instead of deadlocking,
// and calls on other instances proceed normally.
type HostFunc func(ctx context.Context, args []core.Value) (core.Value, error)

// callbackFrame records an instance with a host callback on the stack of
// the call that carries it.
type callbackFrame struct {
	in     *Instance
	parent *callbackFrame
}

type callbackKey struct{}

func withCallbackFrame(ctx context.Context, in *Instance) context.Context {
	parent, _ := ctx.Value(callbackKey{}).(*callbackFrame)
	return context.WithValue(ctx, callbackKey{}, &callbackFrame{in: in, parent: parent})
}

// reentered reports whether ctx was handed out by one of in's host
// callbacks that is still running.
func (in *Instance) reentered(ctx context.Context) bool {
	if in.callbackDepth.Load() == 0 {
		return false
	}
	for f, _ := ctx.Value(callbackKey{}).(*callbackFrame); f != nil; f = f.parent {
		if f.in == in {
			return true
		}
	}
	return false
}

// errEngineFault marks failures of the runtime itself (as opposed to
// script exceptions). They leave the instance Faulted.
var errEngineFault = errors.New("engine fault")

// Instance owns one script runtime. All methods are safe for concurrent
// use; calls that touch the runtime are serialized by the execution lock.
type Instance struct {
	ID        uint64
	CreatedAt time.Time

	cfg     core.Config
	backend string
	state   atomic.Int32

	lock          chan struct{} // execution lock, one slot
	done          chan struct{} // closed once disposed
	disposing     atomic.Bool
	callbackDepth atomic.Int32

	mu         sync.Mutex // guards cancelCall, callCtx, units, hostSeq
	cancelCall context.CancelFunc
	callCtx    context.Context
	units      map[uint64]*core.ScriptUnit
	nextUnit   uint64
	hostSeq    int

	rt    core.JSRuntime
	loop  *eventloop.EventLoop
	refs  *refArena
	wire  core.WireCodec
	logs  *logBuffer
	cache scriptcache.Store
	log   *zap.Logger
}

func newInstance(id uint64, cfg core.Config, backend core.Backend, cache scriptcache.Store) (*Instance, error) {
	rt, err := backend.NewRuntime(cfg)
	if err != nil {
		return nil, core.WrapError(core.KindConfigurationConflict, err, "creating %s runtime", backend.Name())
	}
	in := &Instance{
		ID:        id,
		CreatedAt: time.Now(),
		cfg:       cfg,
		backend:   backend.Name(),
		lock:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		units:     make(map[uint64]*core.ScriptUnit),
		rt:        rt,
		loop:      eventloop.New(),
		refs:      newRefArena(id),
		logs:      &logBuffer{},
		cache:     cache,
		log:       core.Logger().With(zap.Uint64("instance", id)),
	}
	in.wire = core.WireCodec{
		RefToScript: func(r core.Ref) (int64, error) {
			e, err := in.refs.resolve(r)
			return e.jsSlot, err
		},
		RefFromScript: in.refs.add,
	}
	if err := prelude.Install(rt, in.loop, consoleSink(id, in.logs)); err != nil {
		_ = rt.Close()
		return nil, core.WrapError(core.KindRuntimeException, err, "installing prelude")
	}
	return in, nil
}

// State returns the current state.
func (in *Instance) State() State {
	return State(in.state.Load())
}

// Config returns the effective configuration.
func (in *Instance) Config() core.Config {
	return in.cfg
}

// Backend returns the engine name.
func (in *Instance) Backend() string {
	return in.backend
}

func (in *Instance) stateError() error {
	switch in.State() {
	case StateDisposed:
		return core.NewError(core.KindEngineDisposed, "instance %d is disposed", in.ID)
	case StateFaulted:
		return core.NewError(core.KindFaulted, "instance %d is faulted and must be disposed", in.ID)
	}
	if in.disposing.Load() {
		return core.NewError(core.KindEngineDisposed, "instance %d is being disposed", in.ID)
	}
	return nil
}

// acquire takes the execution lock according to the busy policy.
func (in *Instance) acquire(ctx context.Context) error {
	if in.reentered(ctx) {
		return core.NewError(core.KindBusy, "instance %d is running a host callback; reentrant calls are not allowed", in.ID)
	}
	if err := in.stateError(); err != nil {
		return err
	}
	if in.cfg.BusyPolicy == core.BusyFail {
		select {
		case in.lock <- struct{}{}:
		default:
			return core.NewError(core.KindBusy, "instance %d is busy", in.ID)
		}
	} else {
		select {
		case in.lock <- struct{}{}:
		case <-in.done:
			return core.NewError(core.KindEngineDisposed, "instance %d is disposed", in.ID)
		case <-ctx.Done():
			return core.WrapError(core.KindBusy, ctx.Err(), "waiting for instance %d", in.ID)
		}
	}
	if err := in.stateError(); err != nil {
		<-in.lock
		return err
	}
	return nil
}

func (in *Instance) release() {
	<-in.lock
}

// withLock runs fn under the execution lock without entering Running.
func (in *Instance) withLock(ctx context.Context, fn func() error) (err error) {
	if err := in.acquire(ctx); err != nil {
		return err
	}
	defer in.release()
	defer func() {
		if r := recover(); r != nil {
			in.state.Store(int32(StateFaulted))
			in.log.Error("engine panic", zap.Any("panic", r))
			err = core.NewError(core.KindFaulted, "engine fault: %v", r)
		}
	}()
	return fn()
}

// call runs one execute/invoke under the execution lock with the
// configured deadline. The instance is Running for the duration.
func (in *Instance) call(ctx context.Context, op string, fn func(ctx context.Context, deadline time.Time) (core.Value, error)) (result core.Value, err error) {
	if err := in.acquire(ctx); err != nil {
		return core.Null, err
	}
	defer in.release()

	if !in.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return core.Null, in.stateError()
	}

	callCtx, cancel := context.WithCancel(ctx)
	in.mu.Lock()
	in.cancelCall = cancel
	in.callCtx = callCtx
	in.mu.Unlock()
	// dispose may have started between acquire and publishing cancel
	if in.disposing.Load() {
		cancel()
		in.mu.Lock()
		in.cancelCall, in.callCtx = nil, nil
		in.mu.Unlock()
		in.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
		return core.Null, core.NewError(core.KindEngineDisposed, "instance %d is being disposed", in.ID)
	}

	var (
		timedOut    atomic.Bool
		interrupted atomic.Bool
		deadline    time.Time
		watchdog    *time.Timer
	)
	if timeout := in.cfg.Timeout(); timeout > 0 {
		deadline = time.Now().Add(timeout)
		watchdog = time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			in.rt.Interrupt()
			cancel()
		})
	}
	stopInterrupt := context.AfterFunc(callCtx, func() {
		interrupted.Store(true)
		in.rt.Interrupt()
	})
	start := time.Now()

	defer func() {
		if watchdog != nil && !watchdog.Stop() {
			timedOut.Store(true)
		}
		if !stopInterrupt() {
			interrupted.Store(true)
		}
		cancel()
		in.mu.Lock()
		in.cancelCall = nil
		in.callCtx = nil
		in.mu.Unlock()

		if r := recover(); r != nil {
			in.log.Error("engine panic", zap.String("op", op), zap.Any("panic", r))
			result, err = core.Null, core.NewError(core.KindFaulted, "engine fault during %s: %v", op, r)
			in.state.CompareAndSwap(int32(StateRunning), int32(StateFaulted))
			return
		}

		switch {
		case in.disposing.Load():
			result, err = core.Null, core.NewError(core.KindEngineDisposed, "instance %d was disposed during %s", in.ID, op)
		case timedOut.Load(), errors.Is(err, prelude.ErrDeadline):
			in.state.CompareAndSwap(int32(StateRunning), int32(StateFaulted))
			in.log.Warn("execution timed out, instance faulted", zap.String("op", op), zap.Duration("timeout", in.cfg.Timeout()))
			result, err = core.Null, core.NewError(core.KindTimeout, "%s exceeded %dms", op, in.cfg.ExecutionTimeoutMs)
		case interrupted.Load():
			in.state.CompareAndSwap(int32(StateRunning), int32(StateFaulted))
			in.log.Warn("call cancelled, instance faulted", zap.String("op", op), zap.Error(ctx.Err()))
			result, err = core.Null, core.WrapError(core.KindTimeout, ctx.Err(), "%s cancelled", op)
		case errors.Is(err, errEngineFault):
			in.state.CompareAndSwap(int32(StateRunning), int32(StateFaulted))
			in.log.Warn("engine fault, instance faulted", zap.String("op", op), zap.Error(err))
		default:
			in.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
			in.log.Debug("call finished", zap.String("op", op), zap.Duration("duration", time.Since(start)), zap.Error(err))
		}
	}()

	return fn(callCtx, deadline)
}

// engineFault wraps a failure of the runtime itself.
func engineFault(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ce *core.CallError
	if errors.As(err, &ce) {
		return err
	}
	return &core.CallError{
		Kind:    core.KindRuntimeException,
		Message: fmt.Sprintf(format, args...) + ": " + err.Error(),
		Cause:   fmt.Errorf("%w: %w", errEngineFault, err),
	}
}

// await drives the call started by a prelude Begin function to its
// result.
func (in *Instance) await(ctx context.Context, deadline time.Time, origin string) (core.Value, error) {
	if err := prelude.Await(ctx, in.rt, in.loop, deadline); err != nil {
		switch {
		case errors.Is(err, prelude.ErrUnsettled):
			_, _ = prelude.Finish(in.rt, in.wire, origin)
			return core.Null, core.NewError(core.KindRuntimeException, "%v", err)
		case errors.Is(err, prelude.ErrDeadline):
			return core.Null, core.WrapError(core.KindTimeout, err, "awaiting result")
		}
		return core.Null, engineFault(err, "awaiting result")
	}
	v, err := prelude.Finish(in.rt, in.wire, origin)
	if err != nil {
		return core.Null, engineFault(err, "collecting result")
	}
	return v, nil
}

// LoadScript prepares source under origin (the configured origin when
// empty) and, on backends that support it, compiles it. The script is not
// run. Syntax errors return a CompileError with line and column.
func (in *Instance) LoadScript(ctx context.Context, source, origin string) (*core.ScriptUnit, error) {
	if origin == "" {
		origin = in.cfg.ScriptSourceOrigin
	}
	loader := scriptprep.LoaderJS
	if in.cfg.TypeScript {
		loader = scriptprep.LoaderTS
	}

	if err := in.stateError(); err != nil {
		return nil, err
	}
	code, err := in.prepare(source, origin, loader)
	if err != nil {
		return nil, err
	}

	var unit *core.ScriptUnit
	err = in.withLock(ctx, func() error {
		in.mu.Lock()
		in.nextUnit++
		id := in.nextUnit
		in.mu.Unlock()

		unit = &core.ScriptUnit{
			ID:         id,
			InstanceID: in.ID,
			Origin:     origin,
			Source:     source,
			Prepared:   code,
			Hash:       scriptprep.Key(origin, loader, source),
			LoadedAt:   time.Now(),
		}
		if c, ok := in.rt.(core.Compiler); ok {
			if err := c.Compile(unitKey(id), code, origin); err != nil {
				return err
			}
			unit.Compiled = true
		}
		in.mu.Lock()
		in.units[id] = unit
		in.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	in.log.Debug("script loaded", zap.Uint64("unit", unit.ID), zap.String("origin", origin), zap.Bool("compiled", unit.Compiled))
	return unit, nil
}

// prepare returns the code to evaluate, going through the script cache.
func (in *Instance) prepare(source, origin string, loader scriptprep.Loader) (string, error) {
	key := scriptprep.Key(origin, loader, source)
	if in.cache != nil {
		if e, ok, err := in.cache.Get(key); err != nil {
			in.log.Warn("script cache read failed", zap.Error(err))
		} else if ok {
			return e.Code, nil
		}
	}
	p, err := scriptprep.Prepare(source, origin, loader)
	if err != nil {
		return "", err
	}
	if in.cache != nil {
		if err := in.cache.Put(scriptcache.Entry{
			Key:    p.Hash,
			Origin: origin,
			Loader: string(loader),
			Code:   p.Code,
		}); err != nil {
			in.log.Warn("script cache write failed", zap.Error(err))
		}
	}
	return p.Code, nil
}

func unitKey(id uint64) string {
	return fmt.Sprintf("unit-%d", id)
}

// UnloadScript forgets a loaded unit.
func (in *Instance) UnloadScript(ctx context.Context, unitID uint64) error {
	return in.withLock(ctx, func() error {
		in.mu.Lock()
		unit, ok := in.units[unitID]
		delete(in.units, unitID)
		in.mu.Unlock()
		if !ok {
			return core.NewError(core.KindInvalidHandle, "unknown script unit %d", unitID)
		}
		if c, ok := in.rt.(core.Compiler); ok && unit.Compiled {
			c.Forget(unitKey(unitID))
		}
		return nil
	})
}

// Unit returns a loaded unit by ID.
func (in *Instance) Unit(unitID uint64) (*core.ScriptUnit, error) {
	if in.State() == StateDisposed {
		return nil, in.stateError()
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	unit, ok := in.units[unitID]
	if !ok {
		return nil, core.NewError(core.KindInvalidHandle, "unknown script unit %d", unitID)
	}
	return unit, nil
}

// Execute runs a loaded unit to completion and returns its completion
// value. A returned promise is awaited, firing timers as needed, within
// the execution deadline.
func (in *Instance) Execute(ctx context.Context, unit *core.ScriptUnit) (core.Value, error) {
	if unit == nil {
		return core.Null, core.NewError(core.KindInvalidHandle, "nil script unit")
	}
	if unit.InstanceID != in.ID {
		return core.Null, core.NewError(core.KindTypeMismatch, "script unit %d belongs to instance %d, not %d", unit.ID, unit.InstanceID, in.ID)
	}
	return in.call(ctx, "execute", func(ctx context.Context, deadline time.Time) (core.Value, error) {
		in.mu.Lock()
		_, loaded := in.units[unit.ID]
		in.mu.Unlock()
		if !loaded {
			return core.Null, core.NewError(core.KindInvalidHandle, "script unit %d is not loaded", unit.ID)
		}

		if unit.Compiled {
			c := in.rt.(core.Compiler)
			if err := c.Run(unitKey(unit.ID), prelude.CompletionGlobal); err != nil {
				var ce *core.CallError
				if errors.As(err, &ce) {
					return core.Null, ce
				}
				return core.Null, engineFault(err, "running %s", unit.Origin)
			}
			if err := prelude.BeginCompletion(in.rt); err != nil {
				return core.Null, engineFault(err, "running %s", unit.Origin)
			}
		} else {
			src := unit.Prepared + "\n//# sourceURL=" + unit.Origin
			if err := prelude.BeginSource(in.rt, src); err != nil {
				return core.Null, engineFault(err, "running %s", unit.Origin)
			}
		}
		return in.await(ctx, deadline, unit.Origin)
	})
}

// Invoke calls the script function behind ref with args. Fewer arguments
// than the function's declared length is a TypeMismatch.
func (in *Instance) Invoke(ctx context.Context, ref core.Ref, args []core.Value) (core.Value, error) {
	if ref.Instance != in.ID {
		return core.Null, core.NewError(core.KindTypeMismatch, "reference belongs to instance %d, not %d", ref.Instance, in.ID)
	}
	return in.call(ctx, "invoke", func(ctx context.Context, deadline time.Time) (core.Value, error) {
		e, err := in.refs.resolve(ref)
		if err != nil {
			return core.Null, err
		}
		if e.typ != "function" {
			return core.Null, core.NewError(core.KindTypeMismatch, "reference %s is a %s, not a function", ref, e.typ)
		}
		if len(args) < e.arity {
			return core.Null, core.ArityMismatch(ref.String(), e.arity, args)
		}
		argsWire, err := in.wire.MarshalList(args)
		if err != nil {
			return core.Null, err
		}
		if err := prelude.BeginRef(in.rt, e.jsSlot, argsWire); err != nil {
			return core.Null, engineFault(err, "invoking %s", ref)
		}
		return in.await(ctx, deadline, in.cfg.ScriptSourceOrigin)
	})
}

// InvokeGlobal calls globalThis[name] with args.
func (in *Instance) InvokeGlobal(ctx context.Context, name string, args []core.Value) (core.Value, error) {
	if name == "" {
		return core.Null, core.NewError(core.KindTypeMismatch, "function name must not be empty")
	}
	return in.call(ctx, "invoke "+name, func(ctx context.Context, deadline time.Time) (core.Value, error) {
		arity, err := prelude.GlobalArity(in.rt, name)
		if err != nil {
			return core.Null, engineFault(err, "resolving %s", name)
		}
		if arity < 0 {
			return core.Null, core.NewError(core.KindTypeMismatch, "%s is not a function", name)
		}
		if len(args) < arity {
			return core.Null, core.ArityMismatch(name, arity, args)
		}
		argsWire, err := in.wire.MarshalList(args)
		if err != nil {
			return core.Null, err
		}
		if err := prelude.BeginGlobal(in.rt, name, argsWire); err != nil {
			return core.Null, engineFault(err, "invoking %s", name)
		}
		return in.await(ctx, deadline, in.cfg.ScriptSourceOrigin)
	})
}

// RegisterHostFunction exposes fn to scripts as globalThis[name]. It
// fails with ConfigurationConflict when the instance was created with
// allowHostFunctionRegistration off. Registering a name again replaces
// the previous function.
func (in *Instance) RegisterHostFunction(ctx context.Context, name string, fn HostFunc) error {
	if !in.cfg.AllowHostFunctionRegistration {
		return core.NewError(core.KindConfigurationConflict, "host function registration is disabled for instance %d", in.ID)
	}
	if name == "" {
		return core.NewError(core.KindTypeMismatch, "host function name must not be empty")
	}
	if fn == nil {
		return core.NewError(core.KindTypeMismatch, "host function %s is nil", name)
	}
	return in.withLock(ctx, func() error {
		in.mu.Lock()
		in.hostSeq++
		rawName := fmt.Sprintf("__jsb_host_%d", in.hostSeq)
		in.mu.Unlock()
		if err := prelude.BindHost(in.rt, name, rawName, in.trampoline(name, fn)); err != nil {
			return core.WrapError(core.KindRuntimeException, err, "binding host function %s", name)
		}
		in.log.Debug("host function registered", zap.String("name", name))
		return nil
	})
}

// trampoline adapts fn to the prelude's raw host call shape. Errors and
// panics become script exceptions.
func (in *Instance) trampoline(name string, fn HostFunc) prelude.HostCall {
	return func(argsWire string) (out string) {
		in.callbackDepth.Add(1)
		defer in.callbackDepth.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				in.log.Warn("host function panicked", zap.String("name", name), zap.Any("panic", r))
				out = prelude.HostException(core.NewError(core.KindRuntimeException, "host function %s panicked: %v", name, r))
			}
		}()

		args, err := in.wire.UnmarshalList(argsWire)
		if err != nil {
			return prelude.HostException(err)
		}
		in.mu.Lock()
		ctx := in.callCtx
		in.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		v, err := fn(withCallbackFrame(ctx, in), args)
		if err != nil {
			return prelude.HostException(err)
		}
		return prelude.HostResult(in.wire, v)
	}
}

// ReleaseRef frees ref before the instance is disposed.
func (in *Instance) ReleaseRef(ctx context.Context, ref core.Ref) error {
	if ref.Instance != in.ID {
		return core.NewError(core.KindTypeMismatch, "reference belongs to instance %d, not %d", ref.Instance, in.ID)
	}
	return in.withLock(ctx, func() error {
		slot, err := in.refs.drop(ref)
		if err != nil {
			return err
		}
		if err := prelude.Release(in.rt, slot); err != nil {
			return core.WrapError(core.KindRuntimeException, err, "releasing %s", ref)
		}
		return nil
	})
}

// LiveRefs returns the number of unreleased references.
func (in *Instance) LiveRefs() int {
	return in.refs.live()
}

// Logs returns a copy of the captured console output.
func (in *Instance) Logs() []core.LogEntry {
	return in.logs.snapshot()
}

// DrainLogs returns and clears the captured console output, with the
// number of entries dropped since the last drain.
func (in *Instance) DrainLogs() ([]core.LogEntry, int) {
	return in.logs.drain()
}

// dispose moves the instance to Disposed. An in-flight call is
// interrupted and waited for before the runtime is freed. Only the
// platform calls this.
func (in *Instance) dispose() {
	if !in.disposing.CompareAndSwap(false, true) {
		<-in.done
		return
	}

	in.mu.Lock()
	if in.cancelCall != nil {
		in.cancelCall()
	}
	in.mu.Unlock()

	in.lock <- struct{}{}
	in.state.Store(int32(StateDisposed))
	in.refs.close()
	in.loop.Reset()
	in.mu.Lock()
	in.units = make(map[uint64]*core.ScriptUnit)
	in.mu.Unlock()
	if err := in.rt.Close(); err != nil {
		in.log.Warn("closing runtime", zap.Error(err))
	}
	close(in.done)
	<-in.lock
	in.log.Info("instance disposed")
}
