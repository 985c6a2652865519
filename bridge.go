package jsbridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/engine"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// HostCallback is a host function as seen from the foreign call surface.
// It receives the JSON array of tagged arguments and returns either
// {"ok":<tagged value>} or {"error":{"name":...,"message":...}}. Calls
// made back into the bridge from a callback go through
// b.WithContext(ctx), so reentry on the calling instance is reported as
// Busy.
type HostCallback func(ctx context.Context, argsJSON string) string

// Bridge is the string and handle-only call surface used by foreign
// callers. Every method returns a JSON envelope:
//
//	{"ok":true, ...result fields}
//	{"ok":false,"error":{"kind":...,"message":...,"stack":...,"line":...,"column":...,"origin":...}}
//
// Values travel in the tagged wire form, e.g. {"t":"num","v":2}. No method
// panics; a panic inside the bridge is reported as a Faulted error.
type Bridge struct {
	platform *engine.Platform
	ctx      context.Context
}

// NewBridge returns a bridge over a fresh platform using the compiled-in
// engine backend.
func NewBridge() *Bridge {
	return &Bridge{platform: NewPlatform()}
}

// NewBridgeWith returns a bridge over an existing platform.
func NewBridgeWith(p *engine.Platform) *Bridge {
	return &Bridge{platform: p}
}

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process-wide bridge.
func Default() *Bridge {
	defaultOnce.Do(func() {
		defaultBridge = NewBridge()
	})
	return defaultBridge
}

// WithContext returns a shallow copy of b whose calls use ctx.
func (b *Bridge) WithContext(ctx context.Context) *Bridge {
	if ctx == nil {
		panic("nil context")
	}
	b2 := *b
	b2.ctx = ctx
	return &b2
}

func (b *Bridge) context() context.Context {
	if b.ctx != nil {
		return b.ctx
	}
	return context.Background()
}

// Platform returns the underlying platform.
func (b *Bridge) Platform() *engine.Platform {
	return b.platform
}

// ---------------------------------------------------------------------------
// Envelopes
// ---------------------------------------------------------------------------

const okEnvelope = `{"ok":true}`

func okWith(fields ...any) string {
	out := okEnvelope
	for i := 0; i+1 < len(fields); i += 2 {
		path := fields[i].(string)
		var err error
		switch v := fields[i+1].(type) {
		case rawJSON:
			out, err = sjson.SetRaw(out, path, string(v))
		default:
			out, err = sjson.Set(out, path, v)
		}
		if err != nil {
			return errorEnvelope(core.WrapError(core.KindTypeMismatch, err, "encoding %s", path))
		}
	}
	return out
}

// rawJSON marks an already encoded field for okWith.
type rawJSON string

func errorEnvelope(err error) string {
	ce := core.AsCallError(err)
	out, serr := sjson.Set(`{"ok":false}`, "error", ce)
	if serr != nil {
		out, _ = sjson.Set(`{"ok":false,"error":{"kind":"RuntimeException"}}`, "error.message", err.Error())
	}
	return out
}

// guard runs fn and converts panics into a Faulted envelope.
func guard(op string, fn func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			core.Logger().Error("panic in bridge call", zap.String("op", op), zap.Any("panic", r))
			out = errorEnvelope(core.NewError(core.KindFaulted, "internal error in %s: %v", op, r))
		}
	}()
	return fn()
}

func (b *Bridge) instance(id uint64) (*engine.Instance, error) {
	return b.platform.Instance(id)
}

func valueEnvelope(v core.Value, err error) string {
	if err != nil {
		return errorEnvelope(err)
	}
	w, err := core.HostWire.Marshal(v)
	if err != nil {
		return errorEnvelope(err)
	}
	return okWith("value", rawJSON(w))
}

// parseRef reads a reference from its tagged form
// {"t":"ref","v":{"instance":1,"slot":2,"gen":1}}.
func parseRef(refJSON string) (core.Ref, error) {
	v, err := core.HostWire.Unmarshal(refJSON)
	if err != nil {
		return core.Ref{}, err
	}
	return core.DecodeRef(v)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Initialize initializes the platform from a JSON PlatformConfig. An empty
// string uses the defaults.
func (b *Bridge) Initialize(configJSON string) string {
	return guard("initialize", func() string {
		cfg, err := core.ParsePlatformConfig(configJSON)
		if err != nil {
			return errorEnvelope(core.WrapError(core.KindConfigurationConflict, err, "invalid platform configuration"))
		}
		if err := b.platform.Initialize(cfg); err != nil {
			return errorEnvelope(err)
		}
		return okWith("backend", b.platform.Backend())
	})
}

// Shutdown disposes every instance and shuts the platform down.
func (b *Bridge) Shutdown() string {
	return guard("shutdown", func() string {
		if err := b.platform.Shutdown(b.context()); err != nil {
			return errorEnvelope(err)
		}
		return okEnvelope
	})
}

// CreateInstance creates an instance from a JSON Config. Omitted fields
// take the platform defaults.
func (b *Bridge) CreateInstance(configJSON string) string {
	return guard("createInstance", func() string {
		defaults := core.DefaultConfig()
		if b.platform.Ready() {
			defaults = b.platform.Config().Defaults
		}
		// booleans are not inherited by CreateInstance, so seed them here
		base := core.Config{AllowHostFunctionRegistration: defaults.AllowHostFunctionRegistration}
		cfg, err := core.ParseConfig(configJSON, base)
		if err != nil {
			return errorEnvelope(core.WrapError(core.KindConfigurationConflict, err, "invalid instance configuration"))
		}
		in, err := b.platform.CreateInstance(cfg)
		if err != nil {
			return errorEnvelope(err)
		}
		return okWith("instance", in.ID, "backend", in.Backend())
	})
}

// DisposeInstance disposes an instance. Disposing twice is not an error.
func (b *Bridge) DisposeInstance(id uint64) string {
	return guard("disposeInstance", func() string {
		if err := b.platform.DisposeInstance(id); err != nil {
			return errorEnvelope(err)
		}
		return okEnvelope
	})
}

// InstanceState reports Idle, Running or Faulted for a live instance.
func (b *Bridge) InstanceState(id uint64) string {
	return guard("instanceState", func() string {
		in, err := b.instance(id)
		if err != nil {
			if core.KindOf(err) == core.KindEngineDisposed {
				return okWith("state", engine.StateDisposed.String())
			}
			return errorEnvelope(err)
		}
		return okWith("state", in.State().String(), "liveRefs", in.LiveRefs())
	})
}

// ---------------------------------------------------------------------------
// Scripts and calls
// ---------------------------------------------------------------------------

// LoadScript prepares source without running it and returns the unit ID.
func (b *Bridge) LoadScript(id uint64, source, origin string) string {
	return guard("loadScript", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		unit, err := in.LoadScript(b.context(), source, origin)
		if err != nil {
			return errorEnvelope(err)
		}
		return okWith("unit", unit.ID, "origin", unit.Origin, "hash", unit.Hash)
	})
}

// UnloadScript forgets a loaded unit.
func (b *Bridge) UnloadScript(id, unitID uint64) string {
	return guard("unloadScript", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		if err := in.UnloadScript(b.context(), unitID); err != nil {
			return errorEnvelope(err)
		}
		return okEnvelope
	})
}

// Execute runs a loaded unit and returns its completion value.
func (b *Bridge) Execute(id, unitID uint64) string {
	return guard("execute", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		unit, err := in.Unit(unitID)
		if err != nil {
			return errorEnvelope(err)
		}
		return valueEnvelope(in.Execute(b.context(), unit))
	})
}

// Invoke calls the function behind a tagged reference with a JSON array
// of tagged arguments.
func (b *Bridge) Invoke(id uint64, refJSON, argsJSON string) string {
	return guard("invoke", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		ref, err := parseRef(refJSON)
		if err != nil {
			return errorEnvelope(err)
		}
		args, err := core.HostWire.UnmarshalList(argsJSON)
		if err != nil {
			return errorEnvelope(err)
		}
		return valueEnvelope(in.Invoke(b.context(), ref, args))
	})
}

// InvokeGlobal calls globalThis[name] with a JSON array of tagged
// arguments.
func (b *Bridge) InvokeGlobal(id uint64, name, argsJSON string) string {
	return guard("invokeGlobal", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		args, err := core.HostWire.UnmarshalList(argsJSON)
		if err != nil {
			return errorEnvelope(err)
		}
		return valueEnvelope(in.InvokeGlobal(b.context(), name, args))
	})
}

// RegisterHostFunction exposes cb to scripts as globalThis[name].
func (b *Bridge) RegisterHostFunction(id uint64, name string, cb HostCallback) string {
	return guard("registerHostFunction", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		if cb == nil {
			return errorEnvelope(core.NewError(core.KindTypeMismatch, "host function %s is nil", name))
		}
		if err := in.RegisterHostFunction(b.context(), name, adaptCallback(name, cb)); err != nil {
			return errorEnvelope(err)
		}
		return okEnvelope
	})
}

// adaptCallback turns a foreign callback into an engine.HostFunc.
func adaptCallback(name string, cb HostCallback) engine.HostFunc {
	return func(ctx context.Context, args []core.Value) (core.Value, error) {
		argsJSON, err := core.HostWire.MarshalList(args)
		if err != nil {
			return core.Null, err
		}
		out := cb(ctx, argsJSON)
		if !gjson.Valid(out) {
			return core.Null, core.NewError(core.KindTypeMismatch, "host function %s returned malformed JSON", name)
		}
		res := gjson.Parse(out)
		if e := res.Get("error"); e.Exists() {
			ce := core.NewError(core.KindRuntimeException, "%s", e.Get("message").String())
			ce.Name = e.Get("name").String()
			if ce.Message == "" {
				ce.Message = strings.TrimSpace(e.Raw)
			}
			return core.Null, ce
		}
		ok := res.Get("ok")
		if !ok.Exists() {
			return core.Null, core.NewError(core.KindTypeMismatch, "host function %s returned neither ok nor error", name)
		}
		return core.HostWire.Unmarshal(ok.Raw)
	}
}

// ReleaseRef frees a reference before its instance is disposed.
func (b *Bridge) ReleaseRef(id uint64, refJSON string) string {
	return guard("releaseRef", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		ref, err := parseRef(refJSON)
		if err != nil {
			return errorEnvelope(err)
		}
		if err := in.ReleaseRef(b.context(), ref); err != nil {
			return errorEnvelope(err)
		}
		return okEnvelope
	})
}

// DrainLogs returns and clears the instance's captured console output.
func (b *Bridge) DrainLogs(id uint64) string {
	return guard("drainLogs", func() string {
		in, err := b.instance(id)
		if err != nil {
			return errorEnvelope(err)
		}
		logs, dropped := in.DrainLogs()
		if logs == nil {
			logs = []core.LogEntry{}
		}
		return okWith("logs", logs, "dropped", dropped)
	})
}

// ---------------------------------------------------------------------------
// Codec helpers
// ---------------------------------------------------------------------------

// EncodeValue converts plain JSON to the tagged wire form. Scalars map to
// their kinds; objects and arrays become a ByteBuffer holding their JSON.
func (b *Bridge) EncodeValue(plainJSON string) string {
	return guard("encodeValue", func() string {
		v, err := EncodePlainJSON(plainJSON)
		return valueEnvelope(v, err)
	})
}

// DecodeValue checks that a tagged value has the expected kind ("number",
// "string", ...; empty accepts any) and returns it as plain JSON under
// "native". ByteBuffers come back base64 encoded.
func (b *Bridge) DecodeValue(taggedJSON, kind string) string {
	return guard("decodeValue", func() string {
		v, err := core.HostWire.Unmarshal(taggedJSON)
		if err != nil {
			return errorEnvelope(err)
		}
		if kind != "" {
			k, err := core.ParseKind(kind)
			if err != nil {
				return errorEnvelope(err)
			}
			if _, err := core.Decode(v, k); err != nil {
				return errorEnvelope(err)
			}
		}
		return okWith("kind", v.Kind().String(), "native", rawJSON(plainJSON(v)))
	})
}

// EncodePlainJSON converts one plain JSON document to a Value.
func EncodePlainJSON(data string) (core.Value, error) {
	if !gjson.Valid(data) {
		return core.Null, core.NewError(core.KindTypeMismatch, "malformed JSON")
	}
	r := gjson.Parse(data)
	switch r.Type {
	case gjson.Null:
		return core.Null, nil
	case gjson.True, gjson.False:
		return core.Bool(r.Bool()), nil
	case gjson.Number:
		return core.Number(r.Float()), nil
	case gjson.String:
		return core.String(r.String()), nil
	}
	return core.Bytes([]byte(r.Raw)), nil
}

// plainJSON renders v without tags. Non-finite numbers have no JSON form
// and are rendered as their string names.
func plainJSON(v core.Value) string {
	var out string
	switch v.Kind() {
	case core.KindNull:
		return "null"
	case core.KindBoolean:
		out, _ = sjson.Set(`{}`, "x", v.Bool())
	case core.KindNumber:
		w, _ := core.HostWire.Marshal(v)
		return gjson.Get(w, "v").Raw
	case core.KindString:
		out, _ = sjson.Set(`{}`, "x", v.Str())
	case core.KindByteBuffer:
		w, _ := core.HostWire.Marshal(v)
		return gjson.Get(w, "v").Raw
	case core.KindError:
		out, _ = sjson.Set(`{}`, "x", v.ErrorPayload())
	case core.KindOpaqueReference:
		out, _ = sjson.Set(`{}`, "x", v.Ref())
	default:
		return fmt.Sprintf("%q", v.String())
	}
	return gjson.Get(out, "x").Raw
}
