// Command libjsbridge builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libjsbridge.so ./cmd/libjsbridge
//
// Every JSB_* function returns a malloc'd JSON envelope that the caller
// releases with JSB_FreeString. Host callbacks return a malloc'd string
// too; the library frees it after reading. A JSB_* call made from inside
// a host callback, on the thread running that callback, is treated as a
// reentrant call and fails with Busy when it targets an instance whose
// callback is on the stack.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef char* (*jsb_host_fn)(uintptr_t userdata, const char* args_json);

static __thread uint64_t jsb_callback_token;

static char* jsb_call_host(jsb_host_fn fn, uintptr_t userdata, uint64_t token, const char* args_json) {
	uint64_t prev = jsb_callback_token;
	jsb_callback_token = token;
	char* out = fn(userdata, args_json);
	jsb_callback_token = prev;
	return out;
}

static uint64_t jsb_current_callback(void) {
	return jsb_callback_token;
}
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"github.com/cryguy/jsbridge"
	"github.com/cryguy/jsbridge/internal/core"
	"go.uber.org/zap"
)

func main() {}

// callbacks maps the token of each running host callback to the context
// it was given, so calls made from the callback's thread carry it.
var callbacks struct {
	sync.Mutex
	next uint64
	ctx  map[uint64]context.Context
}

func pushCallback(ctx context.Context) uint64 {
	callbacks.Lock()
	defer callbacks.Unlock()
	if callbacks.ctx == nil {
		callbacks.ctx = make(map[uint64]context.Context)
	}
	callbacks.next++
	callbacks.ctx[callbacks.next] = ctx
	return callbacks.next
}

func popCallback(token uint64) {
	callbacks.Lock()
	delete(callbacks.ctx, token)
	callbacks.Unlock()
}

func bridge() *jsbridge.Bridge {
	b := jsbridge.Default()
	token := uint64(C.jsb_current_callback())
	if token == 0 {
		return b
	}
	callbacks.Lock()
	ctx, ok := callbacks.ctx[token]
	callbacks.Unlock()
	if !ok {
		return b
	}
	return b.WithContext(ctx)
}

func cstring(s string) *C.char {
	return C.CString(s)
}

func gostring(p *C.char) string {
	if p == nil {
		return ""
	}
	return C.GoString(p)
}

//export JSB_FreeString
func JSB_FreeString(p *C.char) {
	if p != nil {
		C.free(unsafe.Pointer(p))
	}
}

//export JSB_SetLogLevel
func JSB_SetLogLevel(level *C.char) *C.char {
	lvl, err := zap.ParseAtomicLevel(gostring(level))
	if err != nil {
		return cstring(`{"ok":false,"error":{"kind":"ConfigurationConflict","message":"unknown log level"}}`)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	logger, err := cfg.Build()
	if err != nil {
		return cstring(`{"ok":false,"error":{"kind":"ConfigurationConflict","message":"building logger"}}`)
	}
	core.SetLogger(logger)
	return cstring(`{"ok":true}`)
}

//export JSB_Initialize
func JSB_Initialize(config *C.char) *C.char {
	return cstring(bridge().Initialize(gostring(config)))
}

//export JSB_Shutdown
func JSB_Shutdown() *C.char {
	return cstring(bridge().Shutdown())
}

//export JSB_CreateInstance
func JSB_CreateInstance(config *C.char) *C.char {
	return cstring(bridge().CreateInstance(gostring(config)))
}

//export JSB_DisposeInstance
func JSB_DisposeInstance(instance C.uint64_t) *C.char {
	return cstring(bridge().DisposeInstance(uint64(instance)))
}

//export JSB_InstanceState
func JSB_InstanceState(instance C.uint64_t) *C.char {
	return cstring(bridge().InstanceState(uint64(instance)))
}

//export JSB_LoadScript
func JSB_LoadScript(instance C.uint64_t, source, origin *C.char) *C.char {
	return cstring(bridge().LoadScript(uint64(instance), gostring(source), gostring(origin)))
}

//export JSB_UnloadScript
func JSB_UnloadScript(instance, unit C.uint64_t) *C.char {
	return cstring(bridge().UnloadScript(uint64(instance), uint64(unit)))
}

//export JSB_Execute
func JSB_Execute(instance, unit C.uint64_t) *C.char {
	return cstring(bridge().Execute(uint64(instance), uint64(unit)))
}

//export JSB_Invoke
func JSB_Invoke(instance C.uint64_t, ref, args *C.char) *C.char {
	return cstring(bridge().Invoke(uint64(instance), gostring(ref), gostring(args)))
}

//export JSB_InvokeGlobal
func JSB_InvokeGlobal(instance C.uint64_t, name, args *C.char) *C.char {
	return cstring(bridge().InvokeGlobal(uint64(instance), gostring(name), gostring(args)))
}

//export JSB_RegisterHostFunction
func JSB_RegisterHostFunction(instance C.uint64_t, name *C.char, fn C.jsb_host_fn, userdata C.uintptr_t) *C.char {
	if fn == nil {
		return cstring(bridge().RegisterHostFunction(uint64(instance), gostring(name), nil))
	}
	cb := func(ctx context.Context, argsJSON string) string {
		cargs := C.CString(argsJSON)
		defer C.free(unsafe.Pointer(cargs))
		token := pushCallback(ctx)
		defer popCallback(token)
		out := C.jsb_call_host(fn, userdata, C.uint64_t(token), cargs)
		if out == nil {
			return `{"ok":{"t":"null"}}`
		}
		defer C.free(unsafe.Pointer(out))
		return C.GoString(out)
	}
	return cstring(bridge().RegisterHostFunction(uint64(instance), gostring(name), cb))
}

//export JSB_ReleaseRef
func JSB_ReleaseRef(instance C.uint64_t, ref *C.char) *C.char {
	return cstring(bridge().ReleaseRef(uint64(instance), gostring(ref)))
}

//export JSB_DrainLogs
func JSB_DrainLogs(instance C.uint64_t) *C.char {
	return cstring(bridge().DrainLogs(uint64(instance)))
}

//export JSB_EncodeValue
func JSB_EncodeValue(plain *C.char) *C.char {
	return cstring(bridge().EncodeValue(gostring(plain)))
}

//export JSB_DecodeValue
func JSB_DecodeValue(tagged, kind *C.char) *C.char {
	return cstring(bridge().DecodeValue(gostring(tagged), gostring(kind)))
}

//export JSB_Backend
func JSB_Backend() *C.char {
	return cstring(jsbridge.BackendName())
}
