//go:build !v8

package quickjs

import (
	"reflect"
	"unsafe"

	"github.com/cryguy/jsbridge/internal/core"
	"go.uber.org/zap"
	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// maxJobsPerPump bounds one microtask checkpoint so a promise chain that
// keeps scheduling itself cannot hold the runtime forever between
// deadline checks. The interrupt handler still covers the jobs themselves.
const maxJobsPerPump = 1 << 20

// jobPump runs pending QuickJS jobs (Promise reactions). The
// modernc.org/quickjs wrapper never calls JS_ExecutePendingJob, so the
// runtime pointer and TLS are pulled out of the VM once and the C API is
// called directly.
type jobPump struct {
	rt  uintptr
	tls *libc.TLS
	ok  bool
}

func newJobPump(vm *quickjs.VM) jobPump {
	rt, tls, ok := extractRuntime(vm)
	if !ok {
		core.Logger().Warn("quickjs: runtime internals unavailable, promise jobs will not run")
	}
	return jobPump{rt: rt, tls: tls, ok: ok}
}

// run executes jobs until the queue is empty or a job fails, and returns
// the number of jobs executed.
func (p jobPump) run() int {
	if !p.ok {
		return 0
	}
	count := 0
	for count < maxJobsPerPump {
		ret := lib.XJS_ExecutePendingJob(p.tls, p.rt, 0)
		if ret <= 0 {
			if ret < 0 {
				core.Logger().Debug("quickjs: pending job failed", zap.Int("executed", count))
			}
			break
		}
		count++
	}
	return count
}

// extractRuntime uses unsafe reflection to pull the unexported tls and
// cRuntime values out of a *quickjs.VM.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext       uintptr
//	    goFuncs       map[string]int32
//	    int32_16      lib.TJSValue
//	    int32_2       lib.TJSValue
//	    runtime       *runtime
//	    ...
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func extractRuntime(vm *quickjs.VM) (cRuntime uintptr, tls *libc.TLS, ok bool) {
	defer func() {
		if recover() != nil {
			cRuntime, tls, ok = 0, nil, false
		}
	}()

	vmVal := reflect.ValueOf(vm).Elem()
	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}

	rtPtr := unsafe.Pointer(rtField.Pointer())
	rtVal := reflect.NewAt(rtField.Type().Elem(), rtPtr).Elem()

	cRuntimeField := rtVal.FieldByName("cRuntime")
	if !cRuntimeField.IsValid() {
		return 0, nil, false
	}
	cRuntime = uintptr(cRuntimeField.Uint())

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return 0, nil, false
	}
	tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))

	return cRuntime, tls, true
}
