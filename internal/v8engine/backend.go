//go:build v8

// Package v8engine is the V8 backend, selected with the v8 build tag.
package v8engine

import (
	"github.com/cryguy/jsbridge/internal/core"
	v8 "github.com/tommie/v8go"
)

// Name identifies this backend.
const Name = "v8"

// Backend creates V8 isolates, one per runtime.
type Backend struct{}

var _ core.Backend = Backend{}

// Name returns "v8".
func (Backend) Name() string { return Name }

// NewRuntime creates an isolate with the configured heap ceiling and a
// fresh context.
func (Backend) NewRuntime(cfg core.Config) (core.JSRuntime, error) {
	var iso *v8.Isolate
	if cfg.MaxHeapBytes > 0 {
		heapSize := uint64(cfg.MaxHeapBytes)
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	return &v8Runtime{
		iso:     iso,
		ctx:     v8.NewContext(iso),
		scripts: make(map[string]*v8.UnboundScript),
	}, nil
}
