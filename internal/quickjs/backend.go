//go:build !v8

// Package quickjs is the default engine backend, built on the pure-Go
// QuickJS port from modernc.org.
package quickjs

import (
	"fmt"

	"github.com/cryguy/jsbridge/internal/core"
	"modernc.org/quickjs"
)

// Name identifies this backend.
const Name = "quickjs"

// Backend creates QuickJS runtimes.
type Backend struct{}

var _ core.Backend = Backend{}

// Name returns "quickjs".
func (Backend) Name() string { return Name }

// NewRuntime creates a VM with the configured memory ceiling.
func (Backend) NewRuntime(cfg core.Config) (core.JSRuntime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if cfg.MaxHeapBytes > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MaxHeapBytes))
	}
	return newRuntime(vm), nil
}
