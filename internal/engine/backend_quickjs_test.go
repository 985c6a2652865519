//go:build !v8

package engine

import (
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/quickjs"
)

func testBackend() core.Backend { return quickjs.Backend{} }
