//go:build v8

package engine

import (
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/v8engine"
)

func testBackend() core.Backend { return v8engine.Backend{} }
