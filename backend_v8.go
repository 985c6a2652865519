//go:build v8

package jsbridge

import (
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/v8engine"
)

func newBackend() core.Backend {
	return v8engine.Backend{}
}
