package core

// Backend is the interface that engine implementations (QuickJS, V8) must
// satisfy. The root jsbridge package picks one based on build tags and
// hands it to the platform.
type Backend interface {
	// Name identifies the engine ("quickjs" or "v8").
	Name() string

	// NewRuntime creates one isolated script context honoring the memory
	// ceiling in cfg.
	NewRuntime(cfg Config) (JSRuntime, error)
}
