package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// BusyPolicy decides what happens when a call arrives for an instance that
// is already executing.
type BusyPolicy string

const (
	// BusyBlock waits for the running call to finish (honoring the caller's
	// context).
	BusyBlock BusyPolicy = "block"
	// BusyFail returns a Busy error immediately.
	BusyFail BusyPolicy = "fail"
)

// DefaultScriptOrigin tags scripts that were loaded without an origin.
const DefaultScriptOrigin = "script.js"

// Config holds the per-instance runtime configuration. The JSON names are
// the ones accepted on the foreign call surface.
type Config struct {
	MaxHeapBytes                  int64      `json:"maxHeapBytes"`       // engine memory ceiling, 0 = unlimited
	ExecutionTimeoutMs            int64      `json:"executionTimeoutMs"` // per-call deadline, 0 = none
	AllowHostFunctionRegistration bool       `json:"allowHostFunctionRegistration"`
	ScriptSourceOrigin            string     `json:"scriptSourceOrigin"` // default origin tag for stack traces
	BusyPolicy                    BusyPolicy `json:"busyPolicy"`
	TypeScript                    bool       `json:"typescript"` // transpile loaded sources as TypeScript
}

// PlatformConfig is passed once per process to initialize the platform.
// Two configs conflict when they are not equal.
type PlatformConfig struct {
	Backend      string `json:"backend"`      // expected engine name, empty = whatever is compiled in
	CacheDir     string `json:"cacheDir"`     // prepared-script cache directory, empty = in-memory
	CacheEntries int    `json:"cacheEntries"` // in-memory cache capacity
	Defaults     Config `json:"defaults"`     // inherited by instances for zero-valued fields
}

// DefaultConfig returns the instance defaults used when the host supplies
// none.
func DefaultConfig() Config {
	return Config{
		MaxHeapBytes:                  64 * 1024 * 1024,
		ExecutionTimeoutMs:            5000,
		AllowHostFunctionRegistration: true,
		ScriptSourceOrigin:            DefaultScriptOrigin,
		BusyPolicy:                    BusyBlock,
	}
}

// DefaultPlatformConfig returns the platform configuration used for lazy
// initialization.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		CacheEntries: 256,
		Defaults:     DefaultConfig(),
	}
}

// Timeout returns the execution deadline as a duration (0 = none).
func (c Config) Timeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutMs) * time.Millisecond
}

// WithDefaults fills zero-valued fields of c from d. Booleans are taken
// as given.
func (c Config) WithDefaults(d Config) Config {
	if c.MaxHeapBytes == 0 {
		c.MaxHeapBytes = d.MaxHeapBytes
	}
	if c.ExecutionTimeoutMs == 0 {
		c.ExecutionTimeoutMs = d.ExecutionTimeoutMs
	}
	if c.ScriptSourceOrigin == "" {
		c.ScriptSourceOrigin = d.ScriptSourceOrigin
	}
	if c.BusyPolicy == "" {
		c.BusyPolicy = d.BusyPolicy
	}
	return c
}

// Validate rejects negative limits and unknown policies.
func (c Config) Validate() error {
	if c.MaxHeapBytes < 0 {
		return fmt.Errorf("maxHeapBytes must not be negative")
	}
	if c.ExecutionTimeoutMs < 0 {
		return fmt.Errorf("executionTimeoutMs must not be negative")
	}
	switch c.BusyPolicy {
	case "", BusyBlock, BusyFail:
	default:
		return fmt.Errorf("unknown busyPolicy %q", c.BusyPolicy)
	}
	return nil
}

// ParseConfig decodes a JSON instance config on top of base. An empty
// string yields base unchanged.
func ParseConfig(raw string, base Config) (Config, error) {
	cfg := base
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ParsePlatformConfig decodes a JSON platform config on top of the
// defaults.
func ParsePlatformConfig(raw string) (PlatformConfig, error) {
	cfg := DefaultPlatformConfig()
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return PlatformConfig{}, fmt.Errorf("decoding platform config: %w", err)
	}
	return cfg, cfg.Defaults.Validate()
}
