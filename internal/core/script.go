package core

import "time"

// ScriptUnit is a loaded script bound to exactly one instance. Prepared
// holds what the engine evaluates (the checked source, or transpiled
// output for TypeScript); Hash is the prepared-script cache key.
type ScriptUnit struct {
	ID         uint64    `json:"id"`
	InstanceID uint64    `json:"instance"`
	Origin     string    `json:"origin"`
	Source     string    `json:"-"`
	Prepared   string    `json:"-"`
	Hash       string    `json:"hash"`
	Compiled   bool      `json:"compiled"` // the backend holds a compiled form
	LoadedAt   time.Time `json:"loadedAt"`
}
