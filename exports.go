package jsbridge

import (
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/engine"
)

// Type aliases re-exporting internal types so Go hosts can use
// jsbridge.Value, jsbridge.Instance, etc. without importing the internal
// packages directly.

type Value = core.Value
type Kind = core.Kind
type Ref = core.Ref
type ScriptErrorValue = core.ScriptErrorValue
type CallError = core.CallError
type ErrorKind = core.ErrorKind
type Config = core.Config
type PlatformConfig = core.PlatformConfig
type BusyPolicy = core.BusyPolicy
type ScriptUnit = core.ScriptUnit
type LogEntry = core.LogEntry
type Platform = engine.Platform
type Instance = engine.Instance
type State = engine.State
type HostFunc = engine.HostFunc

// Value kinds.
const (
	KindNull            = core.KindNull
	KindBoolean         = core.KindBoolean
	KindNumber          = core.KindNumber
	KindString          = core.KindString
	KindByteBuffer      = core.KindByteBuffer
	KindError           = core.KindError
	KindOpaqueReference = core.KindOpaqueReference
)

// Instance states.
const (
	StateIdle     = engine.StateIdle
	StateRunning  = engine.StateRunning
	StateFaulted  = engine.StateFaulted
	StateDisposed = engine.StateDisposed
)

// Busy policies.
const (
	BusyBlock = core.BusyBlock
	BusyFail  = core.BusyFail
)

// Error sentinels for errors.Is.
var (
	ErrConfigurationConflict = core.ErrConfigurationConflict
	ErrCompile               = core.ErrCompile
	ErrRuntimeException      = core.ErrRuntimeException
	ErrTypeMismatch          = core.ErrTypeMismatch
	ErrEngineDisposed        = core.ErrEngineDisposed
	ErrTimeout               = core.ErrTimeout
	ErrBusy                  = core.ErrBusy
	ErrNotReady              = core.ErrNotReady
	ErrInvalidHandle         = core.ErrInvalidHandle
	ErrFaulted               = core.ErrFaulted
)

// Functions re-exported from core.
var (
	Null          = core.Null
	Bool          = core.Bool
	Number        = core.Number
	String        = core.String
	Bytes         = core.Bytes
	ErrorValue    = core.ErrorValue
	Reference     = core.Reference
	Encode        = core.Encode
	EncodeJSON    = core.EncodeJSON
	Decode        = core.Decode
	DecodeJSON    = core.DecodeJSON
	DecodeInt64   = core.DecodeInt64
	DecodeInt32   = core.DecodeInt32
	DecodeFloat64 = core.DecodeFloat64
	DecodeString  = core.DecodeString
	DecodeBytes   = core.DecodeBytes
	DecodeBool    = core.DecodeBool
	DecodeRef     = core.DecodeRef
	DecodeError   = core.DecodeError
	KindOf        = core.KindOf
	DefaultConfig = core.DefaultConfig
	SetLogger     = core.SetLogger
)

// NewPlatform returns an uninitialized platform using the compiled-in
// engine backend (QuickJS, or V8 with the v8 build tag).
func NewPlatform() *engine.Platform {
	return engine.NewPlatform(newBackend())
}

// BackendName reports the compiled-in engine backend.
func BackendName() string {
	return newBackend().Name()
}
