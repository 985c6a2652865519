package core

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// Kind tags a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindByteBuffer
	KindError
	KindOpaqueReference
)

var kindNames = [...]string{
	KindNull:            "null",
	KindBoolean:         "boolean",
	KindNumber:          "number",
	KindString:          "string",
	KindByteBuffer:      "bytebuffer",
	KindError:           "error",
	KindOpaqueReference: "reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind resolves a kind name as used on the foreign call surface.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, NewError(KindTypeMismatch, "unknown value kind %q", s)
}

// Ref is a handle to a script-side value that is never converted. Slot and
// Gen index the owning instance's reference arena; a Ref is only valid while
// that instance is alive and the slot has not been released.
type Ref struct {
	Instance uint64 `json:"instance"`
	Slot     uint32 `json:"slot"`
	Gen      uint32 `json:"gen"`
	Type     string `json:"type,omitempty"`  // "function", "object", "array", ...
	Arity    int    `json:"arity,omitempty"` // declared parameter count for functions
}

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r.Instance == 0 && r.Slot == 0
}

func (r Ref) String() string {
	return fmt.Sprintf("ref(%d:%d/%d %s)", r.Instance, r.Slot, r.Gen, r.Type)
}

// ScriptErrorValue is the payload of an Error value.
type ScriptErrorValue struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Value is the tagged variant used for every value crossing the bridge.
// The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	buf  []byte
	err  *ScriptErrorValue
	ref  Ref
}

// Null is the null value.
var Null = Value{}

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Number returns a Number value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a String value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bytes returns a ByteBuffer value holding a copy of b.
func Bytes(b []byte) Value {
	return Value{kind: KindByteBuffer, buf: bytes.Clone(nonNil(b))}
}

// ErrorValue returns an Error value.
func ErrorValue(name, message, stack string) Value {
	if name == "" {
		name = "Error"
	}
	return Value{kind: KindError, err: &ScriptErrorValue{Name: name, Message: message, Stack: stack}}
}

// Reference returns an OpaqueReference value.
func Reference(r Ref) Value { return Value{kind: KindOpaqueReference, ref: r} }

// Kind returns the tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload (false for other kinds).
func (v Value) Bool() bool { return v.b }

// Float returns the numeric payload (0 for other kinds).
func (v Value) Float() float64 { return v.num }

// Str returns the string payload ("" for other kinds).
func (v Value) Str() string { return v.str }

// Bytes returns a copy of the ByteBuffer payload.
func (v Value) Bytes() []byte {
	if v.kind != KindByteBuffer {
		return nil
	}
	return bytes.Clone(nonNil(v.buf))
}

// ErrorPayload returns the Error payload, or nil for other kinds.
func (v Value) ErrorPayload() *ScriptErrorValue {
	if v.err == nil {
		return nil
	}
	cp := *v.err
	return &cp
}

// Ref returns the reference payload (zero Ref for other kinds).
func (v Value) Ref() Ref { return v.ref }

// Equal reports deep equality. NaN equals NaN so round trips can be
// compared.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.b == o.b
	case KindNumber:
		if math.IsNaN(v.num) && math.IsNaN(o.num) {
			return true
		}
		return v.num == o.num && math.Signbit(v.num) == math.Signbit(o.num)
	case KindString:
		return v.str == o.str
	case KindByteBuffer:
		return bytes.Equal(v.buf, o.buf)
	case KindError:
		return *v.err == *o.err
	case KindOpaqueReference:
		return v.ref.Instance == o.ref.Instance && v.ref.Slot == o.ref.Slot && v.ref.Gen == o.ref.Gen
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "Null"
	case KindBoolean:
		return "Boolean(" + strconv.FormatBool(v.b) + ")"
	case KindNumber:
		return "Number(" + strconv.FormatFloat(v.num, 'g', -1, 64) + ")"
	case KindString:
		return "String(" + strconv.Quote(v.str) + ")"
	case KindByteBuffer:
		return "ByteBuffer(" + strconv.Itoa(len(v.buf)) + " bytes)"
	case KindError:
		return "Error(" + v.err.Name + ": " + v.err.Message + ")"
	case KindOpaqueReference:
		return "OpaqueReference(" + v.ref.String() + ")"
	}
	return v.kind.String()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
