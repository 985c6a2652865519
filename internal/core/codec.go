package core

import (
	"encoding/json"
	"math"
	"reflect"
	"unicode/utf8"
)

// MaxSafeInteger is the largest integer a Number holds without losing
// precision (2^53 - 1). Integer encoding and decoding fail beyond it
// instead of rounding.
const MaxSafeInteger = 1<<53 - 1

// Encode converts a native Go value to a Value.
//
// Supported: nil, bool, every int/uint/float kind, string (valid UTF-8),
// []byte, error, Ref, Value and *Value. Integers outside ±MaxSafeInteger,
// invalid UTF-8 strings and composite types fail with TypeMismatch; use
// EncodeJSON to ship composite data as a ByteBuffer.
func Encode(native any) (Value, error) {
	switch x := native.(type) {
	case nil:
		return Null, nil
	case Value:
		return x, nil
	case *Value:
		if x == nil {
			return Null, nil
		}
		return *x, nil
	case bool:
		return Bool(x), nil
	case string:
		if !utf8.ValidString(x) {
			return Null, NewError(KindTypeMismatch, "string is not valid UTF-8; encode it as a byte buffer")
		}
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case Ref:
		return Reference(x), nil
	case *ScriptErrorValue:
		if x == nil {
			return Null, nil
		}
		return ErrorValue(x.Name, x.Message, x.Stack), nil
	case *CallError:
		if x == nil {
			return Null, nil
		}
		name := x.Name
		if name == "" {
			name = string(x.Kind)
		}
		return ErrorValue(name, x.Message, x.Stack), nil
	case error:
		return ErrorValue("Error", x.Error(), ""), nil
	}

	rv := reflect.ValueOf(native)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i > MaxSafeInteger || i < -MaxSafeInteger {
			return Null, NewError(KindTypeMismatch, "integer %d exceeds the exact number range", i)
		}
		return Number(float64(i)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > MaxSafeInteger {
			return Null, NewError(KindTypeMismatch, "integer %d exceeds the exact number range", u)
		}
		return Number(float64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return Encode(rv.String())
	}
	return Null, NewError(KindTypeMismatch, "unsupported native type %T", native)
}

// EncodeJSON serializes a composite value as JSON and carries it as a
// ByteBuffer.
func EncodeJSON(native any) (Value, error) {
	data, err := json.Marshal(native)
	if err != nil {
		return Null, WrapError(KindTypeMismatch, err, "serializing %T", native)
	}
	return Bytes(data), nil
}

// DecodeJSON unmarshals a ByteBuffer produced by EncodeJSON (or a script)
// into out.
func DecodeJSON(v Value, out any) error {
	data, err := DecodeBytes(v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return WrapError(KindTypeMismatch, err, "decoding JSON byte buffer")
	}
	return nil
}

// Decode converts v to its native representation after checking that its
// tag is expected:
//
//	Null            -> nil
//	Boolean         -> bool
//	Number          -> float64
//	String          -> string
//	ByteBuffer      -> []byte (copy)
//	Error           -> *ScriptErrorValue
//	OpaqueReference -> Ref
func Decode(v Value, expected Kind) (any, error) {
	if v.kind != expected {
		return nil, mismatch(v, expected)
	}
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBoolean:
		return v.b, nil
	case KindNumber:
		return v.num, nil
	case KindString:
		return v.str, nil
	case KindByteBuffer:
		return v.Bytes(), nil
	case KindError:
		return v.ErrorPayload(), nil
	case KindOpaqueReference:
		return v.ref, nil
	}
	return nil, NewError(KindTypeMismatch, "unknown value kind %d", v.kind)
}

// DecodeBool decodes a Boolean.
func DecodeBool(v Value) (bool, error) {
	if v.kind != KindBoolean {
		return false, mismatch(v, KindBoolean)
	}
	return v.b, nil
}

// DecodeFloat64 decodes a Number.
func DecodeFloat64(v Value) (float64, error) {
	if v.kind != KindNumber {
		return 0, mismatch(v, KindNumber)
	}
	return v.num, nil
}

// DecodeInt64 decodes a Number that holds an integer within
// ±MaxSafeInteger. Fractional, non-finite or out-of-range numbers fail
// with TypeMismatch rather than being truncated or wrapped.
func DecodeInt64(v Value) (int64, error) {
	f, err := DecodeFloat64(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, NewError(KindTypeMismatch, "number %v is not finite", f)
	}
	if f != math.Trunc(f) {
		return 0, NewError(KindTypeMismatch, "number %v is not an integer", f)
	}
	if f > MaxSafeInteger || f < -MaxSafeInteger {
		return 0, NewError(KindTypeMismatch, "number %v is outside the exact integer range", f)
	}
	return int64(f), nil
}

// DecodeInt32 decodes a Number that fits an int32 exactly.
func DecodeInt32(v Value) (int32, error) {
	i, err := DecodeInt64(v)
	if err != nil {
		return 0, err
	}
	if i > math.MaxInt32 || i < math.MinInt32 {
		return 0, NewError(KindTypeMismatch, "number %d overflows int32", i)
	}
	return int32(i), nil
}

// DecodeString decodes a String.
func DecodeString(v Value) (string, error) {
	if v.kind != KindString {
		return "", mismatch(v, KindString)
	}
	return v.str, nil
}

// DecodeBytes decodes a ByteBuffer into a fresh slice.
func DecodeBytes(v Value) ([]byte, error) {
	if v.kind != KindByteBuffer {
		return nil, mismatch(v, KindByteBuffer)
	}
	return v.Bytes(), nil
}

// DecodeRef decodes an OpaqueReference.
func DecodeRef(v Value) (Ref, error) {
	if v.kind != KindOpaqueReference {
		return Ref{}, mismatch(v, KindOpaqueReference)
	}
	return v.ref, nil
}

// DecodeError decodes an Error value.
func DecodeError(v Value) (*ScriptErrorValue, error) {
	if v.kind != KindError {
		return nil, mismatch(v, KindError)
	}
	return v.ErrorPayload(), nil
}

func mismatch(v Value, expected Kind) *CallError {
	return NewError(KindTypeMismatch, "expected %s, got %s", expected, v.kind)
}

// EncodeArgs encodes a list of native values, reporting the failing index.
func EncodeArgs(natives ...any) ([]Value, error) {
	out := make([]Value, len(natives))
	for i, n := range natives {
		v, err := Encode(n)
		if err != nil {
			ce := AsCallError(err)
			return nil, NewError(ce.Kind, "argument %d: %s", i, ce.Message)
		}
		out[i] = v
	}
	return out, nil
}

// formatKinds is used in arity errors.
func formatKinds(args []Value) string {
	s := "["
	for i, a := range args {
		if i > 0 {
			s += ", "
		}
		s += a.kind.String()
	}
	return s + "]"
}

// ArityMismatch builds the TypeMismatch error for a call with too few
// arguments.
func ArityMismatch(fn string, arity int, args []Value) *CallError {
	return NewError(KindTypeMismatch, "%s expects %d argument(s), got %d %s", fn, arity, len(args), formatKinds(args))
}
