package core

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Wire tags. A wire value is a JSON object {"t":tag,"v":payload}; the
// same form is produced by the script prelude and accepted on the foreign
// call surface.
const (
	wireNull = "null"
	wireBool = "bool"
	wireNum  = "num"
	wireStr  = "str"
	wireBuf  = "buf"
	wireErr  = "err"
	wireRef  = "ref"
)

// WireCodec converts Values to and from their tagged JSON form. The ref
// hooks translate between arena handles and script-side slots; with nil
// hooks a reference travels as its Ref fields (the host form).
type WireCodec struct {
	// RefToScript maps an arena handle to the script-side slot.
	RefToScript func(Ref) (int64, error)
	// RefFromScript registers a script-side slot and returns its handle.
	RefFromScript func(slot int64, typ string, arity int) (Ref, error)
}

// HostWire is the codec used on the foreign call surface.
var HostWire = WireCodec{}

// Marshal returns the tagged JSON form of v.
func (c WireCodec) Marshal(v Value) (string, error) {
	out := `{"t":"` + tagOf(v.kind) + `"}`
	var err error
	switch v.kind {
	case KindNull:
		return out, nil
	case KindBoolean:
		out, err = sjson.Set(out, "v", v.b)
	case KindNumber:
		out, err = sjson.SetRaw(out, "v", formatNumber(v.num))
	case KindString:
		out, err = sjson.Set(out, "v", v.str)
	case KindByteBuffer:
		out, err = sjson.Set(out, "v", base64.StdEncoding.EncodeToString(v.buf))
	case KindError:
		out, err = sjson.Set(out, "v", map[string]string{
			"name":    v.err.Name,
			"message": v.err.Message,
			"stack":   v.err.Stack,
		})
	case KindOpaqueReference:
		if c.RefToScript != nil {
			var slot int64
			if slot, err = c.RefToScript(v.ref); err != nil {
				return "", err
			}
			out, err = sjson.Set(out, "s", slot)
		} else {
			out, err = sjson.Set(out, "v", v.ref)
		}
	default:
		return "", NewError(KindTypeMismatch, "unknown value kind %d", v.kind)
	}
	if err != nil {
		return "", WrapError(KindTypeMismatch, err, "encoding %s", v.kind)
	}
	return out, nil
}

// MarshalList returns the JSON array of tagged values.
func (c WireCodec) MarshalList(vs []Value) (string, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(',')
		}
		s, err := c.Marshal(v)
		if err != nil {
			ce := AsCallError(err)
			return "", NewError(ce.Kind, "argument %d: %s", i, ce.Message)
		}
		b.WriteString(s)
	}
	b.WriteByte(']')
	return b.String(), nil
}

// Unmarshal parses one tagged value.
func (c WireCodec) Unmarshal(data string) (Value, error) {
	if !gjson.Valid(data) {
		return Null, NewError(KindTypeMismatch, "malformed wire value")
	}
	return c.fromResult(gjson.Parse(data))
}

// UnmarshalList parses a JSON array of tagged values. An empty string is
// an empty list.
func (c WireCodec) UnmarshalList(data string) ([]Value, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	if !gjson.Valid(data) {
		return nil, NewError(KindTypeMismatch, "malformed wire list")
	}
	r := gjson.Parse(data)
	if !r.IsArray() {
		return nil, NewError(KindTypeMismatch, "wire list must be a JSON array")
	}
	items := r.Array()
	out := make([]Value, len(items))
	for i, item := range items {
		v, err := c.fromResult(item)
		if err != nil {
			ce := AsCallError(err)
			return nil, NewError(ce.Kind, "argument %d: %s", i, ce.Message)
		}
		out[i] = v
	}
	return out, nil
}

func (c WireCodec) fromResult(r gjson.Result) (Value, error) {
	if !r.IsObject() {
		return Null, NewError(KindTypeMismatch, "wire value must be an object")
	}
	payload := r.Get("v")
	switch tag := r.Get("t").String(); tag {
	case wireNull:
		return Null, nil
	case wireBool:
		if payload.Type != gjson.True && payload.Type != gjson.False {
			return Null, NewError(KindTypeMismatch, "bool payload must be true or false")
		}
		return Bool(payload.Bool()), nil
	case wireNum:
		f, err := parseNumber(payload)
		if err != nil {
			return Null, err
		}
		return Number(f), nil
	case wireStr:
		if payload.Type != gjson.String {
			return Null, NewError(KindTypeMismatch, "str payload must be a string")
		}
		return String(payload.String()), nil
	case wireBuf:
		if payload.Type != gjson.String {
			return Null, NewError(KindTypeMismatch, "buf payload must be base64 text")
		}
		data, err := base64.StdEncoding.DecodeString(payload.String())
		if err != nil {
			return Null, WrapError(KindTypeMismatch, err, "decoding buf payload")
		}
		return Bytes(data), nil
	case wireErr:
		return ErrorValue(payload.Get("name").String(), payload.Get("message").String(), payload.Get("stack").String()), nil
	case wireRef:
		if c.RefFromScript != nil {
			ref, err := c.RefFromScript(r.Get("s").Int(), r.Get("type").String(), int(r.Get("arity").Int()))
			if err != nil {
				return Null, err
			}
			return Reference(ref), nil
		}
		if !payload.IsObject() {
			return Null, NewError(KindTypeMismatch, "ref payload must be an object")
		}
		return Reference(Ref{
			Instance: payload.Get("instance").Uint(),
			Slot:     uint32(payload.Get("slot").Uint()),
			Gen:      uint32(payload.Get("gen").Uint()),
			Type:     payload.Get("type").String(),
			Arity:    int(payload.Get("arity").Int()),
		}), nil
	default:
		return Null, NewError(KindTypeMismatch, "unknown wire tag %q", tag)
	}
}

func tagOf(k Kind) string {
	switch k {
	case KindBoolean:
		return wireBool
	case KindNumber:
		return wireNum
	case KindString:
		return wireStr
	case KindByteBuffer:
		return wireBuf
	case KindError:
		return wireErr
	case KindOpaqueReference:
		return wireRef
	}
	return wireNull
}

// formatNumber renders f as JSON. Non-finite values and negative zero are
// carried as strings because JSON has no literal for them.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return `"NaN"`
	case math.IsInf(f, 1):
		return `"Infinity"`
	case math.IsInf(f, -1):
		return `"-Infinity"`
	case f == 0 && math.Signbit(f):
		return `"-0"`
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseNumber(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return strconv.ParseFloat(r.Raw, 64)
	case gjson.String:
		switch r.String() {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "-0":
			return math.Copysign(0, -1), nil
		}
	}
	return 0, NewError(KindTypeMismatch, "num payload %s is not a number", r.Raw)
}
