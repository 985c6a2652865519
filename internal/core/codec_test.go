package core

import (
	"errors"
	"math"
	"testing"
)

func TestEncode_Natives(t *testing.T) {
	tests := []struct {
		name   string
		native any
		want   Value
	}{
		{"nil", nil, Null},
		{"bool", true, Bool(true)},
		{"int", 42, Number(42)},
		{"int8", int8(-3), Number(-3)},
		{"uint16", uint16(65535), Number(65535)},
		{"float32", float32(1.5), Number(1.5)},
		{"float64", math.Pi, Number(math.Pi)},
		{"string", "héllo", String("héllo")},
		{"bytes", []byte{1, 2}, Bytes([]byte{1, 2})},
		{"error", errors.New("boom"), ErrorValue("Error", "boom", "")},
		{"ref", Ref{Instance: 1, Slot: 2, Gen: 3}, Reference(Ref{Instance: 1, Slot: 2, Gen: 3})},
		{"value", String("x"), String("x")},
		{"max safe", int64(MaxSafeInteger), Number(MaxSafeInteger)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.native)
			if err != nil {
				t.Fatalf("Encode(%v): %v", tt.native, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Encode(%v) = %s, want %s", tt.native, got, tt.want)
			}
		})
	}
}

func TestEncode_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		native any
	}{
		{"int64 beyond safe range", int64(MaxSafeInteger + 1)},
		{"negative beyond safe range", int64(-MaxSafeInteger - 1)},
		{"uint64 max", uint64(math.MaxUint64)},
		{"invalid utf8", string([]byte{0xff, 0xfe})},
		{"map", map[string]int{"a": 1}},
		{"struct", struct{ A int }{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.native)
			if KindOf(err) != KindTypeMismatch || err == nil {
				t.Errorf("Encode(%v) err = %v, want TypeMismatch", tt.native, err)
			}
		})
	}
}

func TestEncode_CallErrorKeepsName(t *testing.T) {
	v, err := Encode(NewError(KindTimeout, "too slow"))
	if err != nil {
		t.Fatal(err)
	}
	p := v.ErrorPayload()
	if p.Name != "Timeout" || p.Message != "too slow" {
		t.Errorf("payload = %+v", p)
	}
}

func TestDecode_KindMismatch(t *testing.T) {
	if _, err := Decode(String("1"), KindNumber); KindOf(err) != KindTypeMismatch {
		t.Errorf("Decode string as number: %v", err)
	}
	if _, err := DecodeBool(Number(1)); KindOf(err) != KindTypeMismatch {
		t.Errorf("DecodeBool(Number): %v", err)
	}
	if _, err := DecodeRef(Null); KindOf(err) != KindTypeMismatch {
		t.Errorf("DecodeRef(Null): %v", err)
	}
}

func TestDecodeInt64(t *testing.T) {
	if got, err := DecodeInt64(Number(-12)); err != nil || got != -12 {
		t.Errorf("DecodeInt64(-12) = %d, %v", got, err)
	}
	for _, f := range []float64{1.5, math.NaN(), math.Inf(1), MaxSafeInteger + 2} {
		if _, err := DecodeInt64(Number(f)); KindOf(err) != KindTypeMismatch || err == nil {
			t.Errorf("DecodeInt64(%v) err = %v", f, err)
		}
	}
	if _, err := DecodeInt32(Number(math.MaxInt32 + 1)); err == nil {
		t.Error("DecodeInt32 overflow accepted")
	}
}

func TestBytesAreCopied(t *testing.T) {
	src := []byte{1, 2, 3}
	v := Bytes(src)
	src[0] = 9
	got, _ := DecodeBytes(v)
	if got[0] != 1 {
		t.Error("Bytes aliases its input")
	}
	got[1] = 9
	if again, _ := DecodeBytes(v); again[1] != 2 {
		t.Error("DecodeBytes aliases the value")
	}
}

func TestEncodeJSON(t *testing.T) {
	in := map[string]any{"a": 1.0, "b": []any{"x"}}
	v, err := EncodeJSON(in)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := DecodeJSON(v, &out); err != nil {
		t.Fatal(err)
	}
	if out["a"] != 1.0 {
		t.Errorf("out = %v", out)
	}
	if err := DecodeJSON(Bytes([]byte("{")), &out); KindOf(err) != KindTypeMismatch {
		t.Errorf("bad JSON: %v", err)
	}
}

func TestEncodeArgs(t *testing.T) {
	args, err := EncodeArgs(1, "two", nil)
	if err != nil || len(args) != 3 {
		t.Fatalf("EncodeArgs = %v, %v", args, err)
	}
	_, err = EncodeArgs(1, struct{}{})
	if KindOf(err) != KindTypeMismatch {
		t.Errorf("err = %v", err)
	}
}

func TestArityMismatch(t *testing.T) {
	err := ArityMismatch("add", 2, []Value{Number(1)})
	if err.Kind != KindTypeMismatch {
		t.Errorf("kind = %s", err.Kind)
	}
	want := "add expects 2 argument(s), got 1 [number]"
	if err.Message != want {
		t.Errorf("message = %q, want %q", err.Message, want)
	}
}

func TestValueEqual(t *testing.T) {
	if !Number(math.NaN()).Equal(Number(math.NaN())) {
		t.Error("NaN != NaN")
	}
	if Number(0).Equal(Number(math.Copysign(0, -1))) {
		t.Error("0 == -0")
	}
	if String("1").Equal(Number(1)) {
		t.Error("cross-kind equality")
	}
	if !Null.IsNull() || (Value{}).Kind() != KindNull {
		t.Error("zero Value is not Null")
	}
}

func TestParseKind(t *testing.T) {
	for k := KindNull; k <= KindOpaqueReference; k++ {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("symbol"); KindOf(err) != KindTypeMismatch {
		t.Errorf("unknown kind: %v", err)
	}
}
