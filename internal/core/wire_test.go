package core

import (
	"math"
	"strings"
	"testing"
)

func TestWire_RoundTrip(t *testing.T) {
	values := []Value{
		Null,
		Bool(false),
		Number(0),
		Number(math.Copysign(0, -1)),
		Number(1e21),
		Number(-0.1),
		Number(math.NaN()),
		Number(math.Inf(1)),
		Number(math.Inf(-1)),
		String(""),
		String("tab\tquote\" é\U0001F600"),
		Bytes(nil),
		Bytes([]byte{0, 255, 128}),
		ErrorValue("TypeError", "bad", "at x:1:2"),
		Reference(Ref{Instance: 4, Slot: 5, Gen: 6, Type: "function", Arity: 1}),
	}
	for _, v := range values {
		w, err := HostWire.Marshal(v)
		if err != nil {
			t.Errorf("Marshal(%s): %v", v, err)
			continue
		}
		got, err := HostWire.Unmarshal(w)
		if err != nil {
			t.Errorf("Unmarshal(%s): %v", w, err)
			continue
		}
		if !got.Equal(v) {
			t.Errorf("round trip %s -> %s -> %s", v, w, got)
		}
	}
}

func TestWire_SpecialNumbersAreStrings(t *testing.T) {
	tests := []struct {
		f    float64
		want string
	}{
		{math.Inf(1), `{"t":"num","v":"Infinity"}`},
		{math.Copysign(0, -1), `{"t":"num","v":"-0"}`},
		{2.5, `{"t":"num","v":2.5}`},
	}
	for _, tt := range tests {
		got, err := HostWire.Marshal(Number(tt.f))
		if err != nil || got != tt.want {
			t.Errorf("Marshal(%v) = %s, %v; want %s", tt.f, got, err, tt.want)
		}
	}
}

func TestWire_List(t *testing.T) {
	w, err := HostWire.MarshalList([]Value{Number(1), String("a")})
	if err != nil {
		t.Fatal(err)
	}
	if w != `[{"t":"num","v":1},{"t":"str","v":"a"}]` {
		t.Errorf("MarshalList = %s", w)
	}
	got, err := HostWire.UnmarshalList(w)
	if err != nil || len(got) != 2 || got[1].Str() != "a" {
		t.Errorf("UnmarshalList = %v, %v", got, err)
	}
	if got, err := HostWire.UnmarshalList(""); err != nil || got != nil {
		t.Errorf("empty list = %v, %v", got, err)
	}
	if empty, _ := HostWire.MarshalList(nil); empty != "[]" {
		t.Errorf("MarshalList(nil) = %s", empty)
	}
}

func TestWire_Malformed(t *testing.T) {
	bad := []string{
		`not json`,
		`[]`,
		`{"t":"bool","v":"yes"}`,
		`{"t":"num","v":"twelve"}`,
		`{"t":"str","v":3}`,
		`{"t":"buf","v":"***"}`,
		`{"t":"symbol"}`,
		`{"t":"ref","v":3}`,
	}
	for _, data := range bad {
		if _, err := HostWire.Unmarshal(data); KindOf(err) != KindTypeMismatch || err == nil {
			t.Errorf("Unmarshal(%s) err = %v, want TypeMismatch", data, err)
		}
	}
	_, err := HostWire.UnmarshalList(`[{"t":"null"},{"t":"nope"}]`)
	if err == nil || !strings.Contains(err.Error(), "argument 1") {
		t.Errorf("list error = %v", err)
	}
}

func TestWire_RefHooks(t *testing.T) {
	var seen Ref
	c := WireCodec{
		RefToScript: func(r Ref) (int64, error) {
			seen = r
			return 77, nil
		},
		RefFromScript: func(slot int64, typ string, arity int) (Ref, error) {
			return Ref{Instance: 9, Slot: uint32(slot), Gen: 1, Type: typ, Arity: arity}, nil
		},
	}
	w, err := c.Marshal(Reference(Ref{Instance: 9, Slot: 3, Gen: 2}))
	if err != nil {
		t.Fatal(err)
	}
	if w != `{"t":"ref","s":77}` || seen.Slot != 3 {
		t.Errorf("Marshal = %s (seen %+v)", w, seen)
	}
	v, err := c.Unmarshal(`{"t":"ref","s":12,"type":"function","arity":2}`)
	if err != nil {
		t.Fatal(err)
	}
	r := v.Ref()
	if r.Slot != 12 || r.Type != "function" || r.Arity != 2 {
		t.Errorf("ref = %+v", r)
	}

	failing := WireCodec{RefToScript: func(Ref) (int64, error) {
		return 0, NewError(KindInvalidHandle, "gone")
	}}
	_, err = failing.MarshalList([]Value{Null, Reference(Ref{Instance: 1, Slot: 1})})
	if KindOf(err) != KindInvalidHandle || !strings.Contains(err.Error(), "argument 1") {
		t.Errorf("MarshalList err = %v", err)
	}
}
