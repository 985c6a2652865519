package engine

import (
	"testing"

	"github.com/cryguy/jsbridge/internal/core"
)

func TestRefArena_AddResolve(t *testing.T) {
	a := newRefArena(7)
	r, err := a.add(100, "function", 2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Instance != 7 || r.Slot != 1 || r.Gen != 1 {
		t.Errorf("ref = %+v", r)
	}
	e, err := a.resolve(r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e.jsSlot != 100 || e.typ != "function" || e.arity != 2 {
		t.Errorf("entry = %+v", e)
	}
}

func TestRefArena_DropReusesSlot(t *testing.T) {
	a := newRefArena(1)
	r1, _ := a.add(10, "object", 0)
	slot, err := a.drop(r1)
	if err != nil || slot != 10 {
		t.Fatalf("drop = %d, %v", slot, err)
	}
	if a.live() != 0 {
		t.Errorf("live = %d", a.live())
	}

	r2, _ := a.add(11, "object", 0)
	if r2.Slot != r1.Slot {
		t.Errorf("slot not reused: %d vs %d", r2.Slot, r1.Slot)
	}
	if r2.Gen == r1.Gen {
		t.Error("generation not bumped on reuse")
	}
	if _, err := a.resolve(r1); core.KindOf(err) != core.KindInvalidHandle {
		t.Errorf("stale ref: %v", err)
	}
	if _, err := a.drop(r1); core.KindOf(err) != core.KindInvalidHandle {
		t.Errorf("double drop: %v", err)
	}
}

func TestRefArena_Errors(t *testing.T) {
	a := newRefArena(1)
	r, _ := a.add(1, "array", 0)

	tests := []struct {
		name string
		ref  core.Ref
		want core.ErrorKind
	}{
		{"other instance", core.Ref{Instance: 2, Slot: r.Slot, Gen: r.Gen}, core.KindTypeMismatch},
		{"zero slot", core.Ref{Instance: 1}, core.KindInvalidHandle},
		{"out of range", core.Ref{Instance: 1, Slot: 99, Gen: 1}, core.KindInvalidHandle},
		{"wrong generation", core.Ref{Instance: 1, Slot: r.Slot, Gen: r.Gen + 1}, core.KindInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.resolve(tt.ref)
			if got := core.KindOf(err); err == nil || got != tt.want {
				t.Errorf("resolve = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestRefArena_Close(t *testing.T) {
	a := newRefArena(3)
	r, _ := a.add(1, "object", 0)
	a.close()
	a.close()
	if _, err := a.resolve(r); core.KindOf(err) != core.KindEngineDisposed {
		t.Errorf("resolve after close: %v", err)
	}
	if _, err := a.add(2, "object", 0); core.KindOf(err) != core.KindEngineDisposed {
		t.Errorf("add after close: %v", err)
	}
	if a.live() != 0 {
		t.Errorf("live = %d", a.live())
	}
}
