package engine

import (
	"sync"

	"github.com/cryguy/jsbridge/internal/core"
)

// refArena maps OpaqueReference handles to script-side slots for one
// instance. Slots are reused through a free list; the generation counter
// makes a stale handle to a reused slot fail instead of resolving to the
// new value. Closing the arena invalidates every handle at once.
type refArena struct {
	instance uint64
	entries  []refEntry
	freeList []uint32
	mu       sync.Mutex
	closed   bool
}

type refEntry struct {
	jsSlot int64
	typ    string
	arity  int
	gen    uint32
	valid  bool
}

func newRefArena(instance uint64) *refArena {
	return &refArena{
		instance: instance,
		entries:  make([]refEntry, 0, 16),
	}
}

// add records a script-side slot and returns its handle.
func (a *refArena) add(jsSlot int64, typ string, arity int) (core.Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return core.Ref{}, core.NewError(core.KindEngineDisposed, "instance %d is disposed", a.instance)
	}

	var slot uint32
	if n := len(a.freeList); n > 0 {
		slot = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
	} else {
		a.entries = append(a.entries, refEntry{})
		slot = uint32(len(a.entries))
	}
	e := &a.entries[slot-1]
	e.gen++
	e.jsSlot = jsSlot
	e.typ = typ
	e.arity = arity
	e.valid = true

	return core.Ref{Instance: a.instance, Slot: slot, Gen: e.gen, Type: typ, Arity: arity}, nil
}

// resolve returns the entry behind r.
func (a *refArena) resolve(r core.Ref) (refEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lookup(r)
}

func (a *refArena) lookup(r core.Ref) (refEntry, error) {
	if r.Instance != a.instance {
		return refEntry{}, core.NewError(core.KindTypeMismatch, "reference belongs to instance %d, not %d", r.Instance, a.instance)
	}
	if a.closed {
		return refEntry{}, core.NewError(core.KindEngineDisposed, "instance %d is disposed", a.instance)
	}
	if r.Slot == 0 || int(r.Slot) > len(a.entries) {
		return refEntry{}, core.NewError(core.KindInvalidHandle, "unknown reference %s", r)
	}
	e := a.entries[r.Slot-1]
	if !e.valid || e.gen != r.Gen {
		return refEntry{}, core.NewError(core.KindInvalidHandle, "reference %s has been released", r)
	}
	return e, nil
}

// drop invalidates r and returns the script-side slot to release.
func (a *refArena) drop(r core.Ref) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, err := a.lookup(r)
	if err != nil {
		return 0, err
	}
	entry := &a.entries[r.Slot-1]
	entry.valid = false
	entry.jsSlot = 0
	a.freeList = append(a.freeList, r.Slot)
	return e.jsSlot, nil
}

// live returns the number of valid handles.
func (a *refArena) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries) - len(a.freeList)
}

// close invalidates every handle.
func (a *refArena) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.entries = nil
	a.freeList = nil
}
