package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
)

// minInterval is the shortest period a setInterval timer may use.
const minInterval = 10 * time.Millisecond

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in the prelude's timer table on the JS
// side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop manages Go-backed timers for setTimeout/setInterval on one
// instance. Timers only fire while the owning instance is inside a call,
// on the goroutine that holds its execution lock.
type EventLoop struct {
	mu     sync.Mutex
	timers map[int]*timerEntry
	nextID int
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
	}
}

// RegisterTimer creates a timer entry and returns its ID.
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < minInterval {
			delay = minInterval
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// HasPending returns true if there are any active timers.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0
}

// Reset clears all timers.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.nextID = 0
}

func (el *EventLoop) next() *timerEntry {
	el.mu.Lock()
	defer el.mu.Unlock()
	var next *timerEntry
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	return next
}

// RunNext waits for the earliest timer and fires it, followed by a
// microtask checkpoint. It returns false without firing when no timer is
// pending, when the timer would fire after deadline (a zero deadline means
// none), or when ctx is done. Errors come from the runtime and mean the
// script was interrupted.
func (el *EventLoop) RunNext(ctx context.Context, rt core.JSRuntime, deadline time.Time) (bool, error) {
	next := el.next()
	if next == nil {
		return false, nil
	}
	if !deadline.IsZero() && next.deadline.After(deadline) {
		return false, nil
	}

	if wait := time.Until(next.deadline); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, nil
		case <-t.C:
		}
	}

	el.mu.Lock()
	if next.cleared {
		el.mu.Unlock()
		return true, nil
	}
	timerID := next.id
	if next.interval > 0 {
		next.deadline = time.Now().Add(next.interval)
	} else {
		delete(el.timers, next.id)
	}
	el.mu.Unlock()

	if err := el.fireTimer(rt, timerID); err != nil {
		return true, err
	}
	rt.RunMicrotasks()
	return true, nil
}

// Drain fires timers until none remain, the deadline is reached or ctx is
// done. Must be called on the goroutine that drives the runtime.
func (el *EventLoop) Drain(ctx context.Context, rt core.JSRuntime, deadline time.Time) error {
	for ctx.Err() == nil {
		fired, err := el.RunNext(ctx, rt, deadline)
		if err != nil {
			return err
		}
		if !fired {
			return nil
		}
	}
	return nil
}

// fireTimer invokes the JS-side callback. Exceptions thrown by the
// callback are reported by the prelude; an error here means the runtime
// refused to run (interrupt, out of memory).
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) error {
	if err := rt.Eval(fmt.Sprintf("__jsb.fireTimer(%d)", id)); err != nil {
		return fmt.Errorf("firing timer %d: %w", id, err)
	}
	return nil
}
