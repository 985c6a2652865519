package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingRuntime implements core.JSRuntime and records evaluated source.
type recordingRuntime struct {
	evals      []string
	microtasks int
	evalErr    error
}

func (r *recordingRuntime) Eval(js string) error {
	r.evals = append(r.evals, js)
	return r.evalErr
}
func (r *recordingRuntime) EvalString(string) (string, error) { return "", nil }
func (r *recordingRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (r *recordingRuntime) EvalInt(string) (int, error)       { return 0, nil }
func (r *recordingRuntime) RegisterFunc(string, any) error    { return nil }
func (r *recordingRuntime) SetGlobal(string, any) error       { return nil }
func (r *recordingRuntime) RunMicrotasks()                    { r.microtasks++ }
func (r *recordingRuntime) Interrupt()                        {}
func (r *recordingRuntime) Close() error                      { return nil }

func TestEventLoop_New(t *testing.T) {
	el := New()
	if el.timers == nil {
		t.Error("timers map should be initialized")
	}
	if el.HasPending() {
		t.Error("new event loop should have no pending timers")
	}
}

func TestEventLoop_RegisterAndClear(t *testing.T) {
	el := New()
	id1 := el.RegisterTimer(100*time.Millisecond, false)
	id2 := el.RegisterTimer(200*time.Millisecond, true)
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", id1, id2)
	}
	if got := el.timers[id2].interval; got != 200*time.Millisecond {
		t.Errorf("interval = %v, want 200ms", got)
	}
	el.ClearTimer(id1)
	el.ClearTimer(id2)
	if el.HasPending() {
		t.Error("expected no pending timers after clearing")
	}
	el.ClearTimer(99) // unknown ids are ignored
}

func TestEventLoop_MinimumInterval(t *testing.T) {
	el := New()
	id := el.RegisterTimer(0, true)
	if got := el.timers[id].interval; got != minInterval {
		t.Errorf("interval = %v, want %v", got, minInterval)
	}
}

func TestEventLoop_DrainFiresInDeadlineOrder(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(20*time.Millisecond, false)
	el.RegisterTimer(0, false)

	if err := el.Drain(context.Background(), rt, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := []string{"__jsb.fireTimer(2)", "__jsb.fireTimer(1)"}
	if len(rt.evals) != len(want) {
		t.Fatalf("evals = %v, want %v", rt.evals, want)
	}
	for i := range want {
		if rt.evals[i] != want[i] {
			t.Errorf("evals[%d] = %q, want %q", i, rt.evals[i], want[i])
		}
	}
	if rt.microtasks != 2 {
		t.Errorf("microtask checkpoints = %d, want 2", rt.microtasks)
	}
	if el.HasPending() {
		t.Error("timers should be consumed")
	}
}

func TestEventLoop_DeadlineStopsDrain(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(time.Hour, false)

	start := time.Now()
	if err := el.Drain(context.Background(), rt, time.Now().Add(10*time.Millisecond)); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Drain waited past the deadline")
	}
	if len(rt.evals) != 0 {
		t.Errorf("no timer should fire, got %v", rt.evals)
	}
	if !el.HasPending() {
		t.Error("timer should still be pending")
	}
}

func TestEventLoop_ContextCancelStopsWait(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(time.Hour, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	done := make(chan error, 1)
	go func() { done <- el.Drain(ctx, rt, time.Time{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Drain: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return after cancel")
	}
}

func TestEventLoop_IntervalReschedules(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	id := el.RegisterTimer(minInterval, true)

	deadline := time.Now().Add(time.Second)
	for i := 0; i < 3; i++ {
		fired, err := el.RunNext(context.Background(), rt, deadline)
		if err != nil || !fired {
			t.Fatalf("RunNext #%d = %v, %v", i, fired, err)
		}
	}
	if !el.HasPending() {
		t.Error("interval should stay pending")
	}
	el.ClearTimer(id)
	if fired, _ := el.RunNext(context.Background(), rt, deadline); fired {
		t.Error("cleared interval fired")
	}
}

func TestEventLoop_RuntimeErrorPropagates(t *testing.T) {
	el := New()
	boom := errors.New("interrupted")
	rt := &recordingRuntime{evalErr: boom}
	el.RegisterTimer(0, false)

	err := el.Drain(context.Background(), rt, time.Time{})
	if !errors.Is(err, boom) {
		t.Fatalf("Drain error = %v, want %v", err, boom)
	}
}

func TestEventLoop_Reset(t *testing.T) {
	el := New()
	el.RegisterTimer(time.Second, false)
	el.Reset()
	if el.HasPending() {
		t.Error("Reset should clear timers")
	}
	if id := el.RegisterTimer(time.Second, false); id != 1 {
		t.Errorf("id after Reset = %d, want 1", id)
	}
}
