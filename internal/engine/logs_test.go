package engine

import (
	"strings"
	"testing"

	"github.com/cryguy/jsbridge/internal/core"
)

func TestLogBuffer_DropsPastLimit(t *testing.T) {
	b := &logBuffer{}
	for i := 0; i < core.MaxLogEntries+5; i++ {
		b.add("log", "line")
	}
	entries, dropped := b.drain()
	if len(entries) != core.MaxLogEntries {
		t.Errorf("entries = %d, want %d", len(entries), core.MaxLogEntries)
	}
	if dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
	entries, dropped = b.drain()
	if len(entries) != 0 || dropped != 0 {
		t.Errorf("second drain = %d entries, %d dropped", len(entries), dropped)
	}
}

func TestLogBuffer_TruncatesMessages(t *testing.T) {
	b := &logBuffer{}
	b.add("warn", strings.Repeat("x", core.MaxLogMessageSize*2))
	got := b.snapshot()
	if len(got) != 1 {
		t.Fatalf("entries = %d", len(got))
	}
	if !strings.HasSuffix(got[0].Message, "...(truncated)") {
		t.Errorf("message not truncated: %d bytes", len(got[0].Message))
	}
	if got[0].Time.IsZero() {
		t.Error("entry has no timestamp")
	}
}

func TestConsoleSink(t *testing.T) {
	b := &logBuffer{}
	sink := consoleSink(1, b)
	for _, lvl := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		sink(lvl, lvl+" message")
	}
	got := b.snapshot()
	if len(got) != 6 {
		t.Fatalf("entries = %d, want 6", len(got))
	}
	if got[3].Level != "error" || got[3].Message != "error message" {
		t.Errorf("entry 3 = %+v", got[3])
	}
}
