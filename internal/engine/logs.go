package engine

import (
	"sync"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
	"go.uber.org/zap"
)

// logBuffer keeps an instance's console output until the host drains it.
// Entries past core.MaxLogEntries are counted and dropped.
type logBuffer struct {
	mu      sync.Mutex
	entries []core.LogEntry
	dropped int
}

func (b *logBuffer) add(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= core.MaxLogEntries {
		b.dropped++
		return
	}
	b.entries = append(b.entries, core.LogEntry{
		Level:   level,
		Message: core.TruncateLogMessage(message),
		Time:    time.Now(),
	})
}

func (b *logBuffer) snapshot() []core.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *logBuffer) drain() ([]core.LogEntry, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, dropped := b.entries, b.dropped
	b.entries = nil
	b.dropped = 0
	return out, dropped
}

// consoleSink returns the prelude console callback for inst: output goes
// to the instance buffer and to the bridge logger.
func consoleSink(id uint64, buf *logBuffer) func(level, message string) {
	log := core.Logger().With(zap.Uint64("instance", id))
	return func(level, message string) {
		buf.add(level, message)
		switch level {
		case "error":
			log.Error(message, zap.String("source", "console"))
		case "warn":
			log.Warn(message, zap.String("source", "console"))
		case "debug", "trace":
			log.Debug(message, zap.String("source", "console"))
		default:
			log.Info(message, zap.String("source", "console"))
		}
	}
}
