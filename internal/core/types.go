package core

import (
	"time"
	"unicode/utf8"
)

// Limits on console output kept per instance.
const MaxLogEntries = 1000
const MaxLogMessageSize = 4096

// LogEntry is a single console.log/warn/error captured from a script.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// TruncateLogMessage cuts message to MaxLogMessageSize bytes without
// splitting a UTF-8 sequence.
func TruncateLogMessage(message string) string {
	if len(message) <= MaxLogMessageSize {
		return message
	}
	cut := MaxLogMessageSize
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut] + "...(truncated)"
}
