package logger

import (
	"fmt"
	"maps"
	"strings"
	"sync"
)

// LogMessage is one message captured by a TestLogger
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// capture is shared by a TestLogger and every logger derived from it
type capture struct {
	mu       sync.Mutex
	messages []LogMessage
}

// TestLogger records messages in memory so tests can assert on them.
// Loggers derived with WithField, WithFields or WithError write to the
// same record.
type TestLogger struct {
	sink   *capture
	fields map[string]interface{}
	err    error
}

// NewTestLogger creates an empty TestLogger
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &capture{}}
}

func (l *TestLogger) derive(fields map[string]interface{}, err error) *TestLogger {
	merged := maps.Clone(l.fields)
	if merged == nil {
		merged = make(map[string]interface{}, len(fields))
	}
	maps.Copy(merged, fields)
	return &TestLogger{sink: l.sink, fields: merged, err: err}
}

func (l *TestLogger) log(level, msg string, extra map[string]interface{}) {
	fields := l.fields
	if len(extra) > 0 {
		fields = l.derive(extra, nil).fields
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.messages = append(l.sink.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  fields,
		Error:   l.err,
	})
}

func (l *TestLogger) Debug(msg string) { l.log("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.log("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.log("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.log("ERROR", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}

func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.derive(map[string]interface{}{key: value}, l.err)
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(fields, l.err)
}

func (l *TestLogger) WithError(err error) Logger {
	return l.derive(nil, err)
}

// GetMessages returns a copy of everything captured so far
func (l *TestLogger) GetMessages() []LogMessage {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]LogMessage(nil), l.sink.messages...)
}

// GetMessagesByLevel returns the captured messages at level
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	var filtered []LogMessage
	for _, msg := range l.GetMessages() {
		if msg.Level == level {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// FindMessage returns the first captured message with the given text
func (l *TestLogger) FindMessage(text string) (LogMessage, bool) {
	for _, msg := range l.GetMessages() {
		if msg.Message == text {
			return msg, true
		}
	}
	return LogMessage{}, false
}

// HasMessage reports whether a message with the given text was logged
func (l *TestLogger) HasMessage(text string) bool {
	_, ok := l.FindMessage(text)
	return ok
}

// HasError reports whether anything was logged at error level
func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

// Clear drops every captured message
func (l *TestLogger) Clear() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.messages = nil
}

// String renders the captured messages one per line, for failure output
func (l *TestLogger) String() string {
	var b strings.Builder
	for _, msg := range l.GetMessages() {
		fmt.Fprintf(&b, "[%s] %s", msg.Level, msg.Message)
		if len(msg.Fields) > 0 {
			fmt.Fprintf(&b, " fields=%v", msg.Fields)
		}
		if msg.Error != nil {
			fmt.Fprintf(&b, " error=%v", msg.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
