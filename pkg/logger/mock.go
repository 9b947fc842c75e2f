package logger

import (
	"strings"
	"sync"
)

// MockLogger is a Logger implementation for testing. It records every
// message so tests can assert on what was logged.
type MockLogger struct {
	mu       sync.Mutex
	messages []LogMessage
	attrs    []any
}

// LogMessage represents a logged message captured by MockLogger.
type LogMessage struct {
	Level string
	Msg   string
	Args  []any
}

// NewMockLogger creates a new mock logger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(level, msg string, args []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := append(append([]any{}, m.attrs...), args...)
	m.messages = append(m.messages, LogMessage{Level: level, Msg: msg, Args: merged})
}

// Debug records a debug message.
func (m *MockLogger) Debug(msg string, args ...any) { m.record("DEBUG", msg, args) }

// Info records an info message.
func (m *MockLogger) Info(msg string, args ...any) { m.record("INFO", msg, args) }

// Warn records a warning message.
func (m *MockLogger) Warn(msg string, args ...any) { m.record("WARN", msg, args) }

// Error records an error message.
func (m *MockLogger) Error(msg string, args ...any) { m.record("ERROR", msg, args) }

// With returns a mock logger sharing the same message store with extra attributes.
func (m *MockLogger) With(args ...any) Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &childMock{parent: m, attrs: append(append([]any{}, m.attrs...), args...)}
}

// Messages returns a copy of all recorded messages.
func (m *MockLogger) Messages() []LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// HasMessage reports whether any recorded message at the given level
// contains substr.
func (m *MockLogger) HasMessage(level, substr string) bool {
	for _, msg := range m.Messages() {
		if msg.Level == level && strings.Contains(msg.Msg, substr) {
			return true
		}
	}
	return false
}

// childMock forwards records to its parent with bound attributes.
type childMock struct {
	parent *MockLogger
	attrs  []any
}

func (c *childMock) log(level, msg string, args []any) {
	c.parent.record(level, msg, append(append([]any{}, c.attrs...), args...))
}

func (c *childMock) Debug(msg string, args ...any) { c.log("DEBUG", msg, args) }
func (c *childMock) Info(msg string, args ...any)  { c.log("INFO", msg, args) }
func (c *childMock) Warn(msg string, args ...any)  { c.log("WARN", msg, args) }
func (c *childMock) Error(msg string, args ...any) { c.log("ERROR", msg, args) }

func (c *childMock) With(args ...any) Logger {
	return &childMock{parent: c.parent, attrs: append(append([]any{}, c.attrs...), args...)}
}
