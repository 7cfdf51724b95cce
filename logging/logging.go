// Package logging provides leveled console logging for the coordinator.
// Lines use the traditional format
//
//	LEVEL TIMESTAMP [component] message key=value ...
//
// and the domain helpers at the bottom of this file give every claim and
// transition the same field names, so logs can be grepped by task or actor.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a configuration string into a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l
	}
	if l == "WARNING" {
		return LevelWarn
	}
	return LevelInfo
}

// Logger writes leveled lines to an io.Writer.
// Loggers derived with WithComponent or WithTraceID share the writer and its lock.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

func (l *Logger) derive() *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   l.traceID,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	d := l.derive()
	d.component = component
	return d
}

// WithTraceID returns a new logger that tags every line with trace=<id>.
func (l *Logger) WithTraceID(traceID string) *Logger {
	d := l.derive()
	d.traceID = traceID
	return d
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(line))
}

// --- Coordinator events ---

// ClaimAcquired logs a successful claim.
func (l *Logger) ClaimAcquired(taskID, providerID string, expiresAt time.Time) {
	l.Info("claim_acquired", map[string]interface{}{
		"task":       taskID,
		"provider":   providerID,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// ClaimRejected logs a claim that lost a race or hit the quota.
func (l *Logger) ClaimRejected(taskID, providerID, code string) {
	l.Info("claim_rejected", map[string]interface{}{
		"task":     taskID,
		"provider": providerID,
		"code":     code,
	})
}

// Transitioned logs a committed lifecycle transition.
func (l *Logger) Transitioned(kind, id, action, from, to, actorID string) {
	l.Info("transition", map[string]interface{}{
		"kind":   kind,
		"id":     id,
		"action": action,
		"from":   from,
		"to":     to,
		"actor":  actorID,
	})
}

// TransitionRejected logs a transition refused by the state machine.
func (l *Logger) TransitionRejected(kind, id, action, actorID string, err error) {
	l.Debug("transition_rejected", map[string]interface{}{
		"kind":   kind,
		"id":     id,
		"action": action,
		"actor":  actorID,
		"error":  err.Error(),
	})
}

// SideEffectFailed logs a post-commit side effect that did not complete.
// The committed write is never rolled back.
func (l *Logger) SideEffectFailed(effect, id string, err error) {
	l.Warn("side_effect_failed", map[string]interface{}{
		"effect": effect,
		"id":     id,
		"error":  err.Error(),
	})
}

// StoreFailure logs an infrastructure error from a record backend.
func (l *Logger) StoreFailure(backend, op string, err error) {
	l.Error("store_failure", map[string]interface{}{
		"backend": backend,
		"op":      op,
		"error":   err.Error(),
	})
}
