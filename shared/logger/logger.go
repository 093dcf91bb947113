// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{DEBUG: 0, INFO: 1, WARN: 2, ERROR: 3}

// ParseLevel converts a case-insensitive level name. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	lvl := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRank[lvl]; ok {
		return lvl
	}
	return INFO
}

// Logger writes one JSON object per line for a single gateway component.
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	mu       sync.Mutex
	out      io.Writer
	minLevel LogLevel
}

// LogEntry is the structure written for every log line. OwnerID scopes the
// entry to the identity whose connection profile is involved.
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	OwnerID    string                 `json:"owner_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the named component writing to stdout.
// SQLGATE_LOG_LEVEL sets the minimum level.
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		out:        os.Stdout,
		minLevel:   ParseLevel(os.Getenv("SQLGATE_LOG_LEVEL")),
	}
}

// NewWithWriter creates a Logger that writes to w. Used by tests and by
// callers that want to capture gateway logs.
func NewWithWriter(component string, w io.Writer) *Logger {
	l := New(component)
	l.out = w
	l.minLevel = DEBUG
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter("nop", io.Discard)
}

// SetLevel changes the minimum level that is written.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// Log creates a structured log entry and writes it
func (l *Logger) Log(level LogLevel, ownerID, requestID, message string, fields map[string]interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		OwnerID:    ownerID,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fields may hold values json cannot encode; keep the message.
		_, _ = fmt.Fprintf(l.out, `{"level":"ERROR","component":%q,"message":%q}`+"\n",
			l.Component, "failed to marshal log entry: "+err.Error())
		return
	}

	_, _ = l.out.Write(append(jsonBytes, '\n'))
}

// Info logs an informational message
func (l *Logger) Info(ownerID, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, ownerID, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(ownerID, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, ownerID, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(ownerID, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, ownerID, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(ownerID, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, ownerID, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(ownerID, requestID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(ownerID, requestID, message, fields)
}

// ErrorWithKind logs an error tagged with its gateway error kind
func (l *Logger) ErrorWithKind(ownerID, requestID, message, kind string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["error_kind"] = kind
	if err != nil {
		fields["error"] = Redact(err.Error())
	}
	l.Error(ownerID, requestID, message, fields)
}

var (
	passwordMaskRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*['"]?[^'"\s;&]+['"]?`)
	secretMaskRegex   = regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|secret|token)\s*[=:]\s*['"]?[^'"\s;&]+['"]?`)
	urlUserinfoRegex  = regexp.MustCompile(`([a-z][a-z0-9+.-]*://[^:/@\s]+):[^@\s]+@`)
	mysqlDSNRegex     = regexp.MustCompile(`([\w.-]+):[^@\s/]+@(tcp|unix)\(`)
)

// Redact masks password-like key/value pairs and the password part of URL
// userinfo so that DSNs and driver messages can be logged.
func Redact(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = urlUserinfoRegex.ReplaceAllString(s, "$1:[REDACTED]@")
	s = mysqlDSNRegex.ReplaceAllString(s, "$1:[REDACTED]@$2(")
	s = passwordMaskRegex.ReplaceAllString(s, "$1=[REDACTED]")
	s = secretMaskRegex.ReplaceAllString(s, "$1=[REDACTED]")
	return s
}
