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

package base

import (
	"bytes"
	"strings"
	"time"

	"sqlgate/shared/logger"
)

// HealthState is the last observed reachability of a pooled backend
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthUnreachable
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthStatus represents the result of a connection health check
type HealthStatus struct {
	ConnectionID string            `json:"connection_id"`
	State        HealthState       `json:"state"`
	Latency      time.Duration     `json:"latency"`
	Details      map[string]string `json:"details,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Error        string            `json:"error,omitempty"`
}

// Healthy reports whether the check succeeded
func (h *HealthStatus) Healthy() bool {
	return h != nil && h.State == HealthHealthy
}

// ConnectorError represents a failure talking to a backend. Message and
// Cause must already be free of credentials when the error is built.
type ConnectorError struct {
	ConnectionID string
	Operation    string
	Message      string
	Cause        error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectionID + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectionID + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError creates a new ConnectorError
func NewConnectorError(connectionID, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectionID: connectionID,
		Operation:    operation,
		Message:      message,
		Cause:        cause,
	}
}

// scrubbedError keeps the cause for errors.Is/As while rendering a message
// with the secret and password-like pairs removed.
type scrubbedError struct {
	msg   string
	cause error
}

func (e *scrubbedError) Error() string { return e.msg }

func (e *scrubbedError) Unwrap() error { return e.cause }

// ScrubError returns err with every occurrence of secret and any DSN
// password masked in its message. A nil err stays nil.
func ScrubError(err error, secret []byte) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(bytes.TrimSpace(secret)) > 0 {
		msg = strings.ReplaceAll(msg, string(secret), "[REDACTED]")
	}
	return &scrubbedError{msg: logger.Redact(msg), cause: err}
}
