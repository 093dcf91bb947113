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

package observability

import (
	"time"
)

// ErrorKind is the closed taxonomy of execution failures. The zero value
// means success.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindValidationRejected    ErrorKind = "validation_rejected"
	KindConnectionUnavailable ErrorKind = "connection_unavailable"
	KindExecutionTimeout      ErrorKind = "execution_timeout"
	KindDriverError           ErrorKind = "driver_error"
	KindInvalidRequest        ErrorKind = "invalid_request"
)

// Valid reports whether k belongs to the taxonomy.
func (k ErrorKind) Valid() bool {
	switch k {
	case KindNone, KindValidationRejected, KindConnectionUnavailable,
		KindExecutionTimeout, KindDriverError, KindInvalidRequest:
		return true
	}
	return false
}

// QueryLogEntry records the outcome of one gateway call.
type QueryLogEntry struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id"`
	OwnerID      string        `json:"owner_id,omitempty"`
	ConnectionID string        `json:"connection_id"`
	Backend      string        `json:"backend,omitempty"`
	Query        string        `json:"query"`
	StartedAt    time.Time     `json:"started_at"`
	RecordedAt   time.Time     `json:"recorded_at"`
	Duration     time.Duration `json:"duration_ns"`
	RowCount     int           `json:"row_count"`
	Success      bool          `json:"success"`
	Executed     bool          `json:"executed"`
	CacheHit     bool          `json:"cache_hit"`
	CacheLookup  bool          `json:"cache_lookup"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail  string        `json:"error_detail,omitempty"`
	RiskLevel    string        `json:"risk_level,omitempty"`
}

// ring is a fixed-capacity FIFO of log entries. Not safe for concurrent
// use; Store guards it.
type ring struct {
	entries []QueryLogEntry
	next    int
	count   int
}

func newRing(capacity int) *ring {
	return &ring{entries: make([]QueryLogEntry, capacity)}
}

func (r *ring) push(e QueryLogEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// newest returns up to n entries, most recent first. n <= 0 means all.
func (r *ring) newest(n int) []QueryLogEntry {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]QueryLogEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
