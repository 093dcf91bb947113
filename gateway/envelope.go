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

package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sqlgate/common/observability"
	"sqlgate/gateway/safety"
)

// ErrorKind is the closed taxonomy of execution failures.
type ErrorKind = observability.ErrorKind

const (
	KindNone                  = observability.KindNone
	KindValidationRejected    = observability.KindValidationRejected
	KindConnectionUnavailable = observability.KindConnectionUnavailable
	KindExecutionTimeout      = observability.KindExecutionTimeout
	KindDriverError           = observability.KindDriverError
	KindInvalidRequest        = observability.KindInvalidRequest
)

var (
	// ErrInvalidRequest wraps every error returned by Execute. Such a
	// request names a missing or malformed profile, or is itself
	// malformed, and was aborted.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("gateway is closed")

	// ErrMissingDependency is returned by New when a required dependency
	// is nil.
	ErrMissingDependency = errors.New("missing gateway dependency")
)

// Request is one statement to run against a stored connection profile
type Request struct {
	RequestID    string        `json:"request_id"`
	OwnerID      string        `json:"owner_id"`
	ConnectionID string        `json:"connection_id"`
	SQL          string        `json:"sql"`
	Params       []interface{} `json:"params,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

func (r *Request) check() error {
	var missing []string
	if strings.TrimSpace(r.OwnerID) == "" {
		missing = append(missing, "owner_id")
	}
	if strings.TrimSpace(r.ConnectionID) == "" {
		missing = append(missing, "connection_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, " and "))
	}
	if r.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", r.Timeout)
	}
	return nil
}

// ExecError is the structured failure carried in an Envelope
type ExecError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ExecError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Validation is the validator verdict as reported to callers
type Validation struct {
	IsSafe          bool     `json:"is_safe"`
	RiskLevel       string   `json:"risk_level"`
	Reason          string   `json:"reason,omitempty"`
	SuggestedAction string   `json:"suggested_action,omitempty"`
	Rule            string   `json:"rule,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`
}

func newValidation(r safety.Result, suggestions []string) *Validation {
	return &Validation{
		IsSafe:          r.IsSafe,
		RiskLevel:       r.RiskLevel.String(),
		Reason:          r.Reason,
		SuggestedAction: r.SuggestedAction,
		Rule:            r.Rule,
		Suggestions:     suggestions,
	}
}

// Envelope is the outcome of one Execute call. Rows is nil unless the
// statement succeeded and produced a result set.
type Envelope struct {
	RequestID       string          `json:"request_id"`
	Success         bool            `json:"success"`
	Columns         []string        `json:"columns,omitempty"`
	Rows            [][]interface{} `json:"rows"`
	RowCount        int             `json:"row_count"`
	Truncated       bool            `json:"truncated"`
	ExecutionTimeMs float64         `json:"execution_time_ms"`
	Error           *ExecError      `json:"error"`
	CacheHit        bool            `json:"cache_hit"`
	Validation      *Validation     `json:"validation"`
}

// Rejected reports whether the validator refused the statement.
func (e *Envelope) Rejected() bool {
	return e.Error != nil && e.Error.Kind == KindValidationRejected
}

// copyRows returns a copy that shares no slices with rows.
func copyRows(rows [][]interface{}) [][]interface{} {
	if rows == nil {
		return nil
	}
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = append([]interface{}(nil), r...)
	}
	return out
}
