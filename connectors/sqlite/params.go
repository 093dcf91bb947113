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

// Package sqlite builds connection parameters for SQLite database files
// opened through the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"sqlgate/connectors/base"
)

const (
	// DriverName is the database/sql driver registered by modernc.org/sqlite
	DriverName = "sqlite"
	// DefaultBusyTimeout is how long a connection waits on a locked database
	DefaultBusyTimeout = 5 * time.Second
)

// Params addresses a SQLite database file. SQLite has no credentials; any
// secret on the profile is ignored.
type Params struct {
	Path        string
	ReadOnly    bool
	BusyTimeout time.Duration
	Extra       map[string]string
}

var _ base.Params = (*Params)(nil)

// NewParams builds Params from a sqlite profile. The profile's Database
// field is the file path.
func NewParams(p *base.Profile) (*Params, error) {
	if p == nil || p.Backend != base.BackendSQLite {
		return nil, fmt.Errorf("%w: not a sqlite profile", base.ErrInvalidProfile)
	}
	path := strings.TrimSpace(p.Database)
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite database path is required", base.ErrInvalidProfile)
	}
	if strings.ContainsAny(path, "?#") {
		return nil, fmt.Errorf("%w: sqlite database path must not contain '?' or '#'", base.ErrInvalidProfile)
	}

	busy := DefaultBusyTimeout
	if p.Options.ConnectTimeoutSeconds > 0 {
		busy = time.Duration(p.Options.ConnectTimeoutSeconds) * time.Second
	}

	return &Params{
		Path:        strings.TrimPrefix(path, "file:"),
		ReadOnly:    p.Options.ReadOnly,
		BusyTimeout: busy,
		Extra:       p.Options.Params,
	}, nil
}

func (p *Params) Backend() base.BackendType { return base.BackendSQLite }

func (p *Params) DriverName() string { return DriverName }

func (p *Params) HealthQuery() string { return "SELECT 1" }

// DSN returns a file: URI with the busy timeout pragma and, for read-only
// profiles, mode=ro.
func (p *Params) DSN() (string, error) {
	if p.Path == "" {
		return "", fmt.Errorf("%w: sqlite database path is required", base.ErrInvalidProfile)
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", p.BusyTimeout.Milliseconds()))
	if p.ReadOnly {
		q.Set("mode", "ro")
	}
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "_pragma" {
			q.Add(k, p.Extra[k])
			continue
		}
		q.Set(k, p.Extra[k])
	}

	return "file:" + p.Path + "?" + q.Encode(), nil
}

// Redacted describes the target without options.
func (p *Params) Redacted() string {
	mode := "rw"
	if p.ReadOnly {
		mode = "ro"
	}
	return fmt.Sprintf("sqlite file:%s (%s)", p.Path, mode)
}

func (p *Params) String() string { return p.Redacted() }
