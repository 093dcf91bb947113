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

package postgres

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"sqlgate/connectors/base"
)

const (
	// DriverName is the database/sql driver registered by lib/pq
	DriverName = "postgres"
	// DefaultSSLMode is used when the profile leaves ssl_mode empty
	DefaultSSLMode = "require"
	// DefaultConnectTimeout bounds the TCP connect and startup handshake
	DefaultConnectTimeout = 10 * time.Second
	// ApplicationName is reported to the server in pg_stat_activity
	ApplicationName = "sqlgate"
)

// Params addresses a PostgreSQL database.
type Params struct {
	Host           string
	Port           int
	User           string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
	ReadOnly       bool
	Extra          map[string]string

	password string
}

var _ base.Params = (*Params)(nil)

// NewParams builds Params from a postgres profile and its decrypted
// password.
func NewParams(p *base.Profile, secret []byte) (*Params, error) {
	if p == nil || p.Backend != base.BackendPostgres {
		return nil, fmt.Errorf("%w: not a postgres profile", base.ErrInvalidProfile)
	}
	if p.Host == "" || p.Database == "" || p.Username == "" {
		return nil, fmt.Errorf("%w: host, database and username are required", base.ErrInvalidProfile)
	}

	sslMode := p.Options.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode
	}

	timeout := DefaultConnectTimeout
	if p.Options.ConnectTimeoutSeconds > 0 {
		timeout = time.Duration(p.Options.ConnectTimeoutSeconds) * time.Second
	}

	return &Params{
		Host:           p.Host,
		Port:           p.EffectivePort(),
		User:           p.Username,
		Database:       p.Database,
		SSLMode:        sslMode,
		ConnectTimeout: timeout,
		ReadOnly:       p.Options.ReadOnly,
		Extra:          p.Options.Params,
		password:       string(secret),
	}, nil
}

func (p *Params) Backend() base.BackendType { return base.BackendPostgres }

func (p *Params) DriverName() string { return DriverName }

func (p *Params) HealthQuery() string { return "SELECT 1" }

// DSN returns a postgres:// URL. Read-only profiles also set
// default_transaction_read_only, which lib/pq forwards as a run-time
// parameter.
func (p *Params) DSN() (string, error) {
	if p.Host == "" || p.Database == "" {
		return "", fmt.Errorf("%w: host and database are required", base.ErrInvalidProfile)
	}

	q := url.Values{}
	for _, k := range sortedKeys(p.Extra) {
		q.Set(k, p.Extra[k])
	}
	q.Set("sslmode", p.SSLMode)
	q.Set("connect_timeout", strconv.Itoa(int(p.ConnectTimeout.Seconds())))
	if q.Get("application_name") == "" {
		q.Set("application_name", ApplicationName)
	}
	if p.ReadOnly {
		q.Set("default_transaction_read_only", "on")
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// Redacted describes the target without the password.
func (p *Params) Redacted() string {
	return fmt.Sprintf("postgres://%s@%s/%s?sslmode=%s",
		p.User, net.JoinHostPort(p.Host, strconv.Itoa(p.Port)), p.Database, p.SSLMode)
}

func (p *Params) String() string { return p.Redacted() }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
