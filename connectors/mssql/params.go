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

// Package mssql builds connection parameters for Microsoft SQL Server backends.
package mssql

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"sqlgate/connectors/base"
)

const (
	// DriverName is the database/sql driver registered by go-mssqldb for
	// sqlserver:// URLs
	DriverName = "sqlserver"
	// DefaultConnectTimeout is the login timeout
	DefaultConnectTimeout = 10 * time.Second
	// ApplicationName is reported to the server as the app name
	ApplicationName = "sqlgate"
)

// Params addresses a Microsoft SQL Server database.
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

// NewParams builds Params from an mssql profile and its decrypted password.
func NewParams(p *base.Profile, secret []byte) (*Params, error) {
	if p == nil || p.Backend != base.BackendMSSQL {
		return nil, fmt.Errorf("%w: not an mssql profile", base.ErrInvalidProfile)
	}
	if p.Host == "" || p.Database == "" || p.Username == "" {
		return nil, fmt.Errorf("%w: host, database and username are required", base.ErrInvalidProfile)
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
		SSLMode:        p.Options.SSLMode,
		ConnectTimeout: timeout,
		ReadOnly:       p.Options.ReadOnly,
		Extra:          p.Options.Params,
		password:       string(secret),
	}, nil
}

func (p *Params) Backend() base.BackendType { return base.BackendMSSQL }

func (p *Params) DriverName() string { return DriverName }

func (p *Params) HealthQuery() string { return "SELECT 1" }

// DSN returns a sqlserver:// URL.
func (p *Params) DSN() (string, error) {
	if p.Host == "" || p.Database == "" {
		return "", fmt.Errorf("%w: host and database are required", base.ErrInvalidProfile)
	}

	q := url.Values{}
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, p.Extra[k])
	}

	q.Set("database", p.Database)
	q.Set("connection timeout", strconv.Itoa(int(p.ConnectTimeout.Seconds())))
	q.Set("app name", ApplicationName)
	switch p.SSLMode {
	case base.SSLDisable:
		q.Set("encrypt", "disable")
	case base.SSLRequire:
		q.Set("encrypt", "true")
		q.Set("TrustServerCertificate", "true")
	case base.SSLVerifyCA, base.SSLVerifyFull:
		q.Set("encrypt", "true")
		q.Set("TrustServerCertificate", "false")
	}
	if p.ReadOnly {
		q.Set("ApplicationIntent", "ReadOnly")
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(p.User, p.password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// Redacted describes the target without the password.
func (p *Params) Redacted() string {
	return fmt.Sprintf("sqlserver://%s@%s?database=%s",
		p.User, net.JoinHostPort(p.Host, strconv.Itoa(p.Port)), p.Database)
}

func (p *Params) String() string { return p.Redacted() }
