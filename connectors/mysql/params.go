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

// Package mysql builds connection parameters for MySQL backends.
package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"sqlgate/connectors/base"
)

const (
	// DriverName is the database/sql driver registered by go-sql-driver/mysql
	DriverName = "mysql"
	// DefaultConnectTimeout is the dial timeout
	DefaultConnectTimeout = 10 * time.Second
	// DefaultIOTimeout bounds individual reads and writes on the socket
	DefaultIOTimeout = 30 * time.Second
	// DefaultCollation gives full UTF-8 support
	DefaultCollation = "utf8mb4_unicode_ci"
)

// Params addresses a MySQL 5.7+/8.0 database.
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

// NewParams builds Params from a mysql profile and its decrypted password.
func NewParams(p *base.Profile, secret []byte) (*Params, error) {
	if p == nil || p.Backend != base.BackendMySQL {
		return nil, fmt.Errorf("%w: not a mysql profile", base.ErrInvalidProfile)
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

func (p *Params) Backend() base.BackendType { return base.BackendMySQL }

func (p *Params) DriverName() string { return DriverName }

func (p *Params) HealthQuery() string { return "SELECT 1" }

// Config returns the driver configuration. Multi-statements stay disabled
// and parameters are bound server-side.
func (p *Params) Config() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	cfg.DBName = p.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Collation = DefaultCollation
	cfg.Timeout = p.ConnectTimeout
	cfg.ReadTimeout = DefaultIOTimeout
	cfg.WriteTimeout = DefaultIOTimeout
	cfg.MultiStatements = false
	cfg.InterpolateParams = false
	cfg.TLSConfig = tlsConfigName(p.SSLMode)

	if len(p.Extra) > 0 || p.ReadOnly {
		cfg.Params = make(map[string]string, len(p.Extra)+1)
		for k, v := range p.Extra {
			cfg.Params[k] = v
		}
		if p.ReadOnly {
			// sent as SET transaction_read_only=1 on every new connection
			cfg.Params["transaction_read_only"] = "1"
		}
	}
	return cfg
}

// DSN returns the driver DSN in user:pass@tcp(host:port)/db?params form.
func (p *Params) DSN() (string, error) {
	if p.Host == "" || p.Database == "" {
		return "", fmt.Errorf("%w: host and database are required", base.ErrInvalidProfile)
	}
	return p.Config().FormatDSN(), nil
}

// Redacted describes the target without the password.
func (p *Params) Redacted() string {
	return fmt.Sprintf("mysql %s@tcp(%s)/%s", p.User, net.JoinHostPort(p.Host, strconv.Itoa(p.Port)), p.Database)
}

func (p *Params) String() string { return p.Redacted() }

func tlsConfigName(sslMode string) string {
	switch sslMode {
	case base.SSLDisable:
		return "false"
	case base.SSLRequire:
		return "skip-verify"
	case base.SSLVerifyCA, base.SSLVerifyFull:
		return "true"
	default:
		return "preferred"
	}
}
