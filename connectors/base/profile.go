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
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidProfile is returned when a connection profile is malformed.
	// No connection attempt is made for such a profile.
	ErrInvalidProfile = errors.New("invalid connection profile")

	// ErrUnsupportedBackend is returned for a backend type outside the
	// supported set.
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// BackendType identifies the database engine behind a profile
type BackendType string

const (
	BackendSQLite   BackendType = "sqlite"
	BackendPostgres BackendType = "postgres"
	BackendMySQL    BackendType = "mysql"
	BackendMSSQL    BackendType = "mssql"
)

// ValidBackendTypes lists every supported backend.
var ValidBackendTypes = []BackendType{BackendSQLite, BackendPostgres, BackendMySQL, BackendMSSQL}

// IsValid reports whether b is a supported backend.
func (b BackendType) IsValid() bool {
	switch b {
	case BackendSQLite, BackendPostgres, BackendMySQL, BackendMSSQL:
		return true
	default:
		return false
	}
}

func (b BackendType) String() string {
	return string(b)
}

// DefaultPort returns the conventional TCP port for the backend (0 for sqlite).
func (b BackendType) DefaultPort() int {
	switch b {
	case BackendPostgres:
		return 5432
	case BackendMySQL:
		return 3306
	case BackendMSSQL:
		return 1433
	default:
		return 0
	}
}

// ParseBackendType parses a backend name. "postgresql" and "sqlserver" are
// accepted as aliases.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return BackendSQLite, nil
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "mysql":
		return BackendMySQL, nil
	case "mssql", "sqlserver":
		return BackendMSSQL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
}

// SSL modes accepted in ProfileOptions.SSLMode. Each backend maps them to
// its own driver setting; empty means the backend default.
const (
	SSLDisable    = "disable"
	SSLRequire    = "require"
	SSLVerifyCA   = "verify-ca"
	SSLVerifyFull = "verify-full"
)

func validSSLMode(mode string) bool {
	switch mode {
	case "", SSLDisable, SSLRequire, SSLVerifyCA, SSLVerifyFull:
		return true
	}
	return false
}

// ProfileOptions holds backend-specific knobs that are not credentials
type ProfileOptions struct {
	SSLMode               string            `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
	ReadOnly              bool              `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	ConnectTimeoutSeconds int               `json:"connect_timeout_seconds,omitempty" yaml:"connect_timeout_seconds,omitempty"`
	Params                map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Profile is a stored connection profile. The password is only ever held
// as ciphertext here; it is decrypted by the pool manager while building
// a pool.
type Profile struct {
	ID                 string         `json:"id"`
	OwnerID            string         `json:"owner_id"`
	Name               string         `json:"name"`
	Backend            BackendType    `json:"backend"`
	Host               string         `json:"host,omitempty"`
	Port               int            `json:"port,omitempty"`
	Username           string         `json:"username,omitempty"`
	PasswordCiphertext string         `json:"-"`
	Database           string         `json:"database"`
	Options            ProfileOptions `json:"options"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Options.Params != nil {
		c.Options.Params = make(map[string]string, len(p.Options.Params))
		for k, v := range p.Options.Params {
			c.Options.Params[k] = v
		}
	}
	return &c
}

// EffectivePort returns Port, or the backend default when unset.
func (p *Profile) EffectivePort() int {
	if p.Port > 0 {
		return p.Port
	}
	return p.Backend.DefaultPort()
}

// HasPassword reports whether the profile carries encrypted credentials.
func (p *Profile) HasPassword() bool {
	return p.PasswordCiphertext != ""
}

// Validate checks the profile shape. Errors wrap ErrInvalidProfile, or
// ErrUnsupportedBackend for an unknown engine.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if !p.Backend.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, p.Backend)
	}

	var errs []string
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, "id is required")
	}
	if strings.TrimSpace(p.OwnerID) == "" {
		errs = append(errs, "owner_id is required")
	}
	if strings.TrimSpace(p.Database) == "" {
		errs = append(errs, "database is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range", p.Port))
	}
	if !validSSLMode(p.Options.SSLMode) {
		errs = append(errs, fmt.Sprintf("ssl_mode %q not supported", p.Options.SSLMode))
	}
	if p.Options.ConnectTimeoutSeconds < 0 {
		errs = append(errs, "connect_timeout_seconds must not be negative")
	}

	if p.Backend != BackendSQLite {
		if strings.TrimSpace(p.Host) == "" {
			errs = append(errs, "host is required")
		}
		if strings.TrimSpace(p.Username) == "" {
			errs = append(errs, "username is required")
		}
		if !p.HasPassword() {
			errs = append(errs, "password is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(errs, "; "))
	}
	return nil
}

// Params is the backend-specific connection parameter set built from a
// profile and its decrypted secret. Each backend package provides one
// implementation and owns its DSN grammar and driver.
type Params interface {
	// Backend returns the engine the parameters are for.
	Backend() BackendType

	// DriverName returns the database/sql driver name.
	DriverName() string

	// DSN returns the driver connection string. The result contains the
	// plaintext secret and must never be logged; use Redacted for that.
	DSN() (string, error)

	// Redacted returns a loggable description of the target.
	Redacted() string

	// HealthQuery returns a trivial statement used for health checks.
	HealthQuery() string
}
