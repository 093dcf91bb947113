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

package safety

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the validator settings.
type Config struct {
	// ReadOnly rejects every write verb with HIGH risk.
	// Default: true
	ReadOnly bool `json:"read_only" yaml:"read_only"`

	// AllowMultipleStatements lets a single request carry several
	// statements separated by semicolons.
	// Default: false
	AllowMultipleStatements bool `json:"allow_multiple_statements" yaml:"allow_multiple_statements"`

	// SkipStringLiterals hides the contents of quoted string literals from
	// the keyword rules, so WHERE note = 'drop table' is not a DDL.
	// Default: true
	SkipStringLiterals bool `json:"skip_string_literals" yaml:"skip_string_literals"`

	// MaxSelects is the largest number of SELECT keywords allowed.
	// Default: 5
	MaxSelects int `json:"max_selects" yaml:"max_selects"`

	// MaxJoins is the largest number of JOIN keywords allowed.
	// Default: 8
	MaxJoins int `json:"max_joins" yaml:"max_joins"`

	// MaxQueryLength rejects longer statements outright (bytes).
	// Default: 1MB (1048576)
	MaxQueryLength int `json:"max_query_length" yaml:"max_query_length"`
}

const (
	DefaultMaxSelects     = 5
	DefaultMaxJoins       = 8
	DefaultMaxQueryLength = 1048576
)

// DefaultConfig returns the default configuration: read-only, single
// statement, literal skipping on.
func DefaultConfig() Config {
	return Config{
		ReadOnly:                true,
		AllowMultipleStatements: false,
		SkipStringLiterals:      true,
		MaxSelects:              DefaultMaxSelects,
		MaxJoins:                DefaultMaxJoins,
		MaxQueryLength:          DefaultMaxQueryLength,
	}
}

// Environment variable names for validator configuration.
const (
	// EnvReadOnly toggles read-only mode. Valid values: true, false
	EnvReadOnly = "SQLGATE_READ_ONLY"

	// EnvMaxSelects overrides MaxSelects.
	EnvMaxSelects = "SQLGATE_MAX_SELECTS"

	// EnvMaxJoins overrides MaxJoins.
	EnvMaxJoins = "SQLGATE_MAX_JOINS"

	// EnvAllowMultipleStatements toggles stacked statements.
	EnvAllowMultipleStatements = "SQLGATE_ALLOW_MULTIPLE_STATEMENTS"
)

// ConfigFromEnv returns DefaultConfig with environment overrides applied.
func ConfigFromEnv() Config {
	return DefaultConfig().WithEnv()
}

// WithEnv returns a copy of c with the SQLGATE_* overrides applied.
// Invalid values are logged and ignored.
func (c Config) WithEnv() Config {
	if v := os.Getenv(EnvReadOnly); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			log.Printf("[SAFETY] WARNING: Invalid %s=%q, keeping read_only=%t", EnvReadOnly, v, c.ReadOnly)
		} else {
			c.ReadOnly = b
			if !b {
				log.Printf("[SAFETY] Read-only mode DISABLED - write statements are classified, not refused")
			}
		}
	}

	if v := os.Getenv(EnvAllowMultipleStatements); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			log.Printf("[SAFETY] WARNING: Invalid %s=%q, keeping allow_multiple_statements=%t",
				EnvAllowMultipleStatements, v, c.AllowMultipleStatements)
		} else {
			c.AllowMultipleStatements = b
		}
	}

	c.MaxSelects = envLimit(EnvMaxSelects, c.MaxSelects)
	c.MaxJoins = envLimit(EnvMaxJoins, c.MaxJoins)
	return c
}

func envLimit(name string, current int) int {
	v := os.Getenv(name)
	if v == "" {
		return current
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		log.Printf("[SAFETY] WARNING: Invalid %s=%q, keeping %d", name, v, current)
		return current
	}
	return n
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs []string

	if c.MaxSelects < 1 {
		errs = append(errs, "max_selects must be at least 1")
	}
	if c.MaxJoins < 0 {
		errs = append(errs, "max_joins must not be negative")
	}
	if c.MaxQueryLength <= 0 {
		errs = append(errs, "max_query_length must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// WithReadOnly returns a copy of the config with read-only mode set.
func (c Config) WithReadOnly(readOnly bool) Config {
	c.ReadOnly = readOnly
	return c
}

// WithLimits returns a copy of the config with the complexity limits set.
func (c Config) WithLimits(maxSelects, maxJoins int) Config {
	c.MaxSelects = maxSelects
	c.MaxJoins = maxJoins
	return c
}
