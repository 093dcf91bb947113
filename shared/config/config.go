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

package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root structure of a gateway configuration file
type Config struct {
	Version       string              `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Pool          PoolConfig          `yaml:"pool"`
	Observability ObservabilityConfig `yaml:"observability"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Registry      RegistryConfig      `yaml:"registry"`
	Usage         UsageConfig         `yaml:"usage"`
}

// ServerConfig configures the ops HTTP listener
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	ReadTimeoutMs  int      `yaml:"read_timeout_ms,omitempty"`
	WriteTimeoutMs int      `yaml:"write_timeout_ms,omitempty"`
	CORSOrigins    []string `yaml:"cors_origins,omitempty"`
}

// GatewayConfig holds execution limits and the validator policy
type GatewayConfig struct {
	ReadOnly                bool `yaml:"read_only"`
	AllowMultipleStatements bool `yaml:"allow_multiple_statements,omitempty"`
	MaxSelects              int  `yaml:"max_selects,omitempty"`
	MaxJoins                int  `yaml:"max_joins,omitempty"`
	DefaultTimeoutMs        int  `yaml:"default_timeout_ms,omitempty"`
	MaxTimeoutMs            int  `yaml:"max_timeout_ms,omitempty"`
	MaxRows                 int  `yaml:"max_rows,omitempty"`
	LoggedQueryLength       int  `yaml:"logged_query_length,omitempty"`
}

// PoolConfig sizes each per-profile connection pool
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns,omitempty"`
	MaxIdleConns           int `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds,omitempty"`
	ConnMaxIdleTimeSeconds int `yaml:"conn_max_idle_time_seconds,omitempty"`
	ConnectTimeoutMs       int `yaml:"connect_timeout_ms,omitempty"`
	IdleTTLSeconds         int `yaml:"idle_ttl_seconds,omitempty"`
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds,omitempty"`
}

// ObservabilityConfig sizes the query log and the result cache
type ObservabilityConfig struct {
	QueryLogCapacity int    `yaml:"query_log_capacity,omitempty"`
	CacheSize        int    `yaml:"cache_size,omitempty"`
	CacheTTLSeconds  int    `yaml:"cache_ttl_seconds,omitempty"`
	RedisURL         string `yaml:"redis_url,omitempty"`
}

// CredentialsConfig selects where the profile encryption key comes from
type CredentialsConfig struct {
	KeySource       string `yaml:"key_source"`
	KeyEnv          string `yaml:"key_env,omitempty"`
	SecretARN       string `yaml:"secret_arn,omitempty"`
	AWSRegion       string `yaml:"aws_region,omitempty"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds,omitempty"`
}

// RegistryConfig selects the connection profile store
type RegistryConfig struct {
	Storage     string `yaml:"storage"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// UsageConfig configures token accounting
type UsageConfig struct {
	PricingFile        string  `yaml:"pricing_file,omitempty"`
	DefaultInputPer1K  float64 `yaml:"default_input_per_1k,omitempty"`
	DefaultOutputPer1K float64 `yaml:"default_output_per_1k,omitempty"`
	TokenizerEncoding  string  `yaml:"tokenizer_encoding,omitempty"`
	DatabaseURL        string  `yaml:"database_url,omitempty"`
}

// Key source and storage names accepted in configuration
const (
	KeySourceEnv = "env"
	KeySourceAWS = "aws"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Server: ServerConfig{
			ListenAddr:     ":8085",
			ReadTimeoutMs:  15000,
			WriteTimeoutMs: 15000,
			CORSOrigins:    []string{"*"},
		},
		Gateway: GatewayConfig{
			ReadOnly:          true,
			MaxSelects:        5,
			MaxJoins:          8,
			DefaultTimeoutMs:  30000,
			MaxTimeoutMs:      120000,
			MaxRows:           1000,
			LoggedQueryLength: 2000,
		},
		Pool: PoolConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
			ConnMaxIdleTimeSeconds: 60,
			ConnectTimeoutMs:       5000,
			IdleTTLSeconds:         900,
			SweepIntervalSeconds:   60,
		},
		Observability: ObservabilityConfig{
			QueryLogCapacity: 1000,
			CacheSize:        512,
			CacheTTLSeconds:  300,
		},
		Credentials: CredentialsConfig{
			KeySource:       KeySourceEnv,
			KeyEnv:          "SQLGATE_ENCRYPTION_KEY",
			CacheTTLSeconds: 300,
		},
		Registry: RegistryConfig{
			Storage: StorageMemory,
		},
		Usage: UsageConfig{
			DefaultInputPer1K:  0.0015,
			DefaultOutputPer1K: 0.002,
			TokenizerEncoding:  "cl100k_base",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies
// SQLGATE_* environment overrides and validates the result. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands environment references in data and decodes it into cfg.
// Fields absent from data keep their current values.
func Parse(data []byte, cfg *Config) error {
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR}, ${VAR:-default} and $VAR references.
// Undefined variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// Environment variable overrides. They win over the file.
const (
	EnvListenAddr        = "SQLGATE_LISTEN_ADDR"
	EnvReadOnly          = "SQLGATE_READ_ONLY"
	EnvMaxRows           = "SQLGATE_MAX_ROWS"
	EnvDefaultTimeoutMs  = "SQLGATE_DEFAULT_TIMEOUT_MS"
	EnvMaxTimeoutMs      = "SQLGATE_MAX_TIMEOUT_MS"
	EnvQueryLogCapacity  = "SQLGATE_QUERY_LOG_CAPACITY"
	EnvCacheSize         = "SQLGATE_CACHE_SIZE"
	EnvCacheTTLSeconds   = "SQLGATE_CACHE_TTL_SECONDS"
	EnvRedisURL          = "SQLGATE_REDIS_URL"
	EnvKeySource         = "SQLGATE_KEY_SOURCE"
	EnvKeySecretARN      = "SQLGATE_KEY_SECRET_ARN"
	EnvRegistryStorage   = "SQLGATE_REGISTRY_STORAGE"
	EnvRegistryDB        = "SQLGATE_DATABASE_URL"
	EnvUsageDB           = "SQLGATE_USAGE_DATABASE_URL"
	EnvPricingFile       = "SQLGATE_PRICING_FILE"
	EnvPoolMaxOpenConns  = "SQLGATE_POOL_MAX_OPEN_CONNS"
	EnvPoolIdleTTLSecond = "SQLGATE_POOL_IDLE_TTL_SECONDS"
)

// ApplyEnv overlays SQLGATE_* variables. Invalid values are logged and
// ignored.
func (c *Config) ApplyEnv() {
	setString(&c.Server.ListenAddr, EnvListenAddr)
	setString(&c.Observability.RedisURL, EnvRedisURL)
	setString(&c.Credentials.KeySource, EnvKeySource)
	setString(&c.Credentials.SecretARN, EnvKeySecretARN)
	setString(&c.Registry.Storage, EnvRegistryStorage)
	setString(&c.Registry.DatabaseURL, EnvRegistryDB)
	setString(&c.Usage.DatabaseURL, EnvUsageDB)
	setString(&c.Usage.PricingFile, EnvPricingFile)

	setBool(&c.Gateway.ReadOnly, EnvReadOnly)

	setInt(&c.Gateway.MaxRows, EnvMaxRows)
	setInt(&c.Gateway.DefaultTimeoutMs, EnvDefaultTimeoutMs)
	setInt(&c.Gateway.MaxTimeoutMs, EnvMaxTimeoutMs)
	setInt(&c.Observability.QueryLogCapacity, EnvQueryLogCapacity)
	setInt(&c.Observability.CacheSize, EnvCacheSize)
	setInt(&c.Observability.CacheTTLSeconds, EnvCacheTTLSeconds)
	setInt(&c.Pool.MaxOpenConns, EnvPoolMaxOpenConns)
	setInt(&c.Pool.IdleTTLSeconds, EnvPoolIdleTTLSecond)
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[CONFIG] WARNING: Invalid %s=%q, keeping %t", env, v, *dst)
		return
	}
	*dst = b
}

func setInt(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[CONFIG] WARNING: Invalid %s=%q, keeping %d", env, v, *dst)
		return
	}
	*dst = n
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.ListenAddr == "" {
		errs = append(errs, "server.listen_addr is required")
	}
	if c.Gateway.MaxSelects <= 0 {
		errs = append(errs, "gateway.max_selects must be positive")
	}
	if c.Gateway.MaxJoins <= 0 {
		errs = append(errs, "gateway.max_joins must be positive")
	}
	if c.Gateway.DefaultTimeoutMs <= 0 {
		errs = append(errs, "gateway.default_timeout_ms must be positive")
	}
	if c.Gateway.MaxTimeoutMs < c.Gateway.DefaultTimeoutMs {
		errs = append(errs, "gateway.max_timeout_ms must be >= default_timeout_ms")
	}
	if c.Gateway.MaxRows <= 0 {
		errs = append(errs, "gateway.max_rows must be positive")
	}
	if c.Pool.MaxOpenConns <= 0 {
		errs = append(errs, "pool.max_open_conns must be positive")
	}
	if c.Pool.MaxIdleConns < 0 || c.Pool.MaxIdleConns > c.Pool.MaxOpenConns {
		errs = append(errs, "pool.max_idle_conns must be between 0 and max_open_conns")
	}
	if c.Observability.QueryLogCapacity <= 0 {
		errs = append(errs, "observability.query_log_capacity must be positive")
	}
	if c.Observability.CacheSize < 0 {
		errs = append(errs, "observability.cache_size must not be negative")
	}

	switch c.Credentials.KeySource {
	case KeySourceEnv:
		if c.Credentials.KeyEnv == "" {
			errs = append(errs, "credentials.key_env is required for the env key source")
		}
	case KeySourceAWS:
		if c.Credentials.SecretARN == "" {
			errs = append(errs, "credentials.secret_arn is required for the aws key source")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid credentials.key_source: %q", c.Credentials.KeySource))
	}

	switch c.Registry.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Registry.DatabaseURL == "" {
			errs = append(errs, "registry.database_url is required for postgres storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid registry.storage: %q", c.Registry.Storage))
	}

	if c.Usage.DefaultInputPer1K < 0 || c.Usage.DefaultOutputPer1K < 0 {
		errs = append(errs, "usage default prices must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func ms(n int) time.Duration      { return time.Duration(n) * time.Millisecond }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// DefaultTimeout is the execution deadline when a request sets none.
func (g GatewayConfig) DefaultTimeout() time.Duration { return ms(g.DefaultTimeoutMs) }

// MaxTimeout caps any caller-supplied deadline.
func (g GatewayConfig) MaxTimeout() time.Duration { return ms(g.MaxTimeoutMs) }

func (p PoolConfig) ConnMaxLifetime() time.Duration { return seconds(p.ConnMaxLifetimeSeconds) }
func (p PoolConfig) ConnMaxIdleTime() time.Duration { return seconds(p.ConnMaxIdleTimeSeconds) }
func (p PoolConfig) ConnectTimeout() time.Duration  { return ms(p.ConnectTimeoutMs) }
func (p PoolConfig) IdleTTL() time.Duration         { return seconds(p.IdleTTLSeconds) }
func (p PoolConfig) SweepInterval() time.Duration   { return seconds(p.SweepIntervalSeconds) }

func (o ObservabilityConfig) CacheTTL() time.Duration { return seconds(o.CacheTTLSeconds) }

func (c CredentialsConfig) CacheTTL() time.Duration { return seconds(c.CacheTTLSeconds) }

func (s ServerConfig) ReadTimeout() time.Duration  { return ms(s.ReadTimeoutMs) }
func (s ServerConfig) WriteTimeout() time.Duration { return ms(s.WriteTimeoutMs) }

// GenerateExampleConfigFile returns an annotated example configuration.
func GenerateExampleConfigFile() string {
	return `# SQL gateway configuration
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default}

version: "1.0"

server:
  listen_addr: "${SQLGATE_LISTEN_ADDR:-:8085}"
  cors_origins: ["*"]

gateway:
  read_only: true
  max_selects: 5
  max_joins: 8
  default_timeout_ms: 30000
  max_timeout_ms: 120000
  max_rows: 1000

pool:
  max_open_conns: 25
  max_idle_conns: 5
  conn_max_lifetime_seconds: 300
  idle_ttl_seconds: 900

observability:
  query_log_capacity: 1000
  cache_size: 512
  cache_ttl_seconds: 300
  redis_url: ${REDIS_URL}

credentials:
  key_source: env              # env | aws
  key_env: SQLGATE_ENCRYPTION_KEY
  # secret_arn: arn:aws:secretsmanager:us-east-1:123456789012:secret:sqlgate/key

registry:
  storage: postgres            # memory | postgres
  database_url: ${DATABASE_URL}

usage:
  pricing_file: /etc/sqlgate/pricing.yaml
  default_input_per_1k: 0.0015
  default_output_per_1k: 0.002
  database_url: ${DATABASE_URL}
`
}
