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

package credentials

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrKeyNotFound is returned when a key source has no key configured.
var ErrKeyNotFound = errors.New("credential key not found")

// KeySource supplies the server-held secret the credential cipher is keyed
// with. Implementations return a fresh copy the caller may wipe.
type KeySource interface {
	Key(ctx context.Context) ([]byte, error)
}

// StaticKeySource returns a fixed key. Intended for tests and embedded use.
type StaticKeySource []byte

func (s StaticKeySource) Key(ctx context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), s...), nil
}

// EnvKeySource reads the key from an environment variable. Values that
// decode as base64 to at least MinKeyLength bytes are used decoded;
// anything else is used as raw bytes.
type EnvKeySource struct {
	Var string
}

func (s EnvKeySource) Key(ctx context.Context) ([]byte, error) {
	value := strings.TrimSpace(os.Getenv(s.Var))
	if value == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrKeyNotFound, s.Var)
	}
	return decodeKey(value), nil
}

func decodeKey(value string) []byte {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(value); err == nil && len(b) >= MinKeyLength {
			return b
		}
	}
	return []byte(value)
}

// secretsManagerAPI is the subset of the Secrets Manager client used here
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSKeySourceOptions holds options for creating an AWSSecretsManagerKeySource
type AWSKeySourceOptions struct {
	Region    string
	SecretARN string
	// Field selects the key inside a JSON secret. Default: "key".
	Field    string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// AWSSecretsManagerKeySource reads the key from AWS Secrets Manager and
// caches it for CacheTTL.
type AWSSecretsManagerKeySource struct {
	client    secretsManagerAPI
	secretARN string
	field     string
	ttl       time.Duration
	logger    *log.Logger

	mu        sync.Mutex
	cached    []byte
	expiresAt time.Time
}

// NewAWSSecretsManagerKeySource creates a key source using the default AWS
// credential chain.
func NewAWSSecretsManagerKeySource(ctx context.Context, opts AWSKeySourceOptions) (*AWSSecretsManagerKeySource, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newAWSKeySource(secretsmanager.NewFromConfig(cfg), opts)
}

func newAWSKeySource(client secretsManagerAPI, opts AWSKeySourceOptions) (*AWSSecretsManagerKeySource, error) {
	if opts.SecretARN == "" {
		return nil, fmt.Errorf("%w: secret ARN is required", ErrKeyNotFound)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[CREDENTIALS] ", log.LstdFlags)
	}
	field := opts.Field
	if field == "" {
		field = "key"
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecretsManagerKeySource{
		client:    client,
		secretARN: opts.SecretARN,
		field:     field,
		ttl:       ttl,
		logger:    logger,
	}, nil
}

// Key returns the cached key or fetches it. A JSON object secret is read
// at Field; any other string secret is used whole.
func (s *AWSSecretsManagerKeySource) Key(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Now().Before(s.expiresAt) {
		return append([]byte(nil), s.cached...), nil
	}

	s.logger.Printf("Fetching credential key %s from AWS Secrets Manager", maskARN(s.secretARN))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(s.secretARN), err)
	}

	var key []byte
	switch {
	case result.SecretString != nil:
		value := *result.SecretString
		var fields map[string]string
		if err := json.Unmarshal([]byte(value), &fields); err == nil {
			v, ok := fields[s.field]
			if !ok || v == "" {
				return nil, fmt.Errorf("%w: secret %s has no %q field", ErrKeyNotFound, maskARN(s.secretARN), s.field)
			}
			value = v
		}
		key = decodeKey(strings.TrimSpace(value))
	case len(result.SecretBinary) > 0:
		key = append([]byte(nil), result.SecretBinary...)
	default:
		return nil, fmt.Errorf("%w: secret %s is empty", ErrKeyNotFound, maskARN(s.secretARN))
	}

	Wipe(s.cached)
	s.cached = key
	s.expiresAt = time.Now().Add(s.ttl)

	return append([]byte(nil), key...), nil
}

// Invalidate drops the cached key so the next call refetches it.
func (s *AWSSecretsManagerKeySource) Invalidate() {
	s.mu.Lock()
	Wipe(s.cached)
	s.cached = nil
	s.mu.Unlock()
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}
