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

package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"sqlgate/connectors/base"
	"sqlgate/connectors/mssql"
	"sqlgate/connectors/mysql"
	"sqlgate/connectors/postgres"
	"sqlgate/connectors/sqlite"
)

// ParamsFor builds the backend variant for a profile. The switch is closed
// over the supported backends.
func ParamsFor(p *base.Profile, secret []byte) (base.Params, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil profile", base.ErrInvalidProfile)
	}
	switch p.Backend {
	case base.BackendSQLite:
		return sqlite.NewParams(p)
	case base.BackendPostgres:
		return postgres.NewParams(p, secret)
	case base.BackendMySQL:
		return mysql.NewParams(p, secret)
	case base.BackendMSSQL:
		return mssql.NewParams(p, secret)
	default:
		return nil, fmt.Errorf("%w: %q", base.ErrUnsupportedBackend, p.Backend)
	}
}

// fingerprintInput is everything that identifies a physical pool target.
// The secret enters only as a digest.
type fingerprintInput struct {
	ID           string
	Backend      string
	Host         string
	Port         int
	Username     string
	Database     string
	SSLMode      string
	ReadOnly     bool
	Timeout      int
	Params       map[string]string
	SecretDigest string
}

// Fingerprint hashes the connection identity of p together with its
// decrypted secret. Two profiles share a fingerprint only if they would
// open the same pool.
func Fingerprint(p *base.Profile, secret []byte) (string, error) {
	digest := sha256.Sum256(secret)
	in := fingerprintInput{
		ID:           p.ID,
		Backend:      string(p.Backend),
		Host:         p.Host,
		Port:         p.EffectivePort(),
		Username:     p.Username,
		Database:     p.Database,
		SSLMode:      p.Options.SSLMode,
		ReadOnly:     p.Options.ReadOnly,
		Timeout:      p.Options.ConnectTimeoutSeconds,
		Params:       p.Options.Params,
		SecretDigest: hex.EncodeToString(digest[:]),
	}
	h, err := hashstructure.Hash(in, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint profile: %w", err)
	}
	return fmt.Sprintf("%s:%016x", p.ID, h), nil
}
