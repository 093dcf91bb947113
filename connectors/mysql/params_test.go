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

package mysql

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/connectors/base"
)

func testProfile() *base.Profile {
	return &base.Profile{
		ID:                 "conn-2",
		OwnerID:            "owner-1",
		Backend:            base.BackendMySQL,
		Host:               "mysql.internal",
		Username:           "reporter",
		PasswordCiphertext: "v1:ignored",
		Database:           "shop",
	}
}

func TestDSNRoundTrip(t *testing.T) {
	params, err := NewParams(testProfile(), []byte("s3cr@t/pw"))
	require.NoError(t, err)

	dsn, err := params.DSN()
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "reporter", cfg.User)
	assert.Equal(t, "s3cr@t/pw", cfg.Passwd)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "mysql.internal:3306", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, time.UTC, cfg.Loc)
	assert.False(t, cfg.MultiStatements, "multi statements must stay disabled")
	assert.False(t, cfg.InterpolateParams)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultCollation, cfg.Collation)
}

func TestReadOnlyAndExtraParams(t *testing.T) {
	profile := testProfile()
	profile.Options = base.ProfileOptions{
		ReadOnly: true,
		SSLMode:  base.SSLDisable,
		Params:   map[string]string{"sql_mode": "'ANSI_QUOTES'"},
	}

	params, err := NewParams(profile, []byte("pw"))
	require.NoError(t, err)
	cfg := params.Config()

	assert.Equal(t, "1", cfg.Params["transaction_read_only"])
	assert.Equal(t, "'ANSI_QUOTES'", cfg.Params["sql_mode"])
	assert.Equal(t, "false", cfg.TLSConfig)
}

func TestTLSConfigName(t *testing.T) {
	tests := map[string]string{
		"":                 "preferred",
		base.SSLDisable:    "false",
		base.SSLRequire:    "skip-verify",
		base.SSLVerifyCA:   "true",
		base.SSLVerifyFull: "true",
	}
	for mode, want := range tests {
		assert.Equal(t, want, tlsConfigName(mode), "ssl_mode %q", mode)
	}
}

func TestRedactedHidesPassword(t *testing.T) {
	params, err := NewParams(testProfile(), []byte("hunter2"))
	require.NoError(t, err)

	assert.Equal(t, "mysql reporter@tcp(mysql.internal:3306)/shop", params.Redacted())
	assert.NotContains(t, fmt.Sprintf("%v", params), "hunter2")
}

func TestNewParamsRejects(t *testing.T) {
	wrong := testProfile()
	wrong.Backend = base.BackendPostgres
	_, err := NewParams(wrong, nil)
	assert.ErrorIs(t, err, base.ErrInvalidProfile)

	noDB := testProfile()
	noDB.Database = ""
	_, err = NewParams(noDB, nil)
	assert.ErrorIs(t, err, base.ErrInvalidProfile)
}
