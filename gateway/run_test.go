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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/common/usage"
	"sqlgate/connectors/base"
	"sqlgate/connectors/credentials"
	"sqlgate/connectors/registry"
	"sqlgate/shared/config"
)

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app, err := NewApp(ctx, cfg, AppOptions{
		KeySource:  credentials.StaticKeySource("0123456789abcdef0123456789abcdef"),
		Storage:    registry.NewMemoryStorage(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func createShopProfile(t *testing.T, app *App) *base.Profile {
	t.Helper()
	p, err := app.Registry.Create(context.Background(), registry.ProfileInput{
		OwnerID:  testOwner,
		Name:     "shop",
		Backend:  base.BackendSQLite,
		Database: seedSQLite(t, 12),
	})
	require.NoError(t, err)
	return p
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_EndToEnd(t *testing.T) {
	app := newTestApp(t, config.Default())
	p := createShopProfile(t, app)
	ctx := context.Background()

	rejected, err := app.Gateway.Execute(ctx, Request{OwnerID: testOwner, ConnectionID: p.ID, SQL: "DELETE FROM customers WHERE 1=1"})
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", rejected.Validation.RiskLevel)

	first, err := app.Gateway.Execute(ctx, Request{OwnerID: testOwner, ConnectionID: p.ID, SQL: "SELECT * FROM customers LIMIT 10"})
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Len(t, first.Rows, 10)
	assert.False(t, first.CacheHit)

	second, err := app.Gateway.Execute(ctx, Request{OwnerID: testOwner, ConnectionID: p.ID, SQL: "SELECT * FROM customers LIMIT 10"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	router := app.Router()

	t.Run("health", func(t *testing.T) {
		rec := get(t, router, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, true, body["read_only"])
	})

	t.Run("stats", func(t *testing.T) {
		rec := get(t, router, "/api/v1/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var snap struct {
			Performance struct {
				TotalQueries int64 `json:"total_queries"`
				Rejections   int64 `json:"rejections"`
				CacheHits    int64 `json:"cache_hits"`
			} `json:"performance"`
			QueryLog []map[string]interface{} `json:"query_log"`
			ReadOnly bool                     `json:"read_only"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, int64(3), snap.Performance.TotalQueries)
		assert.Equal(t, int64(1), snap.Performance.Rejections)
		assert.Equal(t, int64(1), snap.Performance.CacheHits)
		assert.Len(t, snap.QueryLog, 3)
		assert.True(t, snap.ReadOnly)
	})

	t.Run("query log", func(t *testing.T) {
		rec := get(t, router, "/api/v1/query-log?limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Entries  []map[string]interface{} `json:"entries"`
			Count    int                      `json:"count"`
			Capacity int                      `json:"capacity"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, 1000, body.Capacity)
		assert.Equal(t, true, body.Entries[0]["cache_hit"])
	})

	t.Run("query log bad limit", func(t *testing.T) {
		for _, limit := range []string{"abc", "0", "-3"} {
			rec := get(t, router, "/api/v1/query-log?limit="+limit, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := get(t, router, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "sqlgate_gateway_executions_total")
		assert.Contains(t, rec.Body.String(), `risk_level="CRITICAL"`)
	})

	t.Run("cors", func(t *testing.T) {
		rec := get(t, router, "/health", http.Header{"Origin": {"https://dash.example.com"}})
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHandlersWithoutGateway(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"health", healthHandler},
		{"stats", statsHandler},
		{"query log", queryLogHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, tt.handler, "/", nil)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
}

func TestNewApp_Errors(t *testing.T) {
	t.Run("short key", func(t *testing.T) {
		_, err := NewApp(context.Background(), config.Default(), AppOptions{
			KeySource:  credentials.StaticKeySource("short"),
			Storage:    registry.NewMemoryStorage(),
			Registerer: prometheus.NewRegistry(),
		})
		assert.ErrorIs(t, err, credentials.ErrKeyTooShort)
	})

	t.Run("missing env key", func(t *testing.T) {
		t.Setenv("SQLGATE_TEST_MISSING_KEY", "")
		cfg := config.Default()
		cfg.Credentials.KeyEnv = "SQLGATE_TEST_MISSING_KEY"
		_, err := NewApp(context.Background(), cfg, AppOptions{Registerer: prometheus.NewRegistry()})
		assert.ErrorIs(t, err, credentials.ErrKeyNotFound)
	})

	t.Run("missing pricing file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Usage.PricingFile = "/nonexistent/prices.yaml"
		_, err := NewApp(context.Background(), cfg, AppOptions{
			KeySource:  credentials.StaticKeySource("0123456789abcdef0123456789abcdef"),
			Registerer: prometheus.NewRegistry(),
		})
		assert.Error(t, err)
	})
}

func TestApp_SharedCacheTier(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Observability.RedisURL = "redis://" + mr.Addr()

	app := newTestApp(t, cfg)
	p := createShopProfile(t, app)

	env, err := app.Gateway.Execute(context.Background(), Request{OwnerID: testOwner, ConnectionID: p.ID, SQL: "SELECT id FROM customers LIMIT 3"})
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.NotEmpty(t, mr.Keys(), "result should be written to the shared tier")
}

func TestApp_UnreachableRedisIsNotFatal(t *testing.T) {
	cfg := config.Default()
	cfg.Observability.RedisURL = "redis://127.0.0.1:1"
	app := newTestApp(t, cfg)
	assert.NotNil(t, app.Gateway)
}

func TestApp_RecordUsage(t *testing.T) {
	app := newTestApp(t, config.Default())
	app.Accountant = usage.NewAccountant(usage.HeuristicTokenizer{}, nil)

	rec := app.RecordUsage(usage.EstimateInput{
		RequestID: "req-1",
		OwnerID:   testOwner,
		Model:     "gpt-4o-mini",
		Prompt:    strings.Repeat("word ", 400),
		Response:  strings.Repeat("word ", 200),
	})
	assert.False(t, rec.Failed())
	assert.Equal(t, 500, rec.PromptTokens)
	assert.Equal(t, 250, rec.CompletionTokens)
	assert.Greater(t, rec.CostUSD, 0.0)
	assert.Nil(t, app.Recorder)
}

type offlineTransport struct {
	calls atomic.Int32
}

func (o *offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	o.calls.Add(1)
	return nil, errors.New("network disabled")
}

func TestNewAccountant_NeverUsesNetwork(t *testing.T) {
	rt := &offlineTransport{}
	orig := http.DefaultTransport
	http.DefaultTransport = rt
	t.Cleanup(func() { http.DefaultTransport = orig })
	t.Setenv("TIKTOKEN_CACHE_DIR", t.TempDir())

	acc, err := newAccountant(config.Default().Usage)
	require.NoError(t, err)

	rec := acc.Estimate(usage.EstimateInput{
		RequestID: "req-1",
		Model:     "gpt-4o-mini",
		Prompt:    "List the ten newest customers",
		Response:  "SELECT id, name FROM customers ORDER BY created_at DESC LIMIT 10",
	})
	assert.False(t, rec.Failed())
	assert.Positive(t, rec.PromptTokens)
	assert.Equal(t, "tiktoken:cl100k_base", rec.Tokenizer)
	assert.Zero(t, rt.calls.Load())
}

func TestNewAccountant_DefaultOverride(t *testing.T) {
	cfg := config.Default().Usage
	cfg.DefaultInputPer1K = 0.01
	cfg.DefaultOutputPer1K = 0.02

	acc, err := newAccountant(cfg)
	require.NoError(t, err)
	assert.Equal(t, usage.ModelPrice{InputPer1K: 0.01, OutputPer1K: 0.02}, acc.Prices().Default())
}
