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
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sqlgate/common/observability"
	"sqlgate/common/usage"
	"sqlgate/connectors/credentials"
	"sqlgate/connectors/pool"
	"sqlgate/connectors/registry"
	"sqlgate/gateway/safety"
	"sqlgate/shared/config"
	"sqlgate/shared/logger"
)

const (
	// DefaultQueryLogLimit is the number of entries /api/v1/query-log
	// returns without a limit parameter.
	DefaultQueryLogLimit = 100

	statsLogEntries = 10
	shutdownTimeout = 15 * time.Second
)

// App wires the gateway and its collaborators from a Config
type App struct {
	Config     *config.Config
	Registry   *registry.Registry
	Pools      *pool.Manager
	Gateway    *Gateway
	Accountant *usage.Accountant
	// Recorder is nil unless usage.database_url is set.
	Recorder *usage.Recorder

	logger   *logger.Logger
	gatherer prometheus.Gatherer
	closers  []func() error
}

// AppOptions overrides pieces of the wiring. Zero values use the
// configuration.
type AppOptions struct {
	KeySource  credentials.KeySource
	Storage    registry.Store
	OpenDB     pool.OpenFunc
	Registerer prometheus.Registerer
}

// NewApp builds every component described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	a := &App{Config: cfg, logger: logger.New("service")}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts AppOptions) error {
	cfg := a.Config

	src := opts.KeySource
	if src == nil {
		var err error
		if src, err = keySource(ctx, cfg.Credentials); err != nil {
			return err
		}
	}
	cipher, err := credentials.NewCipherFromSource(ctx, src)
	if err != nil {
		return fmt.Errorf("credential cipher: %w", err)
	}

	store := opts.Storage
	if store == nil {
		if store, err = a.profileStore(cfg.Registry); err != nil {
			return err
		}
	}
	a.Registry = registry.New(store, cipher)

	a.Pools = pool.NewManager(cipher, pool.Options{
		MaxOpenConns:    cfg.Pool.MaxOpenConns,
		MaxIdleConns:    cfg.Pool.MaxIdleConns,
		ConnMaxLifetime: cfg.Pool.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.Pool.ConnMaxIdleTime(),
		ConnectTimeout:  cfg.Pool.ConnectTimeout(),
		IdleTTL:         cfg.Pool.IdleTTL(),
		Open:            opts.OpenDB,
	})
	if interval := cfg.Pool.SweepInterval(); interval > 0 {
		a.Pools.StartSweeper(ctx, interval)
	}

	var l2 *observability.RedisResultCache
	if cfg.Observability.RedisURL != "" {
		l2, err = observability.NewRedisResultCache(ctx, cfg.Observability.RedisURL, cfg.Observability.CacheTTL())
		if err != nil {
			a.logger.Warn("", "", "Shared result cache disabled", map[string]interface{}{"error": logger.Redact(err.Error())})
		} else {
			a.closers = append(a.closers, l2.Close)
		}
	}
	obs := observability.NewStore(observability.Options{
		LogCapacity:    cfg.Observability.QueryLogCapacity,
		QueryTextLimit: cfg.Gateway.LoggedQueryLength,
		Cache:          observability.NewResultCache(cfg.Observability.CacheSize, cfg.Observability.CacheTTL(), l2),
	})

	sc := safety.DefaultConfig().
		WithReadOnly(cfg.Gateway.ReadOnly).
		WithLimits(cfg.Gateway.MaxSelects, cfg.Gateway.MaxJoins)
	sc.AllowMultipleStatements = cfg.Gateway.AllowMultipleStatements

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		a.gatherer = g
	}
	a.Gateway, err = New(Deps{
		Profiles:  a.Registry,
		Pools:     a.Pools,
		Validator: safety.New(sc),
		Store:     obs,
		Metrics:   NewMetrics(reg),
	}, OptionsFromConfig(cfg.Gateway))
	if err != nil {
		return err
	}
	a.Registry.OnChange(a.Gateway.OnProfileChange)

	if a.Accountant, err = newAccountant(cfg.Usage); err != nil {
		return err
	}
	if cfg.Usage.DatabaseURL != "" {
		if a.Recorder, err = usage.OpenRecorder(ctx, cfg.Usage.DatabaseURL); err != nil {
			return err
		}
		a.closers = append(a.closers, a.Recorder.Close)
	}
	return nil
}

func keySource(ctx context.Context, c config.CredentialsConfig) (credentials.KeySource, error) {
	if c.KeySource == config.KeySourceAWS {
		src, err := credentials.NewAWSSecretsManagerKeySource(ctx, credentials.AWSKeySourceOptions{
			Region:    c.AWSRegion,
			SecretARN: c.SecretARN,
			CacheTTL:  c.CacheTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("aws key source: %w", err)
		}
		return src, nil
	}
	return credentials.EnvKeySource{Var: c.KeyEnv}, nil
}

func (a *App) profileStore(c config.RegistryConfig) (registry.Store, error) {
	if c.Storage != config.StoragePostgres {
		return registry.NewMemoryStorage(), nil
	}
	pg, err := registry.NewPostgreSQLStorage(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("profile storage: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}

func newAccountant(c config.UsageConfig) (*usage.Accountant, error) {
	prices := usage.DefaultPriceTable()
	if c.PricingFile != "" {
		var err error
		if prices, err = usage.LoadPriceTable(c.PricingFile); err != nil {
			return nil, err
		}
	}
	if c.DefaultInputPer1K > 0 || c.DefaultOutputPer1K > 0 {
		if err := prices.SetDefault(usage.ModelPrice{InputPer1K: c.DefaultInputPer1K, OutputPer1K: c.DefaultOutputPer1K}); err != nil {
			return nil, err
		}
	}
	return usage.NewAccountant(usage.NewTiktokenTokenizer(c.TokenizerEncoding), prices), nil
}

// RecordUsage estimates the cost of an agent turn and, when a recorder is
// configured, stores it in the background. It never fails.
func (a *App) RecordUsage(in usage.EstimateInput) usage.Record {
	rec := a.Accountant.Estimate(in)
	if a.Recorder != nil {
		a.Recorder.RecordAsync(rec)
	}
	return rec
}

// Router returns the ops HTTP surface: health, Prometheus metrics, the
// performance snapshot and the query log.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(a.withGateway)
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/api/v1/stats", statsHandler).Methods("GET")
	r.HandleFunc("/api/v1/query-log", queryLogHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: a.Config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (a *App) withGateway(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithGateway(r.Context(), a.Gateway)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.New("service").Error("", "", "Error encoding response", map[string]interface{}{"error": err.Error()})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	g := FromContext(r.Context())
	if g == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "sqlgate",
		"read_only": g.Validator().ReadOnly(),
		"timestamp": time.Now().UTC(),
	})
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	g := FromContext(r.Context())
	if g == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not ready"})
		return
	}
	writeJSON(w, http.StatusOK, g.Snapshot(statsLogEntries))
}

func queryLogHandler(w http.ResponseWriter, r *http.Request) {
	g := FromContext(r.Context())
	if g == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not ready"})
		return
	}
	limit := DefaultQueryLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries := g.Store().QueryLog(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":  entries,
		"count":    len(entries),
		"capacity": g.Store().Capacity(),
	})
}

// Close shuts the gateway and pools down and releases every backing store.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Gateway != nil {
		err = a.Gateway.Close(ctx)
	} else if a.Pools != nil {
		err = a.Pools.Shutdown(ctx)
	}
	return errors.Join(err, a.closeAll())
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run loads .env and the configuration at configPath, serves the ops
// endpoints and blocks until ctx is cancelled or the listener fails.
func Run(ctx context.Context, configPath string) error {
	log := logger.New("service")
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("", "", "Failed to load .env", map[string]interface{}{"error": err.Error()})
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      app.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "SQL gateway listening", map[string]interface{}{
			"addr":      cfg.Server.ListenAddr,
			"read_only": cfg.Gateway.ReadOnly,
		})
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("", "", "HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	log.Info("", "", "SQL gateway stopping", nil)
	return errors.Join(serveErr, app.Close(shutdownCtx))
}
