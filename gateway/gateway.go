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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlgate/common/observability"
	"sqlgate/connectors/base"
	"sqlgate/connectors/pool"
	"sqlgate/connectors/registry"
	"sqlgate/gateway/safety"
	"sqlgate/shared/config"
	"sqlgate/shared/logger"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxTimeout = 2 * time.Minute
	DefaultMaxRows    = 1000
)

// ProfileSource resolves owner-scoped connection profiles. Satisfied by
// *registry.Registry.
type ProfileSource interface {
	Get(ctx context.Context, ownerID, id string) (*base.Profile, error)
}

// PoolSource hands out pooled connections. Satisfied by *pool.Manager.
type PoolSource interface {
	Acquire(ctx context.Context, profile *base.Profile) (*pool.Handle, error)
	Evict(ctx context.Context, connectionID string) error
	Stats() pool.Stats
	Shutdown(ctx context.Context) error
}

// Deps are the collaborators of a Gateway. Profiles and Pools are
// required; the rest default when nil.
type Deps struct {
	Profiles  ProfileSource
	Pools     PoolSource
	Validator *safety.Validator
	Store     *observability.Store
	Metrics   *Metrics
	Logger    *logger.Logger
}

// Options are the execution limits
type Options struct {
	// DefaultTimeout applies when a request carries none.
	DefaultTimeout time.Duration
	// MaxTimeout caps every request timeout.
	MaxTimeout time.Duration
	// MaxRows is the most rows returned per statement; more are dropped
	// and the envelope is marked truncated.
	MaxRows int
	// DisableCache turns the result cache off.
	DisableCache bool
}

// OptionsFromConfig maps the gateway section of the service config
func OptionsFromConfig(c config.GatewayConfig) Options {
	return Options{
		DefaultTimeout: c.DefaultTimeout(),
		MaxTimeout:     c.MaxTimeout(),
		MaxRows:        c.MaxRows,
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = DefaultMaxTimeout
	}
	if o.DefaultTimeout > o.MaxTimeout {
		o.DefaultTimeout = o.MaxTimeout
	}
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	return o
}

// Gateway validates, executes and records SQL against stored connection
// profiles. It is safe for concurrent use.
type Gateway struct {
	profiles  ProfileSource
	pools     PoolSource
	validator *safety.Validator
	store     *observability.Store
	metrics   *Metrics
	logger    *logger.Logger
	opts      Options

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// New builds a gateway. Close releases its pools.
func New(deps Deps, opts Options) (*Gateway, error) {
	if deps.Profiles == nil {
		return nil, fmt.Errorf("%w: profile source", ErrMissingDependency)
	}
	if deps.Pools == nil {
		return nil, fmt.Errorf("%w: pool source", ErrMissingDependency)
	}
	g := &Gateway{
		profiles:  deps.Profiles,
		pools:     deps.Pools,
		validator: deps.Validator,
		store:     deps.Store,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts.withDefaults(),
	}
	if g.validator == nil {
		g.validator = safety.New(safety.DefaultConfig())
	}
	if g.store == nil {
		g.store = observability.NewStore(observability.Options{})
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	if g.logger == nil {
		g.logger = logger.New("gateway")
	}
	return g, nil
}

// Validator returns the validator in use.
func (g *Gateway) Validator() *safety.Validator { return g.validator }

// Store returns the observability store in use.
func (g *Gateway) Store() *observability.Store { return g.store }

// call carries the state of one Execute.
type call struct {
	req   Request
	start time.Time
	env   *Envelope
	entry observability.QueryLogEntry
}

// Execute validates and runs one statement. Every call records exactly
// one query log entry. Failures are reported in the envelope; a non-nil
// error (wrapping ErrInvalidRequest) means the request itself was
// unusable and is returned alongside the envelope.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Envelope, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	c := &call{
		req:   req,
		start: time.Now(),
		env:   &Envelope{RequestID: req.RequestID},
		entry: observability.QueryLogEntry{
			RequestID:    req.RequestID,
			OwnerID:      req.OwnerID,
			ConnectionID: req.ConnectionID,
			Query:        logger.Redact(req.SQL),
		},
	}
	c.entry.StartedAt = c.start

	if !g.enter() {
		return g.abort(c, ErrClosed)
	}
	defer g.inflight.Done()

	if err := req.check(); err != nil {
		return g.abort(c, err)
	}

	verdict := g.validator.Validate(req.SQL)
	c.entry.RiskLevel = verdict.RiskLevel.String()
	if !verdict.IsSafe {
		c.env.Validation = newValidation(verdict, g.validator.SuggestSafeAlternatives(req.SQL))
		g.metrics.rejected(verdict.RiskLevel)
		return g.finish(c, KindValidationRejected, verdict.Reason), nil
	}
	c.env.Validation = newValidation(verdict, nil)

	profile, err := g.profiles.Get(ctx, req.OwnerID, req.ConnectionID)
	if err != nil {
		if errors.Is(err, registry.ErrProfileNotFound) {
			return g.abort(c, err)
		}
		return g.finish(c, KindConnectionUnavailable, "profile lookup failed: "+logger.Redact(err.Error())), nil
	}
	c.entry.Backend = profile.Backend.String()

	key := g.cacheKey(c, verdict)
	if key != "" {
		if cached, ok := g.store.CacheGet(ctx, key); ok {
			c.env.Columns = append([]string(nil), cached.Columns...)
			c.env.Rows = copyRows(cached.Rows)
			c.env.RowCount = len(cached.Rows)
			c.env.Truncated = cached.Truncated
			c.env.CacheHit = true
			return g.finish(c, KindNone, ""), nil
		}
	}

	h, err := g.pools.Acquire(ctx, profile)
	if err != nil {
		if errors.Is(err, base.ErrInvalidProfile) || errors.Is(err, base.ErrUnsupportedBackend) {
			return g.abort(c, err)
		}
		return g.finish(c, KindConnectionUnavailable, logger.Redact(err.Error())), nil
	}
	defer h.Release()

	kind, msg := g.run(ctx, h, c)
	if kind == KindNone && key != "" && c.env.Rows != nil {
		g.store.CachePut(ctx, key, &observability.CachedResult{
			Columns:   c.env.Columns,
			Rows:      copyRows(c.env.Rows),
			Truncated: c.env.Truncated,
		})
	}
	return g.finish(c, kind, msg), nil
}

// enter registers an in-flight call unless the gateway is closed.
func (g *Gateway) enter() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false
	}
	g.inflight.Add(1)
	return true
}

// cacheKey returns the result cache key when the statement may be served
// from cache: LOW risk and starting with a read verb.
func (g *Gateway) cacheKey(c *call, verdict safety.Result) string {
	if g.opts.DisableCache || verdict.RiskLevel != safety.RiskLow || !safety.IsReadStatement(c.req.SQL) {
		return ""
	}
	key, err := observability.CacheKey(c.req.ConnectionID, c.req.SQL, c.req.Params)
	if err != nil {
		g.logger.Warn(c.req.OwnerID, c.req.RequestID, "Result cache skipped", map[string]interface{}{
			"connection_id": c.req.ConnectionID,
			"error":         err.Error(),
		})
		return ""
	}
	c.entry.CacheLookup = true
	return key
}

// timeout clamps the requested timeout to the configured bounds.
func (g *Gateway) timeout(requested time.Duration) time.Duration {
	t := requested
	if t <= 0 {
		t = g.opts.DefaultTimeout
	}
	if t > g.opts.MaxTimeout {
		t = g.opts.MaxTimeout
	}
	return t
}

// run executes the statement on h under the request deadline.
func (g *Gateway) run(ctx context.Context, h *pool.Handle, c *call) (ErrorKind, string) {
	timeout := g.timeout(c.req.Timeout)
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.entry.Executed = true
	if !safety.IsReadStatement(c.req.SQL) {
		res, err := h.DB().ExecContext(qctx, c.req.SQL, c.req.Params...)
		if err != nil {
			return classify(qctx, h, err, timeout)
		}
		if n, err := res.RowsAffected(); err == nil {
			c.env.RowCount = int(n)
		}
		return KindNone, ""
	}

	rows, err := h.DB().QueryContext(qctx, c.req.SQL, c.req.Params...)
	if err != nil {
		return classify(qctx, h, err, timeout)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return classify(qctx, h, err, timeout)
	}

	out := make([][]interface{}, 0)
	for rows.Next() {
		if len(out) == g.opts.MaxRows {
			c.env.Truncated = true
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return classify(qctx, h, err, timeout)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return classify(qctx, h, err, timeout)
	}

	c.env.Columns = cols
	c.env.Rows = out
	c.env.RowCount = len(out)
	return KindNone, ""
}

// classify maps an execution error onto the taxonomy. Driver messages are
// scrubbed of the pool secret and password-like pairs.
func classify(qctx context.Context, h *pool.Handle, err error, timeout time.Duration) (ErrorKind, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded):
		return KindExecutionTimeout, fmt.Sprintf("query exceeded timeout of %s", timeout)
	case errors.Is(err, context.Canceled) || errors.Is(qctx.Err(), context.Canceled):
		return KindExecutionTimeout, "query cancelled before completion"
	}
	return KindDriverError, base.ScrubError(err, h.Secret()).Error()
}

// abort ends a request that cannot be served at all.
func (g *Gateway) abort(c *call, cause error) (*Envelope, error) {
	env := g.finish(c, KindInvalidRequest, logger.Redact(cause.Error()))
	return env, fmt.Errorf("%w: %w", ErrInvalidRequest, cause)
}

// finish completes the envelope, records the single log entry and emits
// metrics and the log line.
func (g *Gateway) finish(c *call, kind ErrorKind, msg string) *Envelope {
	env := c.env
	env.Success = kind == KindNone

	var elapsed time.Duration
	if kind != KindValidationRejected {
		elapsed = time.Since(c.start)
	}
	env.ExecutionTimeMs = float64(elapsed.Microseconds()) / 1000

	if kind != KindNone {
		env.Error = &ExecError{Kind: kind, Message: msg}
		env.Columns = nil
		env.Rows = nil
		env.Truncated = false
	}

	c.entry.Duration = elapsed
	c.entry.Success = env.Success
	c.entry.RowCount = env.RowCount
	c.entry.CacheHit = env.CacheHit
	c.entry.ErrorKind = kind
	c.entry.ErrorDetail = msg
	recorded := g.store.Record(c.entry)

	g.metrics.observe(kind, env.CacheHit, c.entry.Backend, env.ExecutionTimeMs, c.entry.Executed)

	fields := map[string]interface{}{
		"connection_id": c.req.ConnectionID,
		"log_id":        recorded.ID,
		"row_count":     env.RowCount,
		"cache_hit":     env.CacheHit,
		"risk_level":    c.entry.RiskLevel,
	}
	switch kind {
	case KindNone:
		if env.Truncated {
			fields["truncated"] = true
		}
		g.logger.InfoWithDuration(c.req.OwnerID, c.req.RequestID, "Query executed", env.ExecutionTimeMs, fields)
	case KindValidationRejected:
		if env.Validation != nil {
			fields["rule"] = env.Validation.Rule
		}
		g.logger.Warn(c.req.OwnerID, c.req.RequestID, "Query rejected: "+msg, fields)
	default:
		g.logger.ErrorWithKind(c.req.OwnerID, c.req.RequestID, "Query failed", string(kind), errors.New(msg), fields)
	}
	return env
}

// Invalidate drops cached results and the pool of a connection. Wire it
// to registry changes with OnProfileChange.
func (g *Gateway) Invalidate(ctx context.Context, connectionID string) error {
	removed := g.store.CacheInvalidateConnection(ctx, connectionID)
	err := g.pools.Evict(ctx, connectionID)
	g.logger.Info("", "", "Connection invalidated", map[string]interface{}{
		"connection_id": connectionID,
		"cache_removed": removed,
		"pool_released": err == nil,
	})
	return err
}

// invalidateWait bounds how long a profile change waits for the old pool
// to drain. The pool still closes after the wait ends.
const invalidateWait = 5 * time.Second

// OnProfileChange is a registry.ChangeListener that invalidates the
// changed connection.
func (g *Gateway) OnProfileChange(ctx context.Context, kind registry.ChangeKind, profile *base.Profile) {
	if profile == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, invalidateWait)
	defer cancel()
	if err := g.Invalidate(ctx, profile.ID); err != nil {
		g.logger.Warn(profile.OwnerID, "", "Pool still draining after profile "+kind.String(), map[string]interface{}{
			"connection_id": profile.ID,
			"error":         err.Error(),
		})
	}
}

// Snapshot is the operational view used by dashboards
type Snapshot struct {
	Performance observability.PerformanceStats `json:"performance"`
	QueryLog    []observability.QueryLogEntry  `json:"query_log"`
	Cache       observability.CacheStats       `json:"cache"`
	Pools       pool.Stats                     `json:"pools"`
	ReadOnly    bool                           `json:"read_only"`
	TakenAt     time.Time                      `json:"taken_at"`
}

// Snapshot returns the counters, the n most recent log entries (newest
// first) and the pool state.
func (g *Gateway) Snapshot(n int) Snapshot {
	return Snapshot{
		Performance: g.store.PerformanceStats(),
		QueryLog:    g.store.QueryLog(n),
		Cache:       g.store.Cache().Stats(),
		Pools:       g.pools.Stats(),
		ReadOnly:    g.validator.ReadOnly(),
		TakenAt:     time.Now().UTC(),
	}
}

// Close rejects new calls, waits for in-flight ones until ctx is done and
// shuts the pools down. It is idempotent.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	already := g.closed
	g.closed = true
	g.mu.Unlock()
	if already {
		return nil
	}

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for in-flight queries: %w", ctx.Err())
	}
	return errors.Join(waitErr, g.pools.Shutdown(ctx))
}
