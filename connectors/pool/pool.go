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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sqlgate/connectors/base"
	"sqlgate/connectors/credentials"
)

const (
	// DefaultMaxOpenConns bounds concurrent queries per pool
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultConnMaxIdleTime is the default maximum idle time for connections
	DefaultConnMaxIdleTime = time.Minute
	// DefaultConnectTimeout bounds the connectivity pre-check
	DefaultConnectTimeout = 5 * time.Second
	// DefaultIdleTTL is how long an unused pool survives before the sweeper closes it
	DefaultIdleTTL = 15 * time.Minute

	maxAcquireAttempts = 3
)

// ErrManagerClosed is returned by Acquire after Shutdown.
var ErrManagerClosed = errors.New("pool manager is shut down")

// Decrypter opens sealed profile passwords. Satisfied by *credentials.Cipher.
type Decrypter interface {
	Decrypt(ciphertext string) ([]byte, error)
}

// OpenFunc opens a database/sql handle. Tests substitute go-sqlmock.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	IdleTTL         time.Duration
	Open            OpenFunc
	Logger          *log.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = DefaultMaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = DefaultMaxIdleConns
	}
	if o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = o.MaxOpenConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if o.ConnMaxIdleTime <= 0 {
		o.ConnMaxIdleTime = DefaultConnMaxIdleTime
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = DefaultIdleTTL
	}
	if o.Open == nil {
		o.Open = sql.Open
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stdout, "[POOL] ", log.LstdFlags)
	}
	return o
}

// Manager builds and caches one pooled engine per connection profile.
// Pool creation is single-flighted per fingerprint.
type Manager struct {
	opts      Options
	decrypter Decrypter
	logger    *log.Logger
	flight    singleflight.Group

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool

	stats stats

	stopSweep context.CancelFunc
	sweepWG   sync.WaitGroup
}

// NewManager creates a pool manager. decrypter may be nil when only
// password-less (sqlite) profiles are used.
func NewManager(decrypter Decrypter, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:      opts,
		decrypter: decrypter,
		logger:    opts.Logger,
		handles:   make(map[string]*Handle),
	}
}

// Acquire returns a ready pool for profile with one reference taken. The
// caller must Release it. Malformed profiles fail with base.ErrInvalidProfile
// or base.ErrUnsupportedBackend before any connection attempt; connection
// failures are *base.ConnectorError.
func (m *Manager) Acquire(ctx context.Context, profile *base.Profile) (*Handle, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	secret, err := m.decrypt(profile)
	if err != nil {
		return nil, err
	}
	defer credentials.Wipe(secret)

	fp, err := Fingerprint(profile, secret)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		h, err := m.lookup(profile.ID, fp)
		if err != nil {
			return nil, err
		}
		if h != nil {
			m.stats.hit()
			return h, nil
		}

		m.stats.miss()
		v, err, _ := m.flight.Do(fp, func() (interface{}, error) {
			return m.create(ctx, profile, secret, fp)
		})
		if err != nil {
			return nil, err
		}

		h = v.(*Handle)
		if h.tryRef() {
			return h, nil
		}
		// retired between creation and our reference; go round again
	}

	return nil, base.NewConnectorError(profile.ID, "Acquire", "pool kept being retired during acquisition", nil)
}

func (m *Manager) decrypt(profile *base.Profile) ([]byte, error) {
	if !profile.HasPassword() {
		return nil, nil
	}
	if m.decrypter == nil {
		return nil, fmt.Errorf("%w: no credential cipher configured", base.ErrInvalidProfile)
	}
	secret, err := m.decrypter.Decrypt(profile.PasswordCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: credentials could not be decrypted: %w", base.ErrInvalidProfile, err)
	}
	return secret, nil
}

// lookup returns a referenced handle for (id, fp) if one is cached. A
// cached handle with a different fingerprint means the credentials or
// target changed; it is retired and nil is returned.
func (m *Manager) lookup(id, fp string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	h, ok := m.handles[id]
	if !ok {
		return nil, nil
	}
	if h.fingerprint == fp {
		if h.tryRef() {
			return h, nil
		}
		return nil, nil
	}

	delete(m.handles, id)
	m.stats.rotation()
	m.logger.Printf("Profile %s changed, retiring pool for %s", id, h.Target)
	m.retireAsync(h)
	return nil, nil
}

// create opens, sizes and pings a new pool. It runs inside the
// single-flight for fp.
func (m *Manager) create(ctx context.Context, profile *base.Profile, secret []byte, fp string) (*Handle, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if h, ok := m.handles[profile.ID]; ok && h.fingerprint == fp {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	params, err := ParamsFor(profile, secret)
	if err != nil {
		return nil, err
	}
	dsn, err := params.DSN()
	if err != nil {
		return nil, err
	}

	db, err := m.opts.Open(params.DriverName(), dsn)
	if err != nil {
		m.stats.failure()
		return nil, base.NewConnectorError(profile.ID, "Acquire", "failed to open database", base.ScrubError(err, secret))
	}

	db.SetMaxOpenConns(m.opts.MaxOpenConns)
	db.SetMaxIdleConns(m.opts.MaxIdleConns)
	db.SetConnMaxLifetime(m.opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(m.opts.ConnMaxIdleTime)

	// The flight is shared by every waiter, so one caller's cancellation
	// must not fail the others.
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		m.stats.failure()
		m.logger.Printf("Connectivity check failed for %s (%s)", profile.ID, params.Redacted())
		return nil, base.NewConnectorError(profile.ID, "Acquire", "failed to ping database", base.ScrubError(err, secret))
	}

	h := newHandle(profile.ID, params, db, fp, secret)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = h.close()
		return nil, ErrManagerClosed
	}
	if old, ok := m.handles[profile.ID]; ok {
		m.stats.rotation()
		m.retireAsync(old)
	}
	m.handles[profile.ID] = h
	m.mu.Unlock()

	m.stats.created()
	m.logger.Printf("Created pool for %s: %s (max_conns=%d)", profile.ID, params.Redacted(), m.opts.MaxOpenConns)
	return h, nil
}

// retireAsync retires h and closes it in the background once drained.
func (m *Manager) retireAsync(h *Handle) <-chan struct{} {
	h.retire()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-h.drained
		if err := h.close(); err != nil {
			m.logger.Printf("Warning: failed to close pool for %s: %v", h.ConnectionID, err)
		}
		m.stats.evicted()
	}()
	return done
}

// Evict removes the pool for connectionID. It waits for in-flight queries
// to release the handle before closing it and wiping the secret. If ctx
// ends first the close still happens once the handle drains.
func (m *Manager) Evict(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	h, ok := m.handles[connectionID]
	if ok {
		delete(m.handles, connectionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	m.logger.Printf("Evicting pool for %s", connectionID)
	done := m.retireAsync(h)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s still draining: %w", connectionID, ctx.Err())
	}
}

// Sweep closes pools that have had no references for longer than the idle
// TTL. It returns the number of pools retired.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var idle []*Handle
	for id, h := range m.handles {
		if h.retireIfIdle(now, m.opts.IdleTTL) {
			delete(m.handles, id)
			idle = append(idle, h)
		}
	}
	m.mu.Unlock()

	for _, h := range idle {
		m.retireAsync(h)
	}
	if len(idle) > 0 {
		m.logger.Printf("Swept %d idle pools", len(idle))
	}
	return len(idle)
}

// StartSweeper runs Sweep every interval until ctx is done or Shutdown is
// called.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.stopSweep != nil {
		m.stopSweep()
	}
	m.stopSweep = cancel
	m.mu.Unlock()

	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Println("Stopping idle pool sweeper")
				return
			case now := <-ticker.C:
				m.Sweep(now)
			}
		}
	}()
}

// ValidateConnection runs the backend health query and records the result
// on the handle. An unreachable pool stays cached and is not retried; the
// caller decides whether to Evict it.
func (m *Manager) ValidateConnection(ctx context.Context, profile *base.Profile) (*base.HealthStatus, error) {
	start := time.Now()
	status := &base.HealthStatus{
		ConnectionID: profile.ID,
		State:        base.HealthUnreachable,
		Timestamp:    start,
	}

	h, err := m.Acquire(ctx, profile)
	if err != nil {
		status.Latency = time.Since(start)
		status.Error = err.Error()
		return status, err
	}
	defer h.Release()

	checkCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	var one int
	err = h.db.QueryRowContext(checkCtx, h.healthQuery).Scan(&one)
	status.Latency = time.Since(start)
	status.Details = map[string]string{
		"backend": string(h.Backend),
		"target":  h.Target,
	}

	if err != nil {
		h.setHealth(base.HealthUnreachable)
		scrubbed := base.ScrubError(err, h.secret)
		status.Error = scrubbed.Error()
		m.logger.Printf("Health check failed for %s", profile.ID)
		return status, base.NewConnectorError(profile.ID, "ValidateConnection", "health query failed", scrubbed)
	}

	h.setHealth(base.HealthHealthy)
	status.State = base.HealthHealthy
	return status, nil
}

// Shutdown stops the sweeper and closes every pool, waiting for in-flight
// references until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.stopSweep != nil {
		m.stopSweep()
	}
	handles := m.handles
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	m.sweepWG.Wait()

	waits := make([]<-chan struct{}, 0, len(handles))
	for _, h := range handles {
		waits = append(waits, m.retireAsync(h))
	}
	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted while pools drain: %w", ctx.Err())
		}
	}

	m.logger.Printf("Closed %d pools", len(handles))
	return nil
}

// Get returns the cached handle for connectionID without taking a reference.
func (m *Manager) Get(connectionID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[connectionID]
	return h, ok
}

// Stats returns pool counters and a per-pool view, ordered by connection id.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	out := m.stats.snapshot()
	out.Pools = len(handles)
	for _, h := range handles {
		dbStats := h.db.Stats()
		h.mu.Lock()
		out.Handles = append(out.Handles, HandleInfo{
			ConnectionID:    h.ConnectionID,
			Backend:         h.Backend,
			Target:          h.Target,
			Health:          h.health,
			Refs:            h.refs,
			LastUsed:        h.lastUsed,
			CreatedAt:       h.CreatedAt,
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
		})
		h.mu.Unlock()
	}
	sort.Slice(out.Handles, func(i, j int) bool {
		return out.Handles[i].ConnectionID < out.Handles[j].ConnectionID
	})
	return out
}
