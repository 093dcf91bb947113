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
	"database/sql"
	"sync"
	"time"

	"sqlgate/connectors/base"
	"sqlgate/connectors/credentials"
)

// Handle is one pooled engine for one connection profile. Callers get a
// Handle from Manager.Acquire and must call Release exactly once.
type Handle struct {
	ConnectionID string
	Backend      base.BackendType
	// Target is a redacted description of the backend, safe to log.
	Target    string
	CreatedAt time.Time

	db          *sql.DB
	fingerprint string
	healthQuery string
	secret      []byte

	mu       sync.Mutex
	refs     int
	retired  bool
	lastUsed time.Time
	health   base.HealthState

	drained   chan struct{}
	drainOnce sync.Once
	closeOnce sync.Once
}

func newHandle(connectionID string, params base.Params, db *sql.DB, fingerprint string, secret []byte) *Handle {
	now := time.Now()
	return &Handle{
		ConnectionID: connectionID,
		Backend:      params.Backend(),
		Target:       params.Redacted(),
		CreatedAt:    now,
		db:           db,
		fingerprint:  fingerprint,
		healthQuery:  params.HealthQuery(),
		secret:       append([]byte(nil), secret...),
		lastUsed:     now,
		health:       base.HealthHealthy,
		drained:      make(chan struct{}),
	}
}

// DB returns the pooled database handle.
func (h *Handle) DB() *sql.DB { return h.db }

// Fingerprint returns the profile fingerprint the pool was built from.
func (h *Handle) Fingerprint() string { return h.fingerprint }

// Secret returns the decrypted secret so callers can scrub it from driver
// messages. The slice must not be retained or modified.
func (h *Handle) Secret() []byte { return h.secret }

// Health returns the last observed health state.
func (h *Handle) Health() base.HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}

func (h *Handle) setHealth(s base.HealthState) {
	h.mu.Lock()
	h.health = s
	h.mu.Unlock()
}

// Refs returns the number of in-flight users.
func (h *Handle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// LastUsed returns when the handle was last acquired or released.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// Release returns the caller's reference. The last release of a retired
// handle lets it close.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	h.lastUsed = time.Now()
	done := h.retired && h.refs == 0
	h.mu.Unlock()

	if done {
		h.signalDrained()
	}
}

// tryRef takes a reference unless the handle is retired.
func (h *Handle) tryRef() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return false
	}
	h.refs++
	h.lastUsed = time.Now()
	return true
}

// retireIfIdle retires the handle only when nobody holds it and it has
// been idle at least ttl.
func (h *Handle) retireIfIdle(now time.Time, ttl time.Duration) bool {
	h.mu.Lock()
	if h.retired || h.refs > 0 || now.Sub(h.lastUsed) < ttl {
		h.mu.Unlock()
		return false
	}
	h.retired = true
	h.mu.Unlock()

	h.signalDrained()
	return true
}

// retire stops new references. The drained channel closes once the last
// in-flight reference is released.
func (h *Handle) retire() {
	h.mu.Lock()
	h.retired = true
	done := h.refs == 0
	h.mu.Unlock()

	if done {
		h.signalDrained()
	}
}

func (h *Handle) signalDrained() {
	h.drainOnce.Do(func() { close(h.drained) })
}

// close shuts the pool and wipes the secret. Safe to call more than once.
func (h *Handle) close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.db.Close()
		h.mu.Lock()
		credentials.Wipe(h.secret)
		h.secret = nil
		h.mu.Unlock()
	})
	return err
}
