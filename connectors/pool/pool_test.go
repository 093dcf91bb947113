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
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/connectors/base"
)

type fakeDecrypter struct{}

func (fakeDecrypter) Decrypt(ciphertext string) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return nil, errors.New("bad ciphertext")
	}
	return []byte(strings.TrimPrefix(ciphertext, "enc:")), nil
}

// mockOpener hands out a fresh sqlmock database per open and counts calls.
type mockOpener struct {
	opens int32
	setup func(sqlmock.Sqlmock)
	pings bool

	mu    sync.Mutex
	mocks []sqlmock.Sqlmock
}

func (o *mockOpener) open(driverName, dsn string) (*sql.DB, error) {
	atomic.AddInt32(&o.opens, 1)
	time.Sleep(10 * time.Millisecond)
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(o.pings))
	if err != nil {
		return nil, err
	}
	if o.setup != nil {
		o.setup(mock)
	}
	o.mu.Lock()
	o.mocks = append(o.mocks, mock)
	o.mu.Unlock()
	return db, nil
}

func (o *mockOpener) count() int { return int(atomic.LoadInt32(&o.opens)) }

func newTestManager(o *mockOpener) *Manager {
	return NewManager(fakeDecrypter{}, Options{
		Open:           o.open,
		IdleTTL:        time.Minute,
		ConnectTimeout: time.Second,
		Logger:         log.New(io.Discard, "", 0),
	})
}

func sqliteProfile(id string) *base.Profile {
	return &base.Profile{
		ID:       id,
		OwnerID:  "owner-1",
		Backend:  base.BackendSQLite,
		Database: "/tmp/" + id + ".db",
	}
}

func postgresProfile(id, password string) *base.Profile {
	return &base.Profile{
		ID:                 id,
		OwnerID:            "owner-1",
		Backend:            base.BackendPostgres,
		Host:               "db.internal",
		Username:           "app",
		PasswordCiphertext: "enc:" + password,
		Database:           "sales",
	}
}

func TestAcquireSingleFlightsConcurrentCreation(t *testing.T) {
	o := &mockOpener{}
	m := newTestManager(o)
	defer m.Shutdown(context.Background())

	const callers = 32
	var wg sync.WaitGroup
	handles := make([]*Handle, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.Acquire(context.Background(), sqliteProfile("conn-1"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	assert.Equal(t, 1, o.count(), "exactly one pool should be opened")
	assert.Equal(t, callers, handles[0].Refs())

	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, 0, handles[0].Refs())

	st := m.Stats()
	assert.Equal(t, 1, st.Pools)
	assert.Equal(t, int64(1), st.Creations)
	require.Len(t, st.Handles, 1)
	assert.Equal(t, "conn-1", st.Handles[0].ConnectionID)
}

func TestAcquireReusesPoolPerConnection(t *testing.T) {
	o := &mockOpener{}
	m := newTestManager(o)
	defer m.Shutdown(context.Background())

	a, err := m.Acquire(context.Background(), sqliteProfile("conn-a"))
	require.NoError(t, err)
	a.Release()

	again, err := m.Acquire(context.Background(), sqliteProfile("conn-a"))
	require.NoError(t, err)
	again.Release()
	assert.Same(t, a, again)

	b, err := m.Acquire(context.Background(), sqliteProfile("conn-b"))
	require.NoError(t, err)
	b.Release()
	assert.NotSame(t, a, b)

	assert.Equal(t, 2, o.count())
	assert.Equal(t, int64(1), m.Stats().Hits)
}

func TestAcquireRejectsBadProfilesWithoutConnecting(t *testing.T) {
	tests := []struct {
		name    string
		profile *base.Profile
		wantErr error
	}{
		{
			name:    "unsupported backend",
			profile: &base.Profile{ID: "x", OwnerID: "o", Backend: "oracle", Database: "d"},
			wantErr: base.ErrUnsupportedBackend,
		},
		{
			name:    "missing host",
			profile: &base.Profile{ID: "x", OwnerID: "o", Backend: base.BackendPostgres, Username: "u", PasswordCiphertext: "enc:p", Database: "d"},
			wantErr: base.ErrInvalidProfile,
		},
		{
			name:    "undecryptable password",
			profile: &base.Profile{ID: "x", OwnerID: "o", Backend: base.BackendPostgres, Host: "h", Username: "u", PasswordCiphertext: "garbage", Database: "d"},
			wantErr: base.ErrInvalidProfile,
		},
		{
			name:    "nil profile",
			profile: nil,
			wantErr: base.ErrInvalidProfile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &mockOpener{}
			m := newTestManager(o)

			h, err := m.Acquire(context.Background(), tt.profile)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, o.count())
		})
	}
}

func TestAcquirePingFailureIsScrubbedAndNotCached(t *testing.T) {
	o := &mockOpener{
		pings: true,
		setup: func(mock sqlmock.Sqlmock) {
			mock.ExpectPing().WillReturnError(errors.New("pq: password authentication failed (password hunter2)"))
		},
	}
	m := newTestManager(o)

	_, err := m.Acquire(context.Background(), postgresProfile("conn-pg", "hunter2"))
	require.Error(t, err)

	var connErr *base.ConnectorError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "conn-pg", connErr.ConnectionID)
	assert.NotContains(t, err.Error(), "hunter2")

	_, err = m.Acquire(context.Background(), postgresProfile("conn-pg", "hunter2"))
	require.Error(t, err)
	assert.Equal(t, 2, o.count(), "failed creations must not be cached")

	st := m.Stats()
	assert.Equal(t, 0, st.Pools)
	assert.Equal(t, int64(2), st.CreationFailures)
}

func TestAcquireRotatesOnCredentialChange(t *testing.T) {
	o := &mockOpener{}
	m := newTestManager(o)
	defer m.Shutdown(context.Background())

	old, err := m.Acquire(context.Background(), postgresProfile("conn-pg", "first"))
	require.NoError(t, err)
	old.Release()

	fresh, err := m.Acquire(context.Background(), postgresProfile("conn-pg", "second"))
	require.NoError(t, err)
	defer fresh.Release()

	assert.NotSame(t, old, fresh)
	assert.NotEqual(t, old.Fingerprint(), fresh.Fingerprint())
	assert.Equal(t, 2, o.count())
	assert.Equal(t, []byte("second"), fresh.Secret())

	select {
	case <-old.drained:
	case <-time.After(time.Second):
		t.Fatal("rotated pool was never drained")
	}
	assert.GreaterOrEqual(t, m.Stats().Rotations, int64(1))
}

func TestEvictWaitsForInFlightReferences(t *testing.T) {
	o := &mockOpener{setup: func(mock sqlmock.Sqlmock) { mock.ExpectClose() }}
	m := newTestManager(o)

	h, err := m.Acquire(context.Background(), postgresProfile("conn-pg", "s3cret"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Evict(context.Background(), "conn-pg") }()

	select {
	case <-done:
		t.Fatal("evict returned while a query still held the pool")
	case <-time.After(50 * time.Millisecond):
	}

	// retired handles refuse new references
	assert.False(t, h.tryRef())

	h.Release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("evict did not finish after release")
	}

	assert.Nil(t, h.Secret(), "secret must be wiped on close")
	require.Len(t, o.mocks, 1)
	assert.NoError(t, o.mocks[0].ExpectationsWereMet())

	_, ok := m.Get("conn-pg")
	assert.False(t, ok)
	assert.Equal(t, int64(1), m.Stats().Evictions)
}

func TestEvictHonoursContext(t *testing.T) {
	o := &mockOpener{}
	m := newTestManager(o)

	h, err := m.Acquire(context.Background(), sqliteProfile("conn-1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m.Evict(ctx, "conn-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.Release()
	select {
	case <-h.drained:
	case <-time.After(time.Second):
		t.Fatal("handle never drained")
	}
}

func TestEvictUnknownConnectionIsNoop(t *testing.T) {
	m := newTestManager(&mockOpener{})
	assert.NoError(t, m.Evict(context.Background(), "missing"))
}

func TestSweepClosesOnlyIdleUnreferencedPools(t *testing.T) {
	o := &mockOpener{}
	m := newTestManager(o)
	defer m.Shutdown(context.Background())

	idle, err := m.Acquire(context.Background(), sqliteProfile("idle"))
	require.NoError(t, err)
	idle.Release()

	busy, err := m.Acquire(context.Background(), sqliteProfile("busy"))
	require.NoError(t, err)
	defer busy.Release()

	assert.Equal(t, 0, m.Sweep(time.Now()), "nothing is past the TTL yet")

	later := time.Now().Add(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep(later))

	_, ok := m.Get("idle")
	assert.False(t, ok)
	_, ok = m.Get("busy")
	assert.True(t, ok)
}

func TestStartSweeperStopsOnShutdown(t *testing.T) {
	m := newTestManager(&mockOpener{})
	m.StartSweeper(context.Background(), 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestValidateConnection(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		o := &mockOpener{setup: func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
		}}
		m := newTestManager(o)
		defer m.Shutdown(context.Background())

		status, err := m.ValidateConnection(context.Background(), sqliteProfile("conn-1"))
		require.NoError(t, err)
		assert.True(t, status.Healthy())
		assert.Equal(t, "sqlite", status.Details["backend"])

		h, ok := m.Get("conn-1")
		require.True(t, ok)
		assert.Equal(t, base.HealthHealthy, h.Health())
		assert.Equal(t, 0, h.Refs())
	})

	t.Run("unreachable", func(t *testing.T) {
		o := &mockOpener{setup: func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("connection reset; password=topsecret"))
		}}
		m := newTestManager(o)
		defer m.Shutdown(context.Background())

		status, err := m.ValidateConnection(context.Background(), postgresProfile("conn-pg", "topsecret"))
		require.Error(t, err)
		assert.False(t, status.Healthy())
		assert.Equal(t, base.HealthUnreachable, status.State)
		assert.NotContains(t, status.Error, "topsecret")
		assert.NotContains(t, err.Error(), "topsecret")

		h, ok := m.Get("conn-pg")
		require.True(t, ok, "unreachable pools stay cached")
		assert.Equal(t, base.HealthUnreachable, h.Health())
		assert.Equal(t, 1, o.count(), "no automatic retry")
	})
}

func TestShutdownClosesEverything(t *testing.T) {
	o := &mockOpener{}
	m := newTestManager(o)

	for _, id := range []string{"a", "b", "c"} {
		h, err := m.Acquire(context.Background(), sqliteProfile(id))
		require.NoError(t, err)
		h.Release()
	}

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 0, m.Stats().Pools)

	_, err := m.Acquire(context.Background(), sqliteProfile("a"))
	assert.ErrorIs(t, err, ErrManagerClosed)

	assert.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestFingerprint(t *testing.T) {
	p := postgresProfile("conn-pg", "unused")

	a, err := Fingerprint(p, []byte("one"))
	require.NoError(t, err)
	b, err := Fingerprint(p, []byte("one"))
	require.NoError(t, err)
	c, err := Fingerprint(p, []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "conn-pg:"))
	assert.NotContains(t, a, "one")

	moved := p.Clone()
	moved.Host = "db2.internal"
	d, err := Fingerprint(moved, []byte("one"))
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestParamsFor(t *testing.T) {
	for _, b := range base.ValidBackendTypes {
		p := postgresProfile("x", "pw")
		p.Backend = b
		params, err := ParamsFor(p, []byte("pw"))
		require.NoError(t, err, b)
		assert.Equal(t, b, params.Backend())
		assert.NotContains(t, params.Redacted(), "pw@")
	}

	_, err := ParamsFor(&base.Profile{Backend: "db2"}, nil)
	assert.ErrorIs(t, err, base.ErrUnsupportedBackend)
}
