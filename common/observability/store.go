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

package observability

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultLogCapacity is the default number of retained log entries
	DefaultLogCapacity = 1000
	// DefaultQueryTextLimit is the default number of query bytes kept per entry
	DefaultQueryTextLimit = 2000
)

// Options configures a Store
type Options struct {
	LogCapacity    int
	QueryTextLimit int
	Cache          *ResultCache
}

// Store keeps the query log, the performance counters and the result
// cache. All methods are safe for concurrent use; each structure has its
// own lock and no lock is held across I/O.
type Store struct {
	mu       sync.Mutex
	log      *ring
	counters counters
	last     time.Time

	textLimit int
	cache     *ResultCache
}

// NewStore creates a store. A nil Options.Cache gets a default in-memory
// cache.
func NewStore(opts Options) *Store {
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = DefaultLogCapacity
	}
	if opts.QueryTextLimit <= 0 {
		opts.QueryTextLimit = DefaultQueryTextLimit
	}
	if opts.Cache == nil {
		opts.Cache = NewResultCache(DefaultCacheSize, DefaultCacheTTL, nil)
	}
	return &Store{
		log:       newRing(opts.LogCapacity),
		counters:  newCounters(),
		textLimit: opts.QueryTextLimit,
		cache:     opts.Cache,
	}
}

// Record appends entry to the log and folds it into the counters. It
// assigns an id when missing, truncates the query text and stamps
// RecordedAt. RecordedAt never goes backwards, so entries of one
// connection are ordered. The stored entry is returned.
func (s *Store) Record(entry QueryLogEntry) QueryLogEntry {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Query = truncate(entry.Query, s.textLimit)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	entry.RecordedAt = now
	if entry.StartedAt.IsZero() {
		entry.StartedAt = now
	}

	s.log.push(entry)
	s.counters.add(&entry)
	return entry
}

// QueryLog returns the n most recent entries, newest first. n <= 0
// returns all retained entries.
func (s *Store) QueryLog(n int) []QueryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.newest(n)
}

// Len returns the number of retained log entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.count
}

// Capacity returns the log capacity.
func (s *Store) Capacity() int {
	return len(s.log.entries)
}

// PerformanceStats returns a copy of the counters.
func (s *Store) PerformanceStats() PerformanceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters.snapshot()
}

// Cache returns the result cache.
func (s *Store) Cache() *ResultCache {
	return s.cache
}

// CacheGet looks key up in the result cache.
func (s *Store) CacheGet(ctx context.Context, key string) (*CachedResult, bool) {
	return s.cache.Get(ctx, key)
}

// CachePut stores a result set.
func (s *Store) CachePut(ctx context.Context, key string, res *CachedResult) {
	s.cache.Put(ctx, key, res)
}

// CacheInvalidate drops one cached result.
func (s *Store) CacheInvalidate(ctx context.Context, key string) {
	s.cache.Invalidate(ctx, key)
}

// CacheInvalidateConnection drops every cached result of a connection.
func (s *Store) CacheInvalidateConnection(ctx context.Context, connectionID string) int {
	return s.cache.InvalidateConnection(ctx, connectionID)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...[truncated]"
}
