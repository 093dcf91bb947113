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
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mitchellh/hashstructure/v2"
)

const (
	// DefaultCacheSize is the default number of cached result sets
	DefaultCacheSize = 512
	// DefaultCacheTTL is the default lifetime of a cached result set
	DefaultCacheTTL = 5 * time.Minute
)

// CachedResult is a stored result set.
type CachedResult struct {
	Columns    []string        `json:"columns"`
	Rows       [][]interface{} `json:"rows"`
	Truncated  bool            `json:"truncated"`
	InsertedAt time.Time       `json:"inserted_at"`
}

// CacheStats tracks cache effectiveness
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	L2Hits    int64 `json:"l2_hits"`
	Evictions int64 `json:"evictions"`
}

// ResultCache is a strict LRU with TTL, optionally backed by a shared Redis
// tier. Concurrent identical misses may both fill the cache; the last write
// wins.
type ResultCache struct {
	l1     *expirable.LRU[string, *CachedResult]
	l2     *RedisResultCache
	logger *log.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	l2Hits    atomic.Int64
	evictions atomic.Int64
}

// NewResultCache creates a cache holding at most size entries for ttl.
// l2 may be nil.
func NewResultCache(size int, ttl time.Duration, l2 *RedisResultCache) *ResultCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &ResultCache{
		l2:     l2,
		logger: log.New(os.Stdout, "[RESULT-CACHE] ", log.LstdFlags),
	}
	c.l1 = expirable.NewLRU[string, *CachedResult](size, func(string, *CachedResult) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

// Get returns the cached result for key, consulting Redis on a local miss.
func (c *ResultCache) Get(ctx context.Context, key string) (*CachedResult, bool) {
	if res, ok := c.l1.Get(key); ok {
		c.hits.Add(1)
		return res, true
	}

	if c.l2 != nil {
		res, ok, err := c.l2.Get(ctx, key)
		if err != nil {
			c.logger.Printf("Warning: shared cache lookup failed: %v", err)
		} else if ok {
			c.l1.Add(key, res)
			c.hits.Add(1)
			c.l2Hits.Add(1)
			return res, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Put stores res under key in both tiers.
func (c *ResultCache) Put(ctx context.Context, key string, res *CachedResult) {
	if res.InsertedAt.IsZero() {
		res.InsertedAt = time.Now()
	}
	c.l1.Add(key, res)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, res); err != nil {
			c.logger.Printf("Warning: shared cache write failed: %v", err)
		}
	}
}

// Invalidate drops one key.
func (c *ResultCache) Invalidate(ctx context.Context, key string) {
	c.l1.Remove(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.logger.Printf("Warning: shared cache delete failed: %v", err)
		}
	}
}

// InvalidateConnection drops every key of connectionID and returns how
// many local entries were removed.
func (c *ResultCache) InvalidateConnection(ctx context.Context, connectionID string) int {
	removed := 0
	for _, key := range c.l1.Keys() {
		if keyConnection(key) == connectionID && c.l1.Remove(key) {
			removed++
		}
	}
	if c.l2 != nil {
		if _, err := c.l2.DeleteConnection(ctx, connectionID); err != nil {
			c.logger.Printf("Warning: shared cache invalidation for %s failed: %v", connectionID, err)
		}
	}
	return removed
}

// Len returns the number of local entries.
func (c *ResultCache) Len() int {
	return c.l1.Len()
}

// Stats returns a copy of the cache counters.
func (c *ResultCache) Stats() CacheStats {
	return CacheStats{
		Entries:   c.l1.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		L2Hits:    c.l2Hits.Load(),
		Evictions: c.evictions.Load(),
	}
}

// CacheKey builds the cache key for a statement: the connection id, a
// colon, and a hash of the normalized SQL and its parameters. Case and
// whitespace outside string literals do not change the key.
func CacheKey(connectionID, sql string, params []interface{}) (string, error) {
	in := struct {
		SQL    string
		Params []string
	}{
		SQL:    normalizeForKey(sql),
		Params: make([]string, len(params)),
	}
	for i, p := range params {
		in.Params[i] = paramString(p)
	}

	h, err := hashstructure.Hash(in, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("failed to hash statement: %w", err)
	}
	return fmt.Sprintf("%s:%016x", connectionID, h), nil
}

// keyConnection returns the connection id part of a cache key.
func keyConnection(key string) string {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return ""
	}
	return key[:i]
}

// paramString renders a parameter with its type so 1 and "1" differ.
func paramString(p interface{}) string {
	switch v := p.(type) {
	case nil:
		return "<nil>"
	case time.Time:
		return "time.Time=" + v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("[]byte=%x", v)
	default:
		return fmt.Sprintf("%T=%v", p, p)
	}
}

// normalizeForKey collapses whitespace and upper-cases everything outside
// quoted spans, and drops a trailing semicolon. Single-quoted literals,
// double-quoted identifiers and backquoted identifiers are copied as is:
// "Users" and "users" are different tables.
func normalizeForKey(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	var quote rune
	pendingSpace := false
	for _, r := range strings.TrimSpace(sql) {
		if quote != 0 {
			b.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		switch r {
		case '\'', '"', '`':
			quote = r
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return strings.TrimRight(b.String(), "; ")
}
