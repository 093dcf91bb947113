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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_QueryLogIsBoundedFIFO(t *testing.T) {
	s := NewStore(Options{LogCapacity: 3})

	for i := 1; i <= 5; i++ {
		s.Record(QueryLogEntry{RequestID: fmt.Sprintf("r%d", i), ConnectionID: "conn-1"})
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, s.Capacity())

	all := s.QueryLog(0)
	require.Len(t, all, 3)
	assert.Equal(t, "r5", all[0].RequestID)
	assert.Equal(t, "r4", all[1].RequestID)
	assert.Equal(t, "r3", all[2].RequestID)

	two := s.QueryLog(2)
	require.Len(t, two, 2)
	assert.Equal(t, "r5", two[0].RequestID)

	assert.Len(t, s.QueryLog(50), 3)
	assert.Equal(t, int64(5), s.PerformanceStats().TotalQueries, "counters keep evicted entries")
}

func TestStore_RecordAssignsIDAndTimestamps(t *testing.T) {
	s := NewStore(Options{})
	e := s.Record(QueryLogEntry{RequestID: "r1", ConnectionID: "c"})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.RecordedAt.IsZero())
	assert.Equal(t, e.RecordedAt, e.StartedAt)

	kept := s.Record(QueryLogEntry{ID: "fixed", RequestID: "r2"})
	assert.Equal(t, "fixed", kept.ID)
}

func TestStore_RecordedAtIsMonotonic(t *testing.T) {
	s := NewStore(Options{LogCapacity: 1000})

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.Record(QueryLogEntry{RequestID: fmt.Sprintf("g%d-%d", g, i), ConnectionID: "conn-1"})
			}
		}(g)
	}
	wg.Wait()

	entries := s.QueryLog(0)
	require.Len(t, entries, 500)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].RecordedAt.After(entries[i].RecordedAt),
			"entry %d not newer than entry %d", i-1, i)
	}
	assert.Equal(t, int64(500), s.PerformanceStats().TotalQueries)
}

func TestStore_TruncatesQueryText(t *testing.T) {
	s := NewStore(Options{QueryTextLimit: 10})
	e := s.Record(QueryLogEntry{Query: "SELECT * FROM customers WHERE id = 1"})

	assert.True(t, strings.HasPrefix(e.Query, "SELECT * F"))
	assert.True(t, strings.HasSuffix(e.Query, "...[truncated]"))

	short := s.Record(QueryLogEntry{Query: "SELECT 1"})
	assert.Equal(t, "SELECT 1", short.Query)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "é...[truncated]", truncate("ééé", 3))
	assert.Equal(t, "abc", truncate("abc", 3))
}

func TestStore_PerformanceStats(t *testing.T) {
	s := NewStore(Options{})

	s.Record(QueryLogEntry{ConnectionID: "a", Executed: true, Success: true, CacheLookup: true, Duration: 20 * time.Millisecond})
	s.Record(QueryLogEntry{ConnectionID: "a", Success: true, CacheLookup: true, CacheHit: true, Duration: 0})
	s.Record(QueryLogEntry{ConnectionID: "a", Executed: true, ErrorKind: KindExecutionTimeout, CacheLookup: true, Duration: 30 * time.Millisecond})
	s.Record(QueryLogEntry{ConnectionID: "b", ErrorKind: KindValidationRejected})
	s.Record(QueryLogEntry{ConnectionID: "b", Executed: true, Success: true, Duration: 10 * time.Millisecond})

	st := s.PerformanceStats()
	assert.Equal(t, int64(5), st.TotalQueries)
	assert.Equal(t, int64(3), st.Executed)
	assert.Equal(t, int64(3), st.Successes)
	assert.Equal(t, int64(2), st.Failures)
	assert.Equal(t, int64(1), st.Rejections)
	assert.Equal(t, int64(1), st.Timeouts)
	assert.Equal(t, int64(1), st.CacheHits)
	assert.Equal(t, int64(2), st.CacheMisses)
	assert.InDelta(t, 1.0/3.0, st.CacheHitRate, 1e-9)
	assert.Equal(t, 60*time.Millisecond, st.TotalDuration)
	assert.InDelta(t, 12.0, st.AvgDurationMs, 1e-9)
	assert.Equal(t, int64(1), st.ByKind[KindExecutionTimeout])
	assert.Equal(t, int64(1), st.ByKind[KindValidationRejected])

	a := st.ByConnection["a"]
	assert.Equal(t, int64(3), a.Queries)
	assert.Equal(t, int64(1), a.Failures)
	assert.Equal(t, int64(1), a.CacheHits)
	assert.InDelta(t, 50.0/3.0, a.AvgDurationMs, 1e-9)

	// snapshots are copies
	st.ByConnection["a"] = ConnectionStats{}
	assert.Equal(t, int64(3), s.PerformanceStats().ByConnection["a"].Queries)
}

func TestStore_EmptyStats(t *testing.T) {
	st := NewStore(Options{}).PerformanceStats()
	assert.Zero(t, st.TotalQueries)
	assert.Zero(t, st.AvgDurationMs)
	assert.Zero(t, st.CacheHitRate)
	assert.NotNil(t, st.ByConnection)
}

func TestStore_CacheDelegation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Options{})

	key, err := CacheKey("conn-1", "SELECT 1", nil)
	require.NoError(t, err)

	_, ok := s.CacheGet(ctx, key)
	assert.False(t, ok)

	s.CachePut(ctx, key, &CachedResult{Columns: []string{"one"}, Rows: [][]interface{}{{1}}})
	got, ok := s.CacheGet(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []string{"one"}, got.Columns)
	assert.False(t, got.InsertedAt.IsZero())

	s.CacheInvalidate(ctx, key)
	_, ok = s.CacheGet(ctx, key)
	assert.False(t, ok)

	s.CachePut(ctx, key, &CachedResult{})
	assert.Equal(t, 1, s.CacheInvalidateConnection(ctx, "conn-1"))
	assert.Equal(t, 0, s.Cache().Len())
}

func TestErrorKindValid(t *testing.T) {
	for _, k := range []ErrorKind{KindNone, KindValidationRejected, KindConnectionUnavailable, KindExecutionTimeout, KindDriverError, KindInvalidRequest} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, ErrorKind("boom").Valid())
}
