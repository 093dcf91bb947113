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
	"time"
)

// PerformanceStats is a snapshot of the running counters
type PerformanceStats struct {
	TotalQueries  int64                      `json:"total_queries"`
	Executed      int64                      `json:"executed"`
	Successes     int64                      `json:"successes"`
	Failures      int64                      `json:"failures"`
	Rejections    int64                      `json:"rejections"`
	Timeouts      int64                      `json:"timeouts"`
	CacheHits     int64                      `json:"cache_hits"`
	CacheMisses   int64                      `json:"cache_misses"`
	TotalDuration time.Duration              `json:"total_duration_ns"`
	AvgDurationMs float64                    `json:"avg_duration_ms"`
	CacheHitRate  float64                    `json:"cache_hit_rate"`
	LastQueryAt   time.Time                  `json:"last_query_at,omitempty"`
	ByKind        map[ErrorKind]int64        `json:"by_error_kind"`
	ByConnection  map[string]ConnectionStats `json:"by_connection"`
}

// ConnectionStats is the per-connection slice of the counters
type ConnectionStats struct {
	Queries       int64         `json:"queries"`
	Failures      int64         `json:"failures"`
	CacheHits     int64         `json:"cache_hits"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	AvgDurationMs float64       `json:"avg_duration_ms"`
}

type counters struct {
	total, executed, successes, failures int64
	rejections, timeouts                 int64
	cacheHits, cacheMisses               int64
	totalDuration                        time.Duration
	lastQueryAt                          time.Time
	byKind                               map[ErrorKind]int64
	byConn                               map[string]*ConnectionStats
}

func newCounters() counters {
	return counters{
		byKind: make(map[ErrorKind]int64),
		byConn: make(map[string]*ConnectionStats),
	}
}

// add folds one entry into the counters. Only entries whose cache was
// consulted count as a hit or a miss.
func (c *counters) add(e *QueryLogEntry) {
	c.total++
	c.totalDuration += e.Duration
	c.lastQueryAt = e.RecordedAt

	if e.Executed {
		c.executed++
	}
	if e.Success {
		c.successes++
	} else {
		c.failures++
		c.byKind[e.ErrorKind]++
	}
	switch e.ErrorKind {
	case KindValidationRejected:
		c.rejections++
	case KindExecutionTimeout:
		c.timeouts++
	}
	if e.CacheHit {
		c.cacheHits++
	} else if e.CacheLookup {
		c.cacheMisses++
	}

	cs, ok := c.byConn[e.ConnectionID]
	if !ok {
		cs = &ConnectionStats{}
		c.byConn[e.ConnectionID] = cs
	}
	cs.Queries++
	cs.TotalDuration += e.Duration
	if !e.Success {
		cs.Failures++
	}
	if e.CacheHit {
		cs.CacheHits++
	}
}

func (c *counters) snapshot() PerformanceStats {
	s := PerformanceStats{
		TotalQueries:  c.total,
		Executed:      c.executed,
		Successes:     c.successes,
		Failures:      c.failures,
		Rejections:    c.rejections,
		Timeouts:      c.timeouts,
		CacheHits:     c.cacheHits,
		CacheMisses:   c.cacheMisses,
		TotalDuration: c.totalDuration,
		LastQueryAt:   c.lastQueryAt,
		ByKind:        make(map[ErrorKind]int64, len(c.byKind)),
		ByConnection:  make(map[string]ConnectionStats, len(c.byConn)),
	}
	if c.total > 0 {
		s.AvgDurationMs = durationMs(c.totalDuration) / float64(c.total)
	}
	if lookups := c.cacheHits + c.cacheMisses; lookups > 0 {
		s.CacheHitRate = float64(c.cacheHits) / float64(lookups)
	}
	for k, v := range c.byKind {
		s.ByKind[k] = v
	}
	for id, cs := range c.byConn {
		cp := *cs
		if cp.Queries > 0 {
			cp.AvgDurationMs = durationMs(cp.TotalDuration) / float64(cp.Queries)
		}
		s.ByConnection[id] = cp
	}
	return s
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
