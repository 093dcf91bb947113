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

/*
Package observability records what the gateway did and caches what it
read.

A Store holds three independent structures, each behind its own lock:

  - a fixed-capacity ring buffer of QueryLogEntry values; the oldest entry
    is overwritten first and QueryLog returns the newest first
  - running PerformanceCounters with derived averages and the cache hit rate
  - a ResultCache: strict LRU by entry count with a TTL, optionally backed
    by a shared Redis tier (RedisResultCache)

Every gateway call records exactly one entry. RecordedAt is stamped under
the store lock and never goes backwards.

Cache keys come from CacheKey: the connection id, a colon and a hash of
the normalized statement and its parameters. A connection's entries can be
dropped together with CacheInvalidateConnection.
*/
package observability
