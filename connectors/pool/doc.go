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
Package pool owns the pooled database engines behind connection profiles.

A Manager keeps at most one *sql.DB per connection id. The pool is built
lazily by Acquire, keyed by a fingerprint of the profile's identity fields
and a digest of its decrypted password, so a credential rotation or a
moved target is noticed on the next Acquire and the old pool is retired.

	h, err := mgr.Acquire(ctx, profile)
	if err != nil {
	    return err
	}
	defer h.Release()
	rows, err := h.DB().QueryContext(ctx, sql)

Creation is single-flighted: any number of concurrent callers for the same
fingerprint share one open and one connectivity check. Failed creations
are reported to every waiter and are not cached.

A retired Handle refuses new references. It is closed, and its copy of the
secret zeroed, only after the last in-flight reference is released. Evict,
the idle sweeper and Shutdown all go through that path.
*/
package pool
