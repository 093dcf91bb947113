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
Package gateway runs agent-supplied SQL against stored connection profiles.

# Execution

Every Execute call walks the same path:

 1. the request is checked for an owner and a connection id
 2. the safety validator classifies the statement; anything not LOW risk
    is rejected and never reaches a backend
 3. the owner-scoped profile is resolved from the registry
 4. LOW risk reads are looked up in the result cache
 5. a pooled connection is acquired and the statement runs under the
    request timeout, capped at Options.MaxTimeout
 6. the outcome is recorded as exactly one query log entry

Failures come back inside the Envelope with an ErrorKind. Execute only
returns an error, wrapping ErrInvalidRequest, when the request could not
be served at all: a malformed request, an unknown profile or a closed
gateway.

	env, err := gw.Execute(ctx, gateway.Request{
	    OwnerID:      "owner-1",
	    ConnectionID: profileID,
	    SQL:          "SELECT * FROM customers LIMIT 10",
	})

# Invalidation

Register OnProfileChange with the registry so updated or deleted profiles
lose their cached results and their pool:

	reg.OnChange(gw.OnProfileChange)

# Service

App wires the registry, pools, validator, observability store, usage
accountant and the ops HTTP surface (/health, /metrics, /api/v1/stats,
/api/v1/query-log) from a config.Config. Run serves it until the context
is cancelled.
*/
package gateway
