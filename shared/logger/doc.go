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
Package logger provides structured JSON logging for the gateway components.

# Overview

Every entry is a single JSON line carrying:
  - Timestamp (RFC3339Nano)
  - Level (DEBUG, INFO, WARN, ERROR)
  - Component name (pool, gateway, registry, usage, ...)
  - Instance ID and container name
  - Owner ID (whose connection profile is involved)
  - Request ID (for correlation with the agent turn)
  - Custom fields

# Usage

	log := logger.New("pool")

	log.Info("owner-123", "req-456", "Pool created", map[string]interface{}{
	    "connection_id": "conn-1",
	    "backend":       "postgres",
	})

	log.ErrorWithKind("owner-123", "req-456", "Pool creation failed",
	    "connection_unavailable", err, nil)

# Secrets

Nothing that may contain a DSN or a driver message should be logged without
passing it through Redact first. ErrorWithKind does this for the error it
is given.

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - SQLGATE_LOG_LEVEL: minimum level written (default INFO)
*/
package logger
