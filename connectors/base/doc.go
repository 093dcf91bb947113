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
Package base defines the types shared by every backend connector.

# Profiles

A Profile describes one user-supplied database: the backend type, where it
lives, who owns it and the encrypted password. Profiles are validated
before any connection attempt; a malformed profile yields an error wrapping
ErrInvalidProfile (or ErrUnsupportedBackend) and nothing is dialed.

# Params

Params is the tagged variant over the supported engines. The sqlite,
postgres, mysql and mssql packages each implement it and own the DSN
grammar and database/sql driver of their engine:

	params, err := postgres.NewParams(profile, secret)
	dsn, err := params.DSN()          // contains the secret, never log
	log.Info("", "", params.Redacted(), nil)

# Errors

ConnectorError wraps backend failures with the connection id and the
operation that failed. Messages must be free of credentials when built.
*/
package base
