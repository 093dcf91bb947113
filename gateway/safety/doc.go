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
Package safety classifies machine-generated SQL by risk before it reaches a
backend.

The classifier is lexical. Statements are normalized (comments removed,
whitespace collapsed, upper case, string literal contents hidden) and then
run through ordered tiers; the first tier that fails decides the verdict:

	CRITICAL  DROP TABLE/DATABASE/SCHEMA, TRUNCATE, ALTER TABLE, CREATE TABLE,
	          DELETE or UPDATE with no WHERE or an always-true WHERE
	HIGH      any write verb while read-only mode is on
	MEDIUM    row writes and index changes while read-only mode is off
	MEDIUM    more than MaxSelects SELECTs or MaxJoins JOINs
	HIGH      WITH RECURSIVE without WHERE ... NOT
	MEDIUM    several FROMs and no WHERE in one statement
	HIGH      SLEEP, PG_SLEEP, BENCHMARK, WAITFOR, xp_cmdshell, file access,
	          privilege changes, stacked statements

The recursive-CTE rule is a weak safety net: a NOT anywhere after a WHERE
satisfies it, whether or not it bounds the recursion.

# Usage

	v := safety.New(safety.ConfigFromEnv())
	res := v.Validate("DELETE FROM customers WHERE 1=1")
	// res.IsSafe == false, res.RiskLevel == safety.RiskCritical

# Environment Variables

  - SQLGATE_READ_ONLY: true, false (default true)
  - SQLGATE_MAX_SELECTS: default 5
  - SQLGATE_MAX_JOINS: default 8
  - SQLGATE_ALLOW_MULTIPLE_STATEMENTS: true, false (default false)
*/
package safety
