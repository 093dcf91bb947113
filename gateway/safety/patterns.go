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

package safety

import (
	"regexp"
)

// Pattern is one keyword rule. Regexes run against normalized text, which
// is already upper case.
type Pattern struct {
	// Name is a stable identifier reported in Result.Rule.
	Name string

	// Risk is the level reported when the pattern matches.
	Risk RiskLevel

	// Regex is the compiled expression.
	Regex *regexp.Regexp

	// Description is the rejection reason.
	Description string

	// Action is the remediation hint.
	Action string
}

func newPattern(name string, risk RiskLevel, expr, description, action string) *Pattern {
	return &Pattern{
		Name:        name,
		Risk:        risk,
		Regex:       regexp.MustCompile(expr),
		Description: description,
		Action:      action,
	}
}

const (
	actionNoDDL       = "Schema changes are not allowed through the query gateway; use a reviewed migration instead."
	actionAddWhere    = "Add a WHERE clause that restricts the affected rows to the ones you mean."
	actionReadOnly    = "This connection is read-only. Rewrite the request as a SELECT."
	actionWriteReview = "Write statements need explicit approval; run this outside the agent or narrow it to a read."
	actionSimplify    = "Break nested subqueries into CTEs or separate queries and keep joins to the tables you need."
	actionRecursion   = "Bound the recursive member with a WHERE ... NOT condition or a depth counter."
	actionCartesian   = "Relate the tables with WHERE or JOIN ... ON conditions to avoid a cartesian product."
	actionNoAbuse     = "Remove server-side delays, file access and privilege statements from the query."
	actionOneStmt     = "Send one statement per request."
)

// criticalPatterns are destructive structure changes, refused in every mode.
func criticalPatterns() []*Pattern {
	return []*Pattern{
		newPattern("drop_object", RiskCritical,
			`\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`,
			"Statement drops a table, database or schema", actionNoDDL),
		newPattern("truncate_table", RiskCritical,
			`\bTRUNCATE\s*(TABLE\b|[^\s(])`,
			"Statement truncates a table", actionNoDDL),
		newPattern("alter_table", RiskCritical,
			`\bALTER\s+TABLE\b`,
			"Statement alters a table definition", actionNoDDL),
		newPattern("create_table", RiskCritical,
			`\bCREATE\s+(OR\s+REPLACE\s+)?((GLOBAL|LOCAL)\s+)?(TEMP\s+|TEMPORARY\s+|UNLOGGED\s+)?TABLE\b`,
			"Statement creates a table", actionNoDDL),
	}
}

// Full-table write detection. The table reference may carry an alias.
// FROM is optional after DELETE on T-SQL and MySQL, and MySQL multi-table
// deletes name the alias first (DELETE t1 FROM customers t1); in every
// form the WHERE clause follows the match.
var (
	deleteRe    = regexp.MustCompile(`\bDELETE\s+(FROM\s+)?[^\s(;]+`)
	updateSetRe = regexp.MustCompile(`\bUPDATE\s+[^\s(;]+(\s+(AS\s+)?[A-Z_][A-Z0-9_]*)?\s+SET\b`)
)

var (
	fullDelete = &Pattern{
		Name:        "unconditional_delete",
		Risk:        RiskCritical,
		Regex:       deleteRe,
		Description: "DELETE has no WHERE clause or an always-true one and would empty the table",
		Action:      actionAddWhere,
	}
	fullUpdate = &Pattern{
		Name:        "unconditional_update",
		Risk:        RiskCritical,
		Regex:       updateSetRe,
		Description: "UPDATE has no WHERE clause or an always-true one and would rewrite every row",
		Action:      actionAddWhere,
	}
)

// writeVerbRe matches write verbs. A verb directly followed by "(" is a
// function call, e.g. REPLACE(name, 'a', 'b'), and is skipped by the caller.
var writeVerbRe = regexp.MustCompile(`\b(INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|TRUNCATE|REPLACE|MERGE|GRANT|REVOKE)\b`)

var (
	readOnlyViolation = &Pattern{
		Name:        "read_only_violation",
		Risk:        RiskHigh,
		Regex:       writeVerbRe,
		Description: "Statement contains a write operation and the gateway is in read-only mode",
		Action:      actionReadOnly,
	}
	nonReadStatement = &Pattern{
		Name:        "read_only_violation",
		Risk:        RiskHigh,
		Description: "Statement is not a read and the gateway is in read-only mode",
		Action:      actionReadOnly,
	}
)

// readVerbs are the leading keywords of statements that only read
var readVerbs = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
	"PRAGMA":   true,
	"VALUES":   true,
}

// selectIntoRe finds an INTO target inside a read statement. OUTFILE and
// DUMPFILE targets are left to the into_outfile rule.
var selectIntoRe = regexp.MustCompile(`\bINTO\s+([^\s(;,]+)`)

var selectInto = &Pattern{
	Name:        "select_into",
	Risk:        RiskHigh,
	Regex:       selectIntoRe,
	Description: "SELECT ... INTO creates a table from the query result",
	Action:      actionNoDDL,
}

// mediumWritePatterns apply when read-only mode is off.
func mediumWritePatterns() []*Pattern {
	return []*Pattern{
		{
			Name:        "delete_rows",
			Risk:        RiskMedium,
			Regex:       deleteRe,
			Description: "Statement deletes rows",
			Action:      actionWriteReview,
		},
		{
			Name:        "update_rows",
			Risk:        RiskMedium,
			Regex:       updateSetRe,
			Description: "Statement updates rows",
			Action:      actionWriteReview,
		},
		newPattern("insert_rows", RiskMedium, `\b(INSERT|MERGE)\s+(INTO\s+)?[^\s(;]|(^|;\s*)REPLACE\s+(INTO\s+)?[^\s(;]`,
			"Statement inserts rows", actionWriteReview),
		newPattern("create_index", RiskMedium, `\bCREATE\s+(UNIQUE\s+)?INDEX\b`,
			"Statement creates an index", actionWriteReview),
		newPattern("drop_index", RiskMedium, `\bDROP\s+INDEX\b`,
			"Statement drops an index", actionWriteReview),
	}
}

var (
	selectRe        = regexp.MustCompile(`\bSELECT\b`)
	joinRe          = regexp.MustCompile(`\bJOIN\b`)
	fromRe          = regexp.MustCompile(`\bFROM\b`)
	whereRe         = regexp.MustCompile(`\bWHERE\b`)
	recursiveRe     = regexp.MustCompile(`\bWITH\s+RECURSIVE\b`)
	whereNotRe      = regexp.MustCompile(`\bWHERE\b.*\bNOT\b`)
	limitRe         = regexp.MustCompile(`\b(LIMIT|TOP|FETCH\s+(FIRST|NEXT))\b`)
	selectStarRe    = regexp.MustCompile(`\bSELECT\s+(DISTINCT\s+)?(\w+\.)?\*`)
	joinConditionRe = regexp.MustCompile(`\b(ON|USING)\b`)

	nonTableFromRe = regexp.MustCompile(`\b(EXTRACT|SUBSTRING|SUBSTR|TRIM|OVERLAY|POSITION)\s*\([^()]*\)|\bDISTINCT\s+FROM\b`)
)

var (
	tooManySelects = &Pattern{
		Name:        "too_many_selects",
		Risk:        RiskMedium,
		Regex:       selectRe,
		Description: "Statement nests too many SELECTs",
		Action:      actionSimplify,
	}
	tooManyJoins = &Pattern{
		Name:        "too_many_joins",
		Risk:        RiskMedium,
		Regex:       joinRe,
		Description: "Statement joins too many tables",
		Action:      actionSimplify,
	}
	unboundedRecursion = &Pattern{
		Name:        "unbounded_recursion",
		Risk:        RiskHigh,
		Regex:       recursiveRe,
		Description: "Recursive CTE has no WHERE ... NOT termination condition",
		Action:      actionRecursion,
	}
	cartesianProduct = &Pattern{
		Name:        "cartesian_product",
		Risk:        RiskMedium,
		Regex:       fromRe,
		Description: "Statement reads several table sources without any WHERE clause",
		Action:      actionCartesian,
	}
	stackedStatements = &Pattern{
		Name:        "stacked_statements",
		Risk:        RiskHigh,
		Description: "Request carries more than one statement",
		Action:      actionOneStmt,
	}
	emptyStatement = &Pattern{
		Name:        "empty_statement",
		Risk:        RiskMedium,
		Description: "Statement is empty",
		Action:      "Send a non-empty SQL statement.",
	}
	oversizedStatement = &Pattern{
		Name:        "statement_too_long",
		Risk:        RiskMedium,
		Description: "Statement exceeds the maximum accepted length",
		Action:      "Shorten the statement.",
	}
)

// abusePatterns are resource-abuse and escape signatures, HIGH in every mode.
func abusePatterns() []*Pattern {
	return []*Pattern{
		newPattern("sleep_function", RiskHigh, `\bSLEEP\s*\(`,
			"Statement calls SLEEP", actionNoAbuse),
		newPattern("pg_sleep", RiskHigh, `\bPG_SLEEP(_FOR|_UNTIL)?\s*\(`,
			"Statement calls pg_sleep", actionNoAbuse),
		newPattern("benchmark_function", RiskHigh, `\bBENCHMARK\s*\(`,
			"Statement calls BENCHMARK", actionNoAbuse),
		newPattern("waitfor_delay", RiskHigh, `\bWAITFOR\s+(DELAY|TIME)\b`,
			"Statement waits with WAITFOR", actionNoAbuse),
		newPattern("xp_cmdshell", RiskHigh, `\bXP_CMDSHELL\b`,
			"Statement runs an operating system command", actionNoAbuse),
		newPattern("load_file", RiskHigh, `\bLOAD_FILE\s*\(`,
			"Statement reads a server file", actionNoAbuse),
		newPattern("into_outfile", RiskHigh, `\bINTO\s+(OUT|DUMP)FILE\b`,
			"Statement writes a server file", actionNoAbuse),
		newPattern("privilege_change", RiskHigh, `\b(GRANT|REVOKE)\s|\bCREATE\s+(USER|ROLE|LOGIN)\b`,
			"Statement changes users or privileges", actionNoAbuse),
	}
}
