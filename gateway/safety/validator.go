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
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Validator classifies SQL by risk before anything reaches a backend. It
// is lexical and approximate: it does not parse SQL. Validate is safe for
// concurrent use.
type Validator struct {
	cfg      Config
	critical []*Pattern
	medium   []*Pattern
	abuse    []*Pattern
}

// New creates a validator. A config that fails Validate is replaced field
// by field with defaults.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxSelects < 1 {
		cfg.MaxSelects = def.MaxSelects
	}
	if cfg.MaxJoins < 0 {
		cfg.MaxJoins = def.MaxJoins
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = def.MaxQueryLength
	}
	return &Validator{
		cfg:      cfg,
		critical: criticalPatterns(),
		medium:   mediumWritePatterns(),
		abuse:    abusePatterns(),
	}
}

// Config returns the effective configuration.
func (v *Validator) Config() Config {
	return v.cfg
}

// ReadOnly reports whether write verbs are refused.
func (v *Validator) ReadOnly() bool {
	return v.cfg.ReadOnly
}

// Validate classifies sql. Tiers run in a fixed order and the first one
// that fails decides the verdict:
//
//  1. CRITICAL: DROP TABLE/DATABASE/SCHEMA, TRUNCATE, ALTER TABLE,
//     CREATE TABLE, DELETE or UPDATE without a real WHERE clause.
//  2. HIGH in read-only mode: any write verb.
//  3. MEDIUM outside read-only mode: row writes and index changes.
//  4. MEDIUM: more than MaxSelects SELECTs or MaxJoins JOINs.
//  5. HIGH: WITH RECURSIVE without WHERE ... NOT.
//     MEDIUM: a statement with several FROMs and no WHERE at all.
//  6. HIGH: delay, file and privilege functions; stacked statements.
//  7. HIGH in read-only mode: a statement that does not lead with a read
//     verb (COPY, CALL, EXEC and the like).
//
// SELECT ... INTO a table is HIGH in every mode and runs right after the
// write tiers. Write verbs used as function calls, e.g. REPLACE(s, 'a',
// 'b') or INSERT(s, 1, 2, 'x'), are not write operations here; a
// read-only statement containing one still passes tier 2.
//
// A statement that passes every tier is safe with LOW risk.
func (v *Validator) Validate(sql string) Result {
	start := time.Now()
	res := v.classify(sql)
	res.Duration = time.Since(start)
	return res
}

func (v *Validator) classify(sql string) Result {
	if len(sql) > v.cfg.MaxQueryLength {
		return reject(oversizedStatement)
	}

	norm := Normalize(sql, v.cfg.SkipStringLiterals)
	stmts := splitStatements(norm)
	if len(stmts) == 0 {
		return reject(emptyStatement)
	}

	for _, p := range v.critical {
		if p.Regex.MatchString(norm) {
			return reject(p)
		}
	}
	for _, stmt := range stmts {
		if unconditionalWrite(stmt, deleteRe) {
			return reject(fullDelete)
		}
		if unconditionalWrite(stmt, updateSetRe) {
			return reject(fullUpdate)
		}
	}

	if v.cfg.ReadOnly {
		if verb := firstWriteVerb(norm); verb != "" {
			res := reject(readOnlyViolation)
			res.Reason = fmt.Sprintf("%s (%s)", res.Reason, verb)
			return res
		}
	} else {
		for _, p := range v.medium {
			if p.Regex.MatchString(norm) {
				return reject(p)
			}
		}
	}
	for _, stmt := range stmts {
		if target := selectIntoTarget(stmt); target != "" {
			res := reject(selectInto)
			res.Reason = fmt.Sprintf("%s (%s)", res.Reason, target)
			return res
		}
	}

	if n := len(selectRe.FindAllStringIndex(norm, -1)); n > v.cfg.MaxSelects {
		res := reject(tooManySelects)
		res.Reason = fmt.Sprintf("%s (%d > %d)", res.Reason, n, v.cfg.MaxSelects)
		return res
	}
	if n := len(joinRe.FindAllStringIndex(norm, -1)); n > v.cfg.MaxJoins {
		res := reject(tooManyJoins)
		res.Reason = fmt.Sprintf("%s (%d > %d)", res.Reason, n, v.cfg.MaxJoins)
		return res
	}

	if recursiveRe.MatchString(norm) && !whereNotRe.MatchString(norm) {
		return reject(unboundedRecursion)
	}
	for _, stmt := range stmts {
		if cartesian(stmt) {
			return reject(cartesianProduct)
		}
	}

	for _, p := range v.abuse {
		if p.Regex.MatchString(norm) {
			return reject(p)
		}
	}
	if len(stmts) > 1 && !v.cfg.AllowMultipleStatements {
		return reject(stackedStatements)
	}

	if v.cfg.ReadOnly {
		for _, stmt := range stmts {
			if verb := leadingVerb(stmt); !readVerbs[verb] {
				if verb == "" {
					verb = "unknown"
				}
				res := reject(nonReadStatement)
				res.Reason = fmt.Sprintf("%s (%s)", res.Reason, verb)
				return res
			}
		}
	}

	return safeResult()
}

// IsReadStatement reports whether sql starts with a read verb (SELECT,
// WITH, SHOW, EXPLAIN, DESCRIBE, DESC, PRAGMA, VALUES) once comments and
// leading parentheses are removed.
func IsReadStatement(sql string) bool {
	return readVerbs[leadingVerb(Normalize(sql, true))]
}

// leadingVerb returns the first keyword of normalized text.
func leadingVerb(norm string) string {
	norm = strings.TrimLeft(norm, " (")
	end := strings.IndexFunc(norm, func(r rune) bool { return !unicode.IsLetter(r) })
	if end >= 0 {
		norm = norm[:end]
	}
	return norm
}

func hasNonRead(stmts []string) bool {
	for _, stmt := range stmts {
		if !readVerbs[leadingVerb(stmt)] {
			return true
		}
	}
	return false
}

// selectIntoTarget returns the INTO target of a read statement, or "".
func selectIntoTarget(stmt string) string {
	if !readVerbs[leadingVerb(stmt)] {
		return ""
	}
	for _, m := range selectIntoRe.FindAllStringSubmatch(stmt, -1) {
		if m[1] != "OUTFILE" && m[1] != "DUMPFILE" {
			return m[1]
		}
	}
	return ""
}

// firstWriteVerb returns the first write verb in norm that is not a
// function call, or "". A verb directly followed by "(" is treated as a
// function such as REPLACE(name, 'a', 'b') and skipped, so read-only mode
// does not reject every text containing REPLACE or INSERT.
func firstWriteVerb(norm string) string {
	for _, loc := range writeVerbRe.FindAllStringIndex(norm, -1) {
		rest := strings.TrimLeft(norm[loc[1]:], " ")
		if strings.HasPrefix(rest, "(") {
			continue
		}
		return norm[loc[0]:loc[1]]
	}
	return ""
}

// cartesian reports a statement with several table sources and no WHERE.
// FROM inside EXTRACT, SUBSTRING and friends is not a table source.
func cartesian(stmt string) bool {
	sources := len(fromRe.FindAllStringIndex(nonTableFromRe.ReplaceAllString(stmt, " "), -1))
	return sources > 1 && !whereRe.MatchString(stmt)
}

// unconditionalWrite reports whether stmt contains a write matched by re
// whose WHERE clause is missing or always true. Only the parenthesis scope
// of the write is inspected, so a WHERE inside a subquery does not count.
func unconditionalWrite(stmt string, re *regexp.Regexp) bool {
	for _, loc := range re.FindAllStringIndex(stmt, -1) {
		rest := stmt[loc[1]:]
		rest = rest[:scopeEnd(rest)]

		w := indexTopLevel(rest, "WHERE")
		if w < 0 {
			return true
		}
		clause := rest[w+len("WHERE"):]
		for _, stop := range []string{"ORDER BY", "LIMIT", "RETURNING", "OUTPUT"} {
			if i := indexTopLevel(clause, stop); i >= 0 {
				clause = clause[:i]
			}
		}
		for _, disjunct := range splitTopLevel(clause, "OR") {
			if isTautology(disjunct) {
				return true
			}
		}
	}
	return false
}

var (
	numericEqRe = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*=\s*(-?\d+(?:\.\d+)?)$`)
	stringEqRe  = regexp.MustCompile(`^'([^']*)'\s*=\s*'([^']*)'$`)
	identEqRe   = regexp.MustCompile(`^([A-Z_][A-Z0-9_.]*)\s*=\s*([A-Z_][A-Z0-9_.]*)$`)
)

// isTautology recognises the always-true conditions an agent typically
// writes: TRUE, 1, 1=1, 'a'='a', col=col. Anything cleverer passes.
func isTautology(cond string) bool {
	cond = trimParens(cond)
	switch cond {
	case "TRUE", "1", "NOT FALSE", "NOT 0":
		return true
	}
	for _, re := range []*regexp.Regexp{numericEqRe, stringEqRe, identEqRe} {
		if m := re.FindStringSubmatch(cond); m != nil && m[1] == m[2] {
			return true
		}
	}
	return false
}

// trimParens strips whitespace and balanced outer parentheses.
func trimParens(s string) string {
	for {
		s = strings.TrimSpace(s)
		if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
			return s
		}
		inner := s[1 : len(s)-1]
		if scopeEnd(inner) != len(inner) {
			// "(a) = (b)": outer parens are not a pair
			return s
		}
		s = inner
	}
}

// SuggestSafeAlternatives returns remediation hints for sql. It never
// changes a verdict and may return hints for a safe statement.
func (v *Validator) SuggestSafeAlternatives(sql string) []string {
	norm := Normalize(sql, v.cfg.SkipStringLiterals)
	hints := []string{}

	isSelect := strings.HasPrefix(norm, "SELECT") || strings.HasPrefix(norm, "WITH")
	if isSelect && !limitRe.MatchString(norm) {
		hints = append(hints, "Add a LIMIT clause to bound the number of rows returned.")
	}
	if selectStarRe.MatchString(norm) {
		hints = append(hints, "Name the columns you need instead of SELECT *.")
	}

	stmts := splitStatements(norm)
	for _, stmt := range stmts {
		if unconditionalWrite(stmt, deleteRe) || unconditionalWrite(stmt, updateSetRe) {
			hints = append(hints, actionAddWhere)
			break
		}
	}

	joins := len(joinRe.FindAllStringIndex(norm, -1))
	if joins > 0 && !joinConditionRe.MatchString(norm) && !strings.Contains(norm, "CROSS JOIN") && !strings.Contains(norm, "NATURAL") {
		hints = append(hints, "Add ON or USING conditions to every JOIN.")
	}
	if joins > v.cfg.MaxJoins {
		hints = append(hints, fmt.Sprintf("Reduce the number of joined tables to at most %d.", v.cfg.MaxJoins+1))
	}
	for _, stmt := range stmts {
		if cartesian(stmt) {
			hints = append(hints, actionCartesian)
			break
		}
	}
	if n := len(selectRe.FindAllStringIndex(norm, -1)); n > v.cfg.MaxSelects {
		hints = append(hints, "Break nested subqueries into CTEs or separate queries.")
	}
	if recursiveRe.MatchString(norm) {
		hints = append(hints, actionRecursion)
	}
	if v.cfg.ReadOnly && (firstWriteVerb(norm) != "" || hasNonRead(stmts)) {
		hints = append(hints, actionReadOnly)
	}
	if len(stmts) > 1 && !v.cfg.AllowMultipleStatements {
		hints = append(hints, actionOneStmt)
	}

	return hints
}
