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
	"strconv"
	"strings"
)

// Normalize returns the matching form of sql: comments removed, whitespace
// collapsed to single spaces, upper case. The text sent to the backend is
// never this form.
//
// With skipLiterals, each single-quoted literal is replaced by a numbered
// placeholder such as 'S0'. Equal literals get equal placeholders, so
// 'a' = 'a' stays recognisable as a tautology. Double-quoted and
// backquoted identifiers are copied through untouched; a comment marker
// inside them is not a comment.
//
// MySQL executable comments (/*! ... */) keep their body because the
// server runs it. Backslash escapes are not honoured inside literals: on
// MySQL that can end a literal early, which only ever exposes more text to
// the rules.
func Normalize(sql string, skipLiterals bool) string {
	var b strings.Builder
	b.Grow(len(sql))

	literals := make(map[string]int)
	inExecComment := false

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '-' && peek(sql, i+1) == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end
			}
			b.WriteByte(' ')

		case c == '/' && peek(sql, i+1) == '*':
			if peek(sql, i+2) == '!' {
				j := i + 3
				for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
					j++
				}
				inExecComment = true
				i = j
				b.WriteByte(' ')
				continue
			}
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 4
			}
			b.WriteByte(' ')

		case c == '*' && peek(sql, i+1) == '/' && inExecComment:
			inExecComment = false
			i += 2
			b.WriteByte(' ')

		case c == '\'':
			end, ok := closingQuote(sql, i, '\'')
			if !ok {
				// unterminated: leave the tail visible to the rules
				b.WriteString(sql[i:])
				i = len(sql)
				continue
			}
			if skipLiterals {
				body := sql[i+1 : end]
				n, seen := literals[body]
				if !seen {
					n = len(literals)
					literals[body] = n
				}
				b.WriteString("'S")
				b.WriteString(strconv.Itoa(n))
				b.WriteByte('\'')
			} else {
				b.WriteString(sql[i : end+1])
			}
			i = end + 1

		case c == '"' || c == '`':
			end, ok := closingQuote(sql, i, c)
			if !ok {
				b.WriteString(sql[i:])
				i = len(sql)
				continue
			}
			b.WriteString(sql[i : end+1])
			i = end + 1

		default:
			b.WriteByte(c)
			i++
		}
	}

	return strings.ToUpper(strings.Join(strings.Fields(b.String()), " "))
}

func peek(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// closingQuote finds the quote that ends the span opened at s[start].
// A doubled quote is an escaped quote.
func closingQuote(s string, start int, q byte) (int, bool) {
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if peek(s, i+1) == q {
			i++
			continue
		}
		return i, true
	}
	return 0, false
}

// splitStatements splits normalized text on semicolons and drops empty
// pieces, so a trailing semicolon is not a second statement.
func splitStatements(normalized string) []string {
	parts := strings.Split(normalized, ";")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// scopeEnd returns the index where s leaves the parenthesis level it
// starts at, or len(s).
func scopeEnd(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return i
			}
		}
	}
	return len(s)
}

// indexTopLevel finds keyword kw as a whole word outside any parentheses.
func indexTopLevel(s, kw string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}
		if depth != 0 || !strings.HasPrefix(s[i:], kw) {
			continue
		}
		if i > 0 && isWordByte(s[i-1]) {
			continue
		}
		if j := i + len(kw); j < len(s) && isWordByte(s[j]) {
			continue
		}
		return i
	}
	return -1
}

// splitTopLevel splits s on the whole-word keyword kw outside parentheses.
func splitTopLevel(s, kw string) []string {
	var parts []string
	for {
		i := indexTopLevel(s, kw)
		if i < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:i])
		s = s[i+len(kw):]
	}
}
