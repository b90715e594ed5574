// Package resources implements the `@name(args)` / `@name` alias syntax
// used to reference canvas/workspace resources inline in a user message,
// plus async, token-budget-bounded resolution of those aliases into
// context the loop injects before the next provider call.
//
// Grounded on the teacher's internal/agent/messages.go resource-reference
// expansion (the `@element123` shorthand resolved against the canvas
// adapter) generalized into a named, argument-bearing alias syntax.
package resources

import (
	"regexp"
	"strings"
)

// aliasPattern matches `@name` or `@name(args)`, where name is a run of
// word characters and args is anything up to the matching close-paren. The
// negative lookbehind on [A-Za-z0-9_] isn't expressible in Go's RE2, so
// Parse rechecks the character immediately preceding each regex match and
// discards matches preceded by an identifier character (e.g. rejects the
// "name" inside "user@name" or "foo@bar" embedded in a larger token).
var aliasPattern = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)(\(([^)]*)\))?`)

// identChar reports whether r is a character that would make a preceding
// '@' part of a larger identifier rather than the start of an alias.
func identChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

// Match is one parsed `@name(args)` occurrence in a string.
type Match struct {
	Raw      string // full matched text, e.g. "@foo(1,2)"
	Name     string
	Args     []string
	RawArgs  string
	Start    int
	End      int
	Valid    bool
	Error    string
}

// Parse scans text for alias occurrences, skipping any `@` that is
// immediately preceded by an identifier character.
func Parse(text string) []Match {
	var out []Match
	for _, idx := range aliasPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := idx[0], idx[1]
		if start > 0 && identChar(text[start-1]) {
			continue
		}
		name := text[idx[2]:idx[3]]
		rawArgs := ""
		if idx[6] >= 0 {
			rawArgs = text[idx[6]:idx[7]]
		}
		m := Match{
			Raw:     text[start:end],
			Name:    name,
			RawArgs: rawArgs,
			Start:   start,
			End:     end,
			Valid:   true,
		}
		if rawArgs != "" {
			m.Args = splitArgs(rawArgs)
		}
		out = append(out, m)
	}
	return out
}

// splitArgs splits a raw argument string on top-level commas, trimming
// surrounding whitespace and matching quote pairs so commas inside quoted
// strings are not treated as separators.
func splitArgs(raw string) []string {
	var args []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
			cur.WriteByte(c)
		case c == ',':
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 || len(args) > 0 {
		args = append(args, strings.TrimSpace(cur.String()))
	}
	return args
}
