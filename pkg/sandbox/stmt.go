package sandbox

import (
	"fmt"
	"strings"
)

// statement is one unit of a script: an expression, optionally assigned.
type statement struct {
	line   int
	target string // empty for a bare expression
	expr   string
}

// splitStatements cuts src on newlines and semicolons that appear outside
// string literals and brackets. Blank statements and // comments are dropped.
func splitStatements(src string) ([]statement, error) {
	var (
		out   []statement
		cur   strings.Builder
		quote rune
		esc   bool
		depth int
		line  = 1
		start = 1
	)
	flush := func() {
		text := strings.TrimSpace(cur.String())
		cur.Reset()
		if text != "" && !strings.HasPrefix(text, "//") {
			out = append(out, statement{line: start, expr: text})
		}
	}

	for _, r := range src {
		if r == '\n' {
			line++
		}
		switch {
		case quote != 0:
			cur.WriteRune(r)
			switch {
			case esc:
				esc = false
			case r == '\\':
				esc = true
			case r == quote:
				quote = 0
			case r == '\n':
				return nil, fmt.Errorf("line %d: unterminated string literal", line-1)
			}
			continue
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			if depth > 0 {
				depth--
			}
		case (r == ';' || r == '\n') && depth == 0:
			flush()
			start = line
			continue
		}
		cur.WriteRune(r)
	}
	if quote != 0 {
		return nil, fmt.Errorf("line %d: unterminated string literal", line)
	}
	flush()

	for i := range out {
		out[i].target, out[i].expr = splitAssignment(out[i].expr)
	}
	return out, nil
}

// compoundOps are the operators accepted in "name op= expr".
const compoundOps = "+-*/%"

// splitAssignment recognizes "name = expr" and "name op= expr". Comparisons
// such as "a == b" or "a <= b" are left as expressions.
func splitAssignment(s string) (target, expr string) {
	i := 0
	for i < len(s) && (s[i] == '_' || isAlpha(s[i]) || (i > 0 && isDigit(s[i]))) {
		i++
	}
	if i == 0 {
		return "", s
	}
	name := s[:i]
	rest := strings.TrimLeft(s[i:], " \t")

	if len(rest) >= 2 && strings.IndexByte(compoundOps, rest[0]) >= 0 && rest[1] == '=' {
		rhs := strings.TrimSpace(rest[2:])
		if rhs == "" {
			return "", s
		}
		return name, fmt.Sprintf("%s %c (%s)", name, rest[0], rhs)
	}
	if len(rest) >= 1 && rest[0] == '=' && (len(rest) == 1 || rest[1] != '=') {
		return name, strings.TrimSpace(rest[1:])
	}
	return "", s
}

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
