package logs

import (
	"errors"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/modoterra/devconsole/pkg/core"
)

var errNotBool = errors.New("expression must evaluate to a bool")

// whereFilter is a compiled CEL predicate over log entries. The zero value
// matches everything.
type whereFilter struct {
	prog cel.Program
}

func compileWhere(expr string) (whereFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return whereFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("level", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("raw", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return whereFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return whereFilter{}, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return whereFilter{}, errNotBool
	}
	prog, err := env.Program(ast)
	if err != nil {
		return whereFilter{}, err
	}
	return whereFilter{prog: prog}, nil
}

// match evaluates the predicate. Evaluation errors count as no match.
func (f whereFilter) match(e core.LogEntry, now time.Time) bool {
	if f.prog == nil {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"level":   string(e.Level),
		"message": e.Message,
		"source":  e.Source,
		"raw":     e.Raw,
		"ts_ms":   e.TsUnixMs(),
		"now_ms":  now.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
