package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// DefaultCostLimit bounds the work of a single statement.
const DefaultCostLimit = 1_000_000

// ResultVar is the variable whose value is echoed after a script's output.
const ResultVar = "result"

// ErrEmpty is returned for blank input.
var ErrEmpty = errors.New("nothing to evaluate")

// Options configures an Evaluator.
type Options struct {
	// CostLimit bounds the runtime cost of each statement; zero means
	// DefaultCostLimit.
	CostLimit uint64
	// ElementLimit bounds the list and map elements built-in functions may
	// create per evaluation; zero means DefaultElementLimit.
	ElementLimit int64
	// App is exposed read-only to scripts as "app".
	App map[string]any
}

// Evaluator runs small CEL scripts against a persistent Context. Scripts are
// either a single expression, whose value is the output, or a sequence of
// statements ("name = expr") separated by semicolons or newlines.
type Evaluator struct {
	vars         *Context
	base         *cel.Env
	costLimit    uint64
	elementLimit int64
	app          ref.Val
}

// New creates an evaluator bound to vars.
func New(vars *Context, opts Options) (*Evaluator, error) {
	if opts.CostLimit == 0 {
		opts.CostLimit = DefaultCostLimit
	}
	if opts.ElementLimit <= 0 {
		opts.ElementLimit = DefaultElementLimit
	}
	if opts.App == nil {
		opts.App = map[string]any{}
	}
	base, err := cel.NewEnv(
		cel.Variable(AppVar, cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
		ext.Math(),
		// lists.range arrives in version 2 and has no length limit.
		ext.Lists(ext.ListsVersion(1)),
		ext.Sets(),
		ext.Encoders(),
		ext.Bindings(),
		ext.TwoVarComprehensions(),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("sandbox env: %w", err)
	}
	return &Evaluator{
		vars:         vars,
		base:         base,
		costLimit:    opts.CostLimit,
		elementLimit: opts.ElementLimit,
		app:          types.DefaultTypeAdapter.NativeToValue(opts.App),
	}, nil
}

// Context returns the namespace the evaluator reads and writes.
func (e *Evaluator) Context() *Context { return e.vars }

// Evaluate runs src and returns its textual output. Variables assigned by a
// script are persisted only if every statement succeeds. ctx cancellation
// interrupts a running evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", ErrEmpty
	}
	stmts, err := splitStatements(src)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	vars := e.vars.snapshot()
	env, err := e.env(&out, vars)
	if err != nil {
		return "", err
	}
	activation := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		activation[k] = v
	}
	activation[AppVar] = e.app

	// Input without separators is evaluated as an expression for its value;
	// it falls back to a statement only when it does not parse as one.
	if len(stmts) == 1 {
		if ast, iss := env.Parse(src); iss == nil || iss.Err() == nil {
			val, err := e.run(ctx, env, ast, activation)
			if err != nil {
				return "", err
			}
			text := out.String()
			if isNull(val) {
				if text == "" {
					return "null", nil
				}
			} else {
				text += Format(val)
			}
			return strings.TrimSuffix(text, "\n"), nil
		}
	}

	assigned := make(map[string]ref.Val)
	for _, st := range stmts {
		if st.target != "" {
			if err := ValidateName(st.target); err != nil {
				return "", fmt.Errorf("line %d: %w", st.line, err)
			}
		}
		ast, iss := env.Parse(st.expr)
		if iss != nil && iss.Err() != nil {
			return "", fmt.Errorf("line %d: %w", st.line, iss.Err())
		}
		val, err := e.run(ctx, env, ast, activation)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", st.line, err)
		}
		if st.target == "" {
			continue
		}
		if _, known := activation[st.target]; !known {
			if env, err = env.Extend(cel.Variable(st.target, cel.DynType)); err != nil {
				return "", err
			}
		}
		activation[st.target] = val
		assigned[st.target] = val
	}
	e.vars.merge(assigned)

	text := out.String()
	if r, ok := assigned[ResultVar]; ok && !isNull(r) {
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += Format(r)
	}
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return "Code executed.", nil
	}
	return text, nil
}

// env extends the base environment with the context variables, a print
// function writing to out and a fresh element budget.
func (e *Evaluator) env(out *strings.Builder, vars map[string]ref.Val) (*cel.Env, error) {
	opts := builtins(out, newElementBudget(e.elementLimit))
	for name := range vars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := e.base.Extend(opts...)
	if err != nil {
		return nil, fmt.Errorf("sandbox env: %w", err)
	}
	return env, nil
}

func (e *Evaluator) run(ctx context.Context, env *cel.Env, ast *cel.Ast, activation map[string]any) (ref.Val, error) {
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := env.Program(checked,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, err
	}
	val, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, err
	}
	return val, nil
}

func isNull(v ref.Val) bool {
	return v.Type() == types.NullType
}
