package terminal

import (
	"fmt"

	"github.com/modoterra/devconsole/pkg/core"
)

// Normalize converts a handler return value into a Result. Strings become
// text, Results pass through, maps with "output" and "type" (or "kind") keys
// are treated as Results and anything else is printed with fmt.
func Normalize(v any) core.Result {
	switch r := v.(type) {
	case nil:
		return core.Result{Kind: core.KindEmpty}
	case core.Result:
		if r.Kind == "" {
			r.Kind = core.KindText
		}
		return r
	case *core.Result:
		if r == nil {
			return core.Result{Kind: core.KindEmpty}
		}
		return Normalize(*r)
	case string:
		return core.Text(r)
	case []byte:
		return core.Text(string(r))
	case error:
		return core.Errorf("%v", r)
	case map[string]any:
		if res, ok := resultFromMap(r); ok {
			return res
		}
	case fmt.Stringer:
		return core.Text(r.String())
	}
	return core.Text(fmt.Sprint(v))
}

func resultFromMap(m map[string]any) (core.Result, bool) {
	out, ok := m["output"]
	if !ok {
		return core.Result{}, false
	}
	kind, ok := m["type"]
	if !ok {
		if kind, ok = m["kind"]; !ok {
			return core.Result{}, false
		}
	}
	res := core.Result{Output: fmt.Sprint(out), Kind: core.Kind(fmt.Sprint(kind))}
	switch res.Kind {
	case core.KindText, core.KindError, core.KindWarning, core.KindClear, core.KindEmpty:
	default:
		res.Kind = core.KindText
	}
	return res, true
}
