package sandbox

import (
	"io"
	"math"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// maxRange caps the length of lists built by range().
const maxRange = 10000

// DefaultElementLimit bounds how many list and map elements the built-in
// functions may create during one evaluation.
const DefaultElementLimit = 1_000_000

// elementBudget counts the elements created by built-in functions. The cost
// limit charges them a constant per call regardless of output size.
type elementBudget struct {
	left int64
}

func newElementBudget(limit int64) *elementBudget {
	return &elementBudget{left: limit}
}

// take reserves n elements for fn, returning an error value once the
// evaluation would exceed its limit.
func (b *elementBudget) take(fn string, n int) ref.Val {
	if int64(n) > b.left {
		b.left = 0
		return types.NewErr("%s(): evaluation exceeds the limit of created elements", fn)
	}
	b.left -= int64(n)
	return nil
}

var adapter = types.DefaultTypeAdapter

// Format renders a value for display. Strings are shown without quotes,
// everything else in CEL literal form.
func Format(v ref.Val) string {
	if s, ok := v.(types.String); ok {
		return string(s)
	}
	return types.Format(v)
}

// Repr renders a value in CEL literal form, quoting strings.
func Repr(v ref.Val) string {
	return types.Format(v)
}

// builtins declares the functions scripts may call. print writes to out;
// functions building lists or maps draw from b.
func builtins(out io.Writer, b *elementBudget) []cel.EnvOption {
	dyn := cel.DynType
	list := cel.ListType(cel.DynType)
	return []cel.EnvOption{
		cel.Function("len",
			cel.Overload("len_dyn", []*cel.Type{dyn}, cel.IntType, cel.UnaryBinding(length))),
		cel.Function("str",
			cel.Overload("str_dyn", []*cel.Type{dyn}, cel.StringType, cel.UnaryBinding(func(v ref.Val) ref.Val {
				return types.String(Format(v))
			}))),
		cel.Function("repr",
			cel.Overload("repr_dyn", []*cel.Type{dyn}, cel.StringType, cel.UnaryBinding(func(v ref.Val) ref.Val {
				return types.String(Repr(v))
			}))),
		cel.Function("float",
			cel.Overload("float_dyn", []*cel.Type{dyn}, cel.DoubleType, cel.UnaryBinding(func(v ref.Val) ref.Val {
				return v.ConvertToType(types.DoubleType)
			}))),
		cel.Function("abs",
			cel.Overload("abs_dyn", []*cel.Type{dyn}, dyn, cel.UnaryBinding(absolute))),
		cel.Function("round",
			cel.Overload("round_dyn", []*cel.Type{dyn}, cel.IntType, cel.UnaryBinding(roundInt)),
			cel.Overload("round_dyn_int", []*cel.Type{dyn, cel.IntType}, cel.DoubleType, cel.BinaryBinding(roundPlaces))),
		cel.Function("min",
			cel.Overload("min_list", []*cel.Type{list}, dyn, cel.UnaryBinding(func(v ref.Val) ref.Val { return extreme(v, -1) })),
			cel.Overload("min_dyn_dyn", []*cel.Type{dyn, dyn}, dyn, cel.BinaryBinding(func(a, b ref.Val) ref.Val {
				return extreme(types.NewRefValList(adapter, []ref.Val{a, b}), -1)
			}))),
		cel.Function("max",
			cel.Overload("max_list", []*cel.Type{list}, dyn, cel.UnaryBinding(func(v ref.Val) ref.Val { return extreme(v, 1) })),
			cel.Overload("max_dyn_dyn", []*cel.Type{dyn, dyn}, dyn, cel.BinaryBinding(func(a, b ref.Val) ref.Val {
				return extreme(types.NewRefValList(adapter, []ref.Val{a, b}), 1)
			}))),
		cel.Function("sum",
			cel.Overload("sum_list", []*cel.Type{list}, dyn, cel.UnaryBinding(sum))),
		cel.Function("sorted",
			cel.Overload("sorted_list", []*cel.Type{list}, list, cel.UnaryBinding(b.sorted))),
		cel.Function("enumerate",
			cel.Overload("enumerate_list", []*cel.Type{list}, list, cel.UnaryBinding(b.enumerate))),
		cel.Function("zip",
			cel.Overload("zip_list_list", []*cel.Type{list, list}, list, cel.BinaryBinding(b.zip))),
		cel.Function("range",
			cel.Overload("range_int", []*cel.Type{cel.IntType}, cel.ListType(cel.IntType),
				cel.UnaryBinding(func(stop ref.Val) ref.Val { return b.intRange(types.Int(0), stop, types.Int(1)) })),
			cel.Overload("range_int_int", []*cel.Type{cel.IntType, cel.IntType}, cel.ListType(cel.IntType),
				cel.BinaryBinding(func(start, stop ref.Val) ref.Val { return b.intRange(start, stop, types.Int(1)) })),
			cel.Overload("range_int_int_int", []*cel.Type{cel.IntType, cel.IntType, cel.IntType}, cel.ListType(cel.IntType),
				cel.FunctionBinding(func(args ...ref.Val) ref.Val { return b.intRange(args[0], args[1], args[2]) }))),
		cel.Function("keys",
			cel.Overload("keys_map", []*cel.Type{cel.MapType(dyn, dyn)}, list, cel.UnaryBinding(b.keys))),
		cel.Function("dict",
			cel.Overload("dict_list", []*cel.Type{list}, cel.MapType(dyn, dyn), cel.UnaryBinding(b.dict))),
		cel.Function("any",
			cel.Overload("any_list", []*cel.Type{list}, cel.BoolType, cel.UnaryBinding(func(v ref.Val) ref.Val { return anyAll(v, true) }))),
		cel.Function("all",
			cel.Overload("all_list", []*cel.Type{list}, cel.BoolType, cel.UnaryBinding(func(v ref.Val) ref.Val { return anyAll(v, false) }))),
		cel.Function("print",
			cel.Overload("print_1", []*cel.Type{dyn}, cel.NullType, cel.FunctionBinding(printer(out))),
			cel.Overload("print_2", []*cel.Type{dyn, dyn}, cel.NullType, cel.FunctionBinding(printer(out))),
			cel.Overload("print_3", []*cel.Type{dyn, dyn, dyn}, cel.NullType, cel.FunctionBinding(printer(out)))),
	}
}

func printer(out io.Writer) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = Format(a)
		}
		if _, err := io.WriteString(out, strings.Join(parts, " ")+"\n"); err != nil {
			return types.WrapErr(err)
		}
		return types.NullValue
	}
}

func length(v ref.Val) ref.Val {
	s, ok := v.(traits.Sizer)
	if !ok {
		return types.NewErr("len() unsupported for %s", v.Type().TypeName())
	}
	return s.Size()
}

func absolute(v ref.Val) ref.Val {
	switch n := v.(type) {
	case types.Int:
		if n == math.MinInt64 {
			return types.NewErr("abs() overflow")
		}
		if n < 0 {
			return -n
		}
		return n
	case types.Double:
		return types.Double(math.Abs(float64(n)))
	case types.Uint:
		return n
	}
	return types.NewErr("abs() unsupported for %s", v.Type().TypeName())
}

func roundInt(v ref.Val) ref.Val {
	switch n := v.(type) {
	case types.Int, types.Uint:
		return n.ConvertToType(types.IntType)
	case types.Double:
		return types.Double(math.RoundToEven(float64(n))).ConvertToType(types.IntType)
	}
	return types.NewErr("round() unsupported for %s", v.Type().TypeName())
}

func roundPlaces(v, places ref.Val) ref.Val {
	f, ok := v.ConvertToType(types.DoubleType).(types.Double)
	if !ok {
		return types.NewErr("round() unsupported for %s", v.Type().TypeName())
	}
	factor := math.Pow(10, float64(places.(types.Int)))
	return types.Double(math.RoundToEven(float64(f)*factor) / factor)
}

// elements collects the items of a list value.
func elements(v ref.Val) ([]ref.Val, ref.Val) {
	l, ok := v.(traits.Lister)
	if !ok {
		return nil, types.NewErr("expected a list, got %s", v.Type().TypeName())
	}
	var out []ref.Val
	for it := l.Iterator(); it.HasNext() == types.True; {
		out = append(out, it.Next())
	}
	return out, nil
}

func compare(a, b ref.Val) (int, ref.Val) {
	c, ok := a.(traits.Comparer)
	if !ok {
		return 0, types.NewErr("%s values are not ordered", a.Type().TypeName())
	}
	r := c.Compare(b)
	n, ok := r.(types.Int)
	if !ok {
		return 0, types.NewErr("cannot compare %s with %s", a.Type().TypeName(), b.Type().TypeName())
	}
	return int(n), nil
}

// extreme returns the minimum (sign -1) or maximum (sign 1) of a list.
func extreme(v ref.Val, sign int) ref.Val {
	items, errVal := elements(v)
	if errVal != nil {
		return errVal
	}
	if len(items) == 0 {
		return types.NewErr("empty list has no extreme value")
	}
	best := items[0]
	for _, item := range items[1:] {
		c, errVal := compare(item, best)
		if errVal != nil {
			return errVal
		}
		if c == sign {
			best = item
		}
	}
	return best
}

func add(a, b ref.Val) ref.Val {
	_, ad := a.(types.Double)
	_, bd := b.(types.Double)
	if ad != bd {
		a, b = a.ConvertToType(types.DoubleType), b.ConvertToType(types.DoubleType)
	}
	adder, ok := a.(traits.Adder)
	if !ok {
		return types.NewErr("cannot add %s values", a.Type().TypeName())
	}
	return adder.Add(b)
}

func sum(v ref.Val) ref.Val {
	items, errVal := elements(v)
	if errVal != nil {
		return errVal
	}
	var acc ref.Val = types.Int(0)
	for _, item := range items {
		acc = add(acc, item)
		if types.IsError(acc) {
			return acc
		}
	}
	return acc
}

func (b *elementBudget) sorted(v ref.Val) ref.Val {
	items, errVal := elements(v)
	if errVal != nil {
		return errVal
	}
	if errVal := b.take("sorted", len(items)); errVal != nil {
		return errVal
	}
	var failed ref.Val
	sort.SliceStable(items, func(i, j int) bool {
		c, errVal := compare(items[i], items[j])
		if errVal != nil && failed == nil {
			failed = errVal
		}
		return c < 0
	})
	if failed != nil {
		return failed
	}
	return types.NewRefValList(adapter, items)
}

func pair(a, b ref.Val) ref.Val {
	return types.NewRefValList(adapter, []ref.Val{a, b})
}

func (b *elementBudget) enumerate(v ref.Val) ref.Val {
	items, errVal := elements(v)
	if errVal != nil {
		return errVal
	}
	// Each item becomes a two-element pair.
	if errVal := b.take("enumerate", 3*len(items)); errVal != nil {
		return errVal
	}
	out := make([]ref.Val, len(items))
	for i, item := range items {
		out[i] = pair(types.Int(i), item)
	}
	return types.NewRefValList(adapter, out)
}

func (b *elementBudget) zip(x, y ref.Val) ref.Val {
	left, errVal := elements(x)
	if errVal != nil {
		return errVal
	}
	right, errVal := elements(y)
	if errVal != nil {
		return errVal
	}
	n := min(len(left), len(right))
	if errVal := b.take("zip", 3*n); errVal != nil {
		return errVal
	}
	out := make([]ref.Val, n)
	for i := 0; i < n; i++ {
		out[i] = pair(left[i], right[i])
	}
	return types.NewRefValList(adapter, out)
}

func (b *elementBudget) intRange(startVal, stopVal, stepVal ref.Val) ref.Val {
	start, stop, step := int64(startVal.(types.Int)), int64(stopVal.(types.Int)), int64(stepVal.(types.Int))
	if step == 0 {
		return types.NewErr("range() step must not be zero")
	}
	// Lengths are computed in uint64: the span of two int64 values does not
	// fit an int64.
	var span, stride uint64
	switch {
	case step > 0 && stop > start:
		span, stride = uint64(stop)-uint64(start), uint64(step)
	case step < 0 && stop < start:
		span, stride = uint64(start)-uint64(stop), uint64(-step)
	}
	var n uint64
	if stride > 0 {
		n = span / stride
		if span%stride != 0 {
			n++
		}
	}
	if n > maxRange {
		return types.NewErr("range() of %d elements exceeds the limit of %d", n, maxRange)
	}
	if errVal := b.take("range", int(n)); errVal != nil {
		return errVal
	}
	out := make([]ref.Val, n)
	for i := range out {
		out[i] = types.Int(start + int64(i)*step)
	}
	return types.NewRefValList(adapter, out)
}

func (b *elementBudget) keys(v ref.Val) ref.Val {
	m, ok := v.(traits.Mapper)
	if !ok {
		return types.NewErr("keys() expects a map, got %s", v.Type().TypeName())
	}
	if size, ok := m.Size().(types.Int); ok {
		if errVal := b.take("keys", int(size)); errVal != nil {
			return errVal
		}
	}
	var out []ref.Val
	for it := m.Iterator(); it.HasNext() == types.True; {
		out = append(out, it.Next())
	}
	sort.SliceStable(out, func(i, j int) bool { return types.Format(out[i]) < types.Format(out[j]) })
	return types.NewRefValList(adapter, out)
}

func (b *elementBudget) dict(v ref.Val) ref.Val {
	items, errVal := elements(v)
	if errVal != nil {
		return errVal
	}
	if errVal := b.take("dict", len(items)); errVal != nil {
		return errVal
	}
	out := make(map[ref.Val]ref.Val, len(items))
	for _, item := range items {
		kv, errVal := elements(item)
		if errVal != nil || len(kv) != 2 {
			return types.NewErr("dict() expects a list of [key, value] pairs")
		}
		out[kv[0]] = kv[1]
	}
	return types.NewRefValMap(adapter, out)
}

func truthy(v ref.Val) bool {
	switch t := v.(type) {
	case types.Bool:
		return bool(t)
	case types.Int:
		return t != 0
	case types.Uint:
		return t != 0
	case types.Double:
		return t != 0
	case types.Null:
		return false
	case traits.Sizer:
		n, ok := t.Size().(types.Int)
		return ok && n > 0
	}
	return true
}

// anyAll implements any() when want is true and all() when it is false.
func anyAll(v ref.Val, want bool) ref.Val {
	items, errVal := elements(v)
	if errVal != nil {
		return errVal
	}
	for _, item := range items {
		if truthy(item) == want {
			return types.Bool(want)
		}
	}
	return types.Bool(!want)
}
