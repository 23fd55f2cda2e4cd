package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

var (
	// ErrInvalidName is returned for names that are not identifiers.
	ErrInvalidName = errors.New("invalid variable name")
	// ErrReserved is returned for names that cannot be assigned.
	ErrReserved = errors.New("reserved name")
)

// AppVar is the read-only binding describing the host application.
const AppVar = "app"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved are CEL keywords and literals plus host bindings.
var reserved = map[string]bool{
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"false": true, "for": true, "function": true, "if": true, "import": true,
	"in": true, "let": true, "loop": true, "namespace": true, "null": true,
	"package": true, "return": true, "true": true, "var": true, "void": true,
	"while": true, AppVar: true,
}

// ValidateName reports whether name can be stored in a Context.
func ValidateName(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if reserved[name] {
		return fmt.Errorf("%w: %q", ErrReserved, name)
	}
	return nil
}

// Context is the variable namespace shared by successive evaluations within
// one console. It is safe for concurrent use.
type Context struct {
	mu   sync.RWMutex
	vars map[string]ref.Val
}

// NewContext creates an empty namespace.
func NewContext() *Context {
	return &Context{vars: make(map[string]ref.Val)}
}

// Set stores a Go value under name, e.g. to expose host state to scripts.
func (c *Context) Set(name string, v any) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	val := types.DefaultTypeAdapter.NativeToValue(v)
	if types.IsError(val) {
		return fmt.Errorf("set %s: %v", name, val)
	}
	c.mu.Lock()
	c.vars[name] = val
	c.mu.Unlock()
	return nil
}

// Get returns the value stored under name.
func (c *Context) Get(name string) (ref.Val, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

// Delete removes name.
func (c *Context) Delete(name string) {
	c.mu.Lock()
	delete(c.vars, name)
	c.mu.Unlock()
}

// Keys returns the stored names, sorted.
func (c *Context) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored names.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vars)
}

// Clear drops every variable.
func (c *Context) Clear() {
	c.mu.Lock()
	clear(c.vars)
	c.mu.Unlock()
}

// snapshot copies the namespace for one evaluation.
func (c *Context) snapshot() map[string]ref.Val {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ref.Val, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// merge stores the variables assigned by a successful evaluation.
func (c *Context) merge(assigned map[string]ref.Val) {
	if len(assigned) == 0 {
		return
	}
	c.mu.Lock()
	for k, v := range assigned {
		c.vars[k] = v
	}
	c.mu.Unlock()
}
