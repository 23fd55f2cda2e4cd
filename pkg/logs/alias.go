package logs

import (
	"strings"
	"sync"
)

// DefaultSource is the logical source used for producers with no channel name.
const DefaultSource = "app"

// Resolver maps producer channel names to logical source names using the
// longest matching prefix rule. It is safe for concurrent use.
type Resolver struct {
	mu    sync.RWMutex
	rules map[string]string
}

// NewResolver creates a resolver seeded with the given prefix → alias rules.
func NewResolver(rules map[string]string) *Resolver {
	r := &Resolver{rules: make(map[string]string, len(rules))}
	for prefix, alias := range rules {
		r.rules[prefix] = alias
	}
	return r
}

// Set defines or overrides the alias for a prefix. Two distinct prefixes of
// equal length can never both match one name, so the longest match is always
// unique and a later Set for the same prefix replaces the earlier rule.
func (r *Resolver) Set(prefix, alias string) {
	r.mu.Lock()
	r.rules[prefix] = alias
	r.mu.Unlock()
}

// Remove deletes the rule for prefix, if any.
func (r *Resolver) Remove(prefix string) {
	r.mu.Lock()
	delete(r.rules, prefix)
	r.mu.Unlock()
}

// Rules returns a copy of the current rule table.
func (r *Resolver) Rules() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.rules))
	for k, v := range r.rules {
		out[k] = v
	}
	return out
}

// Resolve returns the logical source for a channel. It never fails: without a
// matching rule the first dot-separated segment of the channel is used, and an
// empty channel maps to DefaultSource.
func (r *Resolver) Resolve(channel string) string {
	r.mu.RLock()
	best, bestLen := "", -1
	for prefix, alias := range r.rules {
		if len(prefix) > bestLen && strings.HasPrefix(channel, prefix) {
			best, bestLen = alias, len(prefix)
		}
	}
	r.mu.RUnlock()

	if bestLen >= 0 && best != "" {
		return best
	}
	if channel == "" {
		return DefaultSource
	}
	if i := strings.IndexByte(channel, '.'); i > 0 {
		return channel[:i]
	}
	return channel
}
