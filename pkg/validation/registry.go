package validation

import (
	"sync"
)

// Registry holds rules in registration order
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
	index map[string]int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rules: make([]Rule, 0),
		index: make(map[string]int),
	}
}

// Register adds a rule. Registering a name twice replaces the earlier rule in place.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[rule.Name()]; ok {
		r.rules[i] = rule
		return
	}
	r.index[rule.Name()] = len(r.rules)
	r.rules = append(r.rules, rule)
}

// Get retrieves a rule by name
func (r *Registry) Get(name string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.rules[i], true
}

// Rules returns all rules in registration order
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules...)
}

// Enabled returns the rules not disabled by config, in registration order
func (r *Registry) Enabled(config *Config) []Rule {
	all := r.Rules()
	if config == nil {
		return all
	}
	out := make([]Rule, 0, len(all))
	for _, rule := range all {
		if !config.IsDisabled(rule.Name()) {
			out = append(out, rule)
		}
	}
	return out
}

// ByCategory returns the rules in a category
func (r *Registry) ByCategory(category Category) []Rule {
	out := make([]Rule, 0)
	for _, rule := range r.Rules() {
		if rule.Category() == category {
			out = append(out, rule)
		}
	}
	return out
}
