package policy

import (
	"fmt"
	"sort"
)

// Registry is an immutable set of policies keyed by name.
// It is safe for concurrent use.
type Registry struct {
	byName map[string]Policy
	names  []string
	widest Policy
}

// NewRegistry validates policies and freezes them. Later entries replace
// earlier ones with the same name, so overrides can be appended to Defaults.
func NewRegistry(policies ...Policy) (*Registry, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: registry needs at least one policy", ErrInvalid)
	}

	r := &Registry{byName: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[p.Name]; !dup {
			r.names = append(r.names, p.Name)
		}
		r.byName[p.Name] = p
	}
	sort.Strings(r.names)

	for i, name := range r.names {
		p := r.byName[name]
		if i == 0 || p.Rate() > r.widest.Rate() {
			r.widest = p
		}
	}
	return r, nil
}

// Lookup returns the policy registered under name.
func (r *Registry) Lookup(name string) (Policy, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// MostPermissive returns the policy admitting the highest request rate.
// Ties go to the alphabetically first name.
func (r *Registry) MostPermissive() Policy {
	return r.widest
}

// All returns every policy sorted by name.
func (r *Registry) All() []Policy {
	out := make([]Policy, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}
