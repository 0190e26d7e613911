package policy

import "strings"

// Rule maps a path to a policy when any path segment contains one of the
// substrings in Contains.
type Rule struct {
	Contains []string `json:"contains" yaml:"contains"`
	Policy   string   `json:"policy" yaml:"policy"`
}

// DefaultRules are evaluated in order; the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{Contains: []string{"auth", "login", "register", "signup", "password"}, Policy: Auth},
		{Contains: []string{"upload"}, Policy: Upload},
		{Contains: []string{"admin", "critical"}, Policy: Critical},
		{Contains: []string{"public"}, Policy: Public},
	}
}

// Selector picks the policy for a request path.
type Selector struct {
	registry *Registry
	rules    []Rule
	fallback string
}

// NewSelector builds a selector over reg. extra rules are evaluated before
// the built-in ones. Paths matching no rule get the api policy.
func NewSelector(reg *Registry, extra ...Rule) *Selector {
	all := append(append([]Rule(nil), extra...), DefaultRules()...)
	rules := make([]Rule, 0, len(all))
	for _, r := range all {
		norm := Rule{Policy: r.Policy}
		for _, c := range r.Contains {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				norm.Contains = append(norm.Contains, c)
			}
		}
		if len(norm.Contains) > 0 {
			rules = append(rules, norm)
		}
	}
	return &Selector{registry: reg, rules: rules, fallback: API}
}

// Select returns the policy for path. A rule or fallback naming a policy
// the registry does not hold resolves to the most permissive policy.
func (s *Selector) Select(path string) Policy {
	segments := strings.Split(strings.ToLower(path), "/")

	name := s.fallback
	for _, r := range s.rules {
		if matches(segments, r.Contains) {
			name = r.Policy
			break
		}
	}

	if p, ok := s.registry.Lookup(name); ok {
		return p
	}
	return s.registry.MostPermissive()
}

// Rules returns the effective rules in evaluation order.
func (s *Selector) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Registry returns the registry the selector resolves names against.
func (s *Selector) Registry() *Registry {
	return s.registry
}

func matches(segments, needles []string) bool {
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		for _, n := range needles {
			if strings.Contains(seg, n) {
				return true
			}
		}
	}
	return false
}
