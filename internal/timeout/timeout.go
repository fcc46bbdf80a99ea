// Package timeout resolves the effective wall-clock deadline for a query.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule maps a SQL regex pattern to a specific timeout.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves per-query timeouts: request override first, then the
// first matching pattern rule, then the process default.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager compiles the given rules. Returns an error on an invalid regex
// pattern.
func NewManager(defaultTimeout time.Duration, rules []Rule) (*Manager, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: defaultTimeout}, nil
}

// Effective returns the timeout for sql and the pattern of the rule that
// decided it ("" when the override or default applied). A positive override
// always wins.
func (m *Manager) Effective(override time.Duration, sql string) (time.Duration, string) {
	if override > 0 {
		return override, ""
	}
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}
