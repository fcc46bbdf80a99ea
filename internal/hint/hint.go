// Package hint matches error messages against operator-configured patterns
// and returns guidance text to append to the error envelope.
package hint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type rule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher evaluates error messages against all configured rules.
type Matcher struct {
	rules []rule
}

// New compiles a pattern -> guidance map into a Matcher. Rules are evaluated
// in sorted pattern order. Returns an error on an invalid regex.
func New(rules map[string]string) (*Matcher, error) {
	patterns := make([]string, 0, len(rules))
	for p := range rules {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	compiled := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("hint: invalid regex pattern %q: %v", p, err)
		}
		compiled = append(compiled, rule{pattern: re, message: rules[p]})
	}
	return &Matcher{rules: compiled}, nil
}

// For returns all guidance messages whose patterns match errMsg, joined with
// newlines. Empty string when nothing matches.
func (m *Matcher) For(errMsg string) string {
	var matches []string
	for _, r := range m.rules {
		if r.pattern.MatchString(errMsg) {
			matches = append(matches, r.message)
		}
	}
	return strings.Join(matches, "\n")
}
