// Package sanitize applies regex-based redaction to result field values
// before they leave the engine.
package sanitize

import (
	"fmt"
	"regexp"
	"sort"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer rewrites string field values in result rows. Recurses into
// JSONB objects and arrays. Non-string values pass through untouched.
type Sanitizer struct {
	rules []rule
}

// New compiles a pattern -> replacement map into a Sanitizer. Patterns are
// applied in sorted pattern order so behavior is deterministic. Returns an
// error on an invalid regex.
func New(rules map[string]string) (*Sanitizer, error) {
	patterns := make([]string, 0, len(rules))
	for p := range rules {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	compiled := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", p, err)
		}
		compiled = append(compiled, rule{pattern: re, replacement: rules[p]})
	}
	return &Sanitizer{rules: compiled}, nil
}

// Active reports whether any rules are configured.
func (s *Sanitizer) Active() bool {
	return len(s.rules) > 0
}

// Rows applies all rules to every field value of every row, in place.
func (s *Sanitizer) Rows(rows []map[string]any) []map[string]any {
	if !s.Active() {
		return rows
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = s.value(v)
		}
	}
	return rows
}

func (s *Sanitizer) value(v any) any {
	switch val := v.(type) {
	case string:
		out := val
		for _, r := range s.rules {
			out = r.pattern.ReplaceAllString(out, r.replacement)
		}
		return out
	case map[string]any:
		for k, item := range val {
			val[k] = s.value(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = s.value(item)
		}
		return val
	default:
		return v
	}
}
