// Package classify decides whether a raw SQL string is permitted to run.
//
// Classification is deliberately regex-based: whole-word write keyword
// detection plus a leading-clause check. It is a heuristic gate in front of
// the database-level read-only transaction, not a SQL parser, and the
// whole-word contract (a column named is_deleted must not trip the gate) is
// load-bearing.
package classify

import (
	"fmt"
	"regexp"
)

// RejectKind distinguishes the two rejection reasons.
type RejectKind int

const (
	// RejectWrite means a write-intent keyword was found.
	RejectWrite RejectKind = iota
	// RejectForm means the query is neither a recognized read form nor a
	// system-catalog query.
	RejectForm
)

// Rejection is returned when a query is not permitted to run.
type Rejection struct {
	Kind   RejectKind
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

var (
	// Write-intent keywords as whole words, case-insensitive. \b keeps
	// identifiers like is_deleted or created_at from matching: regexp's \b
	// treats underscore as a word character.
	writeKeywordRe = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|create|alter|truncate)\b`)

	// System-catalog references are read-only by construction and accepted
	// unconditionally.
	catalogRe = regexp.MustCompile(`(?i)\b(information_schema\s*\.|pg_catalog\s*\.|pg_class\b|pg_namespace\b|pg_attribute\b|pg_index\b|pg_constraint\b)`)

	selectRe = regexp.MustCompile(`(?i)^\s*select\b`)
	withRe   = regexp.MustCompile(`(?i)^\s*with\b`)

	// For a WITH query, the body must resolve to a SELECT somewhere after
	// the CTE list. Write bodies are already caught by writeKeywordRe.
	withSelectRe = regexp.MustCompile(`(?i)\bselect\b`)
)

// Check classifies sql. It returns nil when the query is permitted and a
// *Rejection otherwise.
func Check(sql string) error {
	if match := writeKeywordRe.FindString(sql); match != "" {
		return &Rejection{
			Kind:   RejectWrite,
			Reason: fmt.Sprintf("write operation detected (%s): only read operations are allowed", match),
		}
	}

	if catalogRe.MatchString(sql) {
		return nil
	}

	if selectRe.MatchString(sql) {
		return nil
	}
	if withRe.MatchString(sql) && withSelectRe.MatchString(sql) {
		return nil
	}

	return &Rejection{
		Kind:   RejectForm,
		Reason: "not a recognized read form: query must be a SELECT, a WITH...SELECT, or a system-catalog query",
	}
}
