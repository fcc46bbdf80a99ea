// Package rewrite transforms a permitted query into a bounded form with a
// server-enforced row cap.
package rewrite

import (
	"fmt"
	"strings"
)

// CapParam is the reserved named parameter carrying the row cap. Callers
// must not use this name for their own parameters.
const CapParam = "guard_row_cap"

// Bound strips exactly one trailing statement terminator from sql, wraps it
// as an inner subquery, and appends a LIMIT bound to the reserved CapParam
// named parameter. The cap is enforced by the server, not just by
// client-side truncation.
//
// Known limitation: this is textual wrapping. It does not defend against
// semicolon-separated multi-statements or terminators hidden behind trailing
// comments; those reach the database and fail there, inside a read-only
// transaction.
func Bound(sql string, params map[string]any) (string, error) {
	if _, ok := params[CapParam]; ok {
		return "", fmt.Errorf("parameter name %q is reserved for the row cap and cannot be supplied by the caller", CapParam)
	}

	inner := strings.TrimSpace(sql)
	inner = strings.TrimSuffix(inner, ";")

	return fmt.Sprintf("SELECT * FROM (%s) AS bounded_result LIMIT @%s", inner, CapParam), nil
}
