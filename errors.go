package dbguard

import (
	"fmt"
	"strings"
	"time"
)

// ConfigurationError indicates the resolved target has no registered
// connection string. The message enumerates the available targets so an
// operator can see what is actually configured.
type ConfigurationError struct {
	Target    string
	Available []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no connection string configured for environment %q: no environments are configured", e.Target)
	}
	return fmt.Sprintf("no connection string configured for environment %q: available environments are %s", e.Target, strings.Join(e.Available, ", "))
}

// ValidationError indicates the request failed a guard rather than the
// database: a write keyword was detected, the query is not a recognized
// read form, a caller parameter collides with the reserved cap parameter,
// the SQL text is too long, or the rendered result exceeds the size limit.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// CancellationError indicates the caller's context was cancelled while
// streaming results. The transaction has been rolled back.
type CancellationError struct {
	Rows int // rows fetched before cancellation was observed
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("query cancelled after %d row(s): transaction rolled back", e.Rows)
}

// TimeoutError indicates the client-side wall-clock deadline fired while
// streaming results. The transaction has been rolled back.
type TimeoutError struct {
	Timeout time.Duration
	Rows    int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query exceeded the %s deadline after %d row(s): transaction rolled back", e.Timeout, e.Rows)
}

// DatabaseError wraps anything the driver or server raised, including a
// database-side statement or lock timeout firing.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}
