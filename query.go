package dbguard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbguard/dbguard/internal/classify"
	"github.com/dbguard/dbguard/internal/rewrite"
)

// Query runs one guarded invocation: classify, rewrite, route to the
// resolved environment's pool, execute inside a read-only transaction with
// session guards, and stream-fetch under a wall-clock deadline. Cancellation
// of ctx is observed cooperatively at batch boundaries.
//
// Errors are typed: *ConfigurationError, *ValidationError,
// *CancellationError, *TimeoutError, or *DatabaseError.
func (e *Engine) Query(ctx context.Context, input QueryInput) (*QueryResult, error) {
	startTime := time.Now()
	queryID := uuid.NewString()

	// 1. Resolve the target and classify. Rejections never touch the
	// database, and oversized SQL is rejected before any other processing.
	if len(input.SQL) > e.config.Query.MaxSQLLength {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(input.SQL), e.config.Query.MaxSQLLength),
		}
	}
	target, err := e.registry.Resolve(input.Environment)
	if err != nil {
		return nil, configurationError(err)
	}
	if err := classify.Check(input.SQL); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	// 2. Effective row cap and timeout: request override, else rule, else default.
	effCap := input.MaxRows
	if effCap <= 0 {
		effCap = e.config.Query.MaxRows
	}
	var override time.Duration
	if input.TimeoutMS > 0 {
		override = time.Duration(input.TimeoutMS) * time.Millisecond
	}
	effTimeout, timeoutRule := e.timeouts.Effective(override, input.SQL)

	// 3. Rewrite with the cap bound as a reserved named parameter. The cap is
	// enforced server-side; client-side truncation is only the backstop.
	bounded, err := rewrite.Bound(input.SQL, input.Params)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	args := pgx.NamedArgs{rewrite.CapParam: effCap}
	for k, v := range input.Params {
		args[k] = v
	}

	// 4. Acquire a connection. Acquisition blocks up to the configured
	// acquire timeout when the pool is saturated.
	pool, err := e.registry.Pool(ctx, target)
	if err != nil {
		return nil, &DatabaseError{Op: "failed to provision connection pool", Err: err}
	}
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, e.config.Pool.AcquireTimeout())
	conn, err := pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		return nil, &DatabaseError{Op: "failed to acquire connection", Err: err}
	}
	defer conn.Release()

	// 5. Wall-clock deadline for the whole streaming phase.
	deadline := startTime.Add(effTimeout)
	queryCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// 6. Explicitly read-only transaction, plus transaction-local guards.
	// The connection already carries read-only and statement-timeout session
	// settings from AfterConnect; setting them again here means a guard
	// surviving connection reuse cannot be silently bypassed.
	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, &DatabaseError{Op: "failed to begin transaction", Err: err}
	}
	// Rollback must still work when queryCtx or ctx is already cancelled.
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := e.applyGuards(queryCtx, tx); err != nil {
		return nil, err
	}

	// 7. Execute. pgx streams rows from the wire; nothing is materialized
	// before the fetch loop reads it.
	rows, err := tx.Query(queryCtx, bounded, args)
	if err != nil {
		return nil, &DatabaseError{Op: "query failed", Err: err}
	}

	collected, err := e.streamRows(ctx, queryCtx, rows, conn, deadline, effCap, effTimeout)
	if err != nil {
		return nil, err
	}

	// 8. Commit. Cancellation observed after this point has no effect.
	if err := tx.Commit(queryCtx); err != nil {
		return nil, &DatabaseError{Op: "failed to commit transaction", Err: err}
	}

	result := &QueryResult{
		Rows:        e.sanitizer.Rows(collected),
		Count:       len(collected),
		Truncated:   len(collected) == effCap,
		MaxRows:     effCap,
		TimeoutMS:   effTimeout.Milliseconds(),
		Environment: target.Name,
	}
	if err := e.checkResultSize(result); err != nil {
		return nil, err
	}

	logEvent := e.logger.Info().
		Str("query_id", queryID).
		Str("environment", target.Name).
		Str("sql", truncateForLog(input.SQL, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", result.Count).
		Bool("truncated", result.Truncated)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	logEvent.Msg("query executed")

	return result, nil
}

// applyGuards marks the remainder of the transaction with statement, lock,
// and idle-in-transaction time limits. These are independent of whatever was
// set at connection establishment time.
func (e *Engine) applyGuards(ctx context.Context, tx pgx.Tx) error {
	guards := []string{
		fmt.Sprintf("SET LOCAL statement_timeout = %d", e.config.Guards.StatementTimeoutMS),
		fmt.Sprintf("SET LOCAL lock_timeout = %d", e.config.Guards.LockTimeoutMS),
		fmt.Sprintf("SET LOCAL idle_in_transaction_session_timeout = %d", e.config.Guards.IdleTxTimeoutMS),
	}
	for _, guard := range guards {
		if _, err := tx.Exec(ctx, guard); err != nil {
			return &DatabaseError{Op: "failed to set transaction guard", Err: err}
		}
	}
	return nil
}

// streamRows fetches in fixed-size batches. After each batch it checks the
// caller's context and the wall-clock deadline; it stops fetching once the
// accumulated rows reach the cap, even mid-batch. Cancellation is observed
// only at these boundaries, never preemptively.
func (e *Engine) streamRows(ctx, queryCtx context.Context, rows pgx.Rows, conn *pgxpool.Conn, deadline time.Time, effCap int, effTimeout time.Duration) ([]map[string]any, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	out := make([]map[string]any, 0)
	sinceCheck := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &DatabaseError{Op: "failed to read row", Err: err}
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		out = append(out, row)

		if len(out) >= effCap {
			break
		}
		sinceCheck++
		if sinceCheck >= e.config.Query.FetchBatchSize {
			sinceCheck = 0
			if err := e.checkpoint(ctx, conn, deadline, len(out), effTimeout); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		// The driver aborts mid-batch when a context fires; translate those
		// to the same errors the batch-boundary checks produce.
		if ctx.Err() == context.Canceled {
			e.cancelInFlight(conn)
			return nil, &CancellationError{Rows: len(out)}
		}
		if queryCtx.Err() == context.DeadlineExceeded {
			e.cancelInFlight(conn)
			return nil, &TimeoutError{Timeout: effTimeout, Rows: len(out)}
		}
		return nil, &DatabaseError{Op: "failed to read result rows", Err: err}
	}
	return out, nil
}

// checkpoint is the per-batch safety net: caller cancellation first, then
// the wall-clock deadline. The deadline check is independent of the
// database-side statement timeout: it still fires when network or driver
// conditions keep the server-side guard from firing.
func (e *Engine) checkpoint(ctx context.Context, conn *pgxpool.Conn, deadline time.Time, fetched int, effTimeout time.Duration) error {
	select {
	case <-ctx.Done():
		e.cancelInFlight(conn)
		return &CancellationError{Rows: fetched}
	default:
	}
	if time.Now().After(deadline) {
		e.cancelInFlight(conn)
		return &TimeoutError{Timeout: effTimeout, Rows: fetched}
	}
	return nil
}

// cancelInFlight sends a best-effort protocol-level cancel for the statement
// running on conn. Advisory only: failures are swallowed.
func (e *Engine) cancelInFlight(conn *pgxpool.Conn) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Conn().PgConn().CancelRequest(cancelCtx); err != nil {
		e.logger.Debug().Err(err).Msg("best-effort statement cancel failed")
	}
}

// checkResultSize rejects results whose rendered JSON exceeds the configured
// maximum, independent of the row cap.
func (e *Engine) checkResultSize(result *QueryResult) error {
	jsonBytes, _ := json.Marshal(result.Rows)
	n := utf8.RuneCount(jsonBytes)
	if n <= e.config.Query.MaxResultLength {
		return nil
	}
	return &ValidationError{
		Reason: fmt.Sprintf("result too large: %d characters exceeds maximum of %d, reduce max_rows or select fewer columns", n, e.config.Query.MaxResultLength),
	}
}

// convertValue converts a pgx-returned value to a JSON-friendly Go type.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if val.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		// bytea, xml
		return base64.StdEncoding.EncodeToString(val)
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = convertValue(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = convertValue(item)
		}
		return result
	default:
		return val
	}
}

func convertFloat(f float64) any {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return f
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
