package dbguard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Introspection queries. All of these are system-catalog reads, which the
// classifier accepts unconditionally, and they go through the same guarded
// pipeline as caller queries.

const listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public'
`

const tableColumnsSQL = `
SELECT
    column_name,
    data_type,
    is_nullable,
    column_default,
    character_maximum_length
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = @table_name
ORDER BY ordinal_position
`

const primaryKeysSQL = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
    AND tc.table_schema = 'public'
    AND tc.table_name = @table_name
ORDER BY kcu.ordinal_position
`

// sampleRowLimit is how many rows AllSchemas samples per table.
const sampleRowLimit = 5

// ListTables returns the names of all tables in the public schema, in the
// catalog's natural result order.
func (e *Engine) ListTables(ctx context.Context, environment string) ([]string, error) {
	result, err := e.Query(ctx, QueryInput{SQL: listTablesSQL, Environment: environment})
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if name, ok := row["table_name"].(string); ok {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

// DescribeTable returns the column layout (in physical column position
// order) and primary key columns (in constraint position order) of a table.
func (e *Engine) DescribeTable(ctx context.Context, table, environment string) (*TableSchema, error) {
	columns, err := e.tableColumns(ctx, table, environment)
	if err != nil {
		return nil, err
	}
	pks, err := e.PrimaryKeys(ctx, table, environment)
	if err != nil {
		return nil, err
	}
	return &TableSchema{Table: table, Columns: columns, PrimaryKeys: pks}, nil
}

// PrimaryKeys returns a table's primary key column names, ordered by their
// position within the constraint.
func (e *Engine) PrimaryKeys(ctx context.Context, table, environment string) ([]string, error) {
	result, err := e.Query(ctx, QueryInput{
		SQL:         primaryKeysSQL,
		Params:      map[string]any{"table_name": table},
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}
	pks := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if name, ok := row["column_name"].(string); ok {
			pks = append(pks, name)
		}
	}
	return pks, nil
}

// AllSchemas aggregates schema, primary keys, and up to five sample rows for
// every table in the public schema. A sampling failure for an individual
// table (e.g. missing SELECT privilege on its contents) records an empty
// sample and does not abort the aggregation; any other failure does.
func (e *Engine) AllSchemas(ctx context.Context, environment string) (map[string]TableDetail, error) {
	startTime := time.Now()

	tables, err := e.ListTables(ctx, environment)
	if err != nil {
		return nil, err
	}

	schemas := make(map[string]TableDetail, len(tables))
	for _, table := range tables {
		columns, err := e.tableColumns(ctx, table, environment)
		if err != nil {
			return nil, err
		}
		pks, err := e.PrimaryKeys(ctx, table, environment)
		if err != nil {
			return nil, err
		}

		detail := TableDetail{Columns: columns, PrimaryKeys: pks, SampleData: []map[string]any{}}

		sampleSQL := "SELECT * FROM " + pgx.Identifier{"public", table}.Sanitize()
		sample, err := e.Query(ctx, QueryInput{
			SQL:         sampleSQL,
			Environment: environment,
			MaxRows:     sampleRowLimit,
		})
		if err != nil {
			e.logger.Warn().Str("table", table).Err(err).Msg("table sampling failed, recording empty sample")
		} else {
			detail.SampleData = sample.Rows
		}

		schemas[table] = detail
	}

	e.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("AllSchemas executed")

	return schemas, nil
}

// tableColumns runs the information_schema columns query and maps rows to
// ColumnInfo.
func (e *Engine) tableColumns(ctx context.Context, table, environment string) ([]ColumnInfo, error) {
	result, err := e.Query(ctx, QueryInput{
		SQL:         tableColumnsSQL,
		Params:      map[string]any{"table_name": table},
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		col := ColumnInfo{}
		if v, ok := row["column_name"].(string); ok {
			col.Name = v
		}
		if v, ok := row["data_type"].(string); ok {
			col.DataType = v
		}
		if v, ok := row["is_nullable"].(string); ok {
			col.Nullable = v == "YES"
		}
		if v, ok := row["column_default"].(string); ok {
			col.Default = v
		}
		if n, ok := asInt64(row["character_maximum_length"]); ok {
			col.MaxLength = &n
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// asInt64 normalizes the integer types pgx may return for catalog columns.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
