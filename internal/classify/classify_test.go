package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_WriteKeywordsRejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sql  string
	}{
		{"insert", "INSERT INTO users (name) VALUES ('x')"},
		{"update", "UPDATE users SET name = 'x'"},
		{"delete", "DELETE FROM users WHERE id = 1"},
		{"drop", "DROP TABLE users"},
		{"create", "CREATE TABLE foo (id int)"},
		{"alter", "ALTER TABLE users ADD COLUMN x int"},
		{"truncate", "TRUNCATE users"},
		{"lowercase", "delete from users"},
		{"mixed case", "DeLeTe FROM users"},
		{"embedded in select", "SELECT * FROM users; DROP TABLE users"},
		{"cte wrapping a write", "WITH x AS (SELECT 1) INSERT INTO users SELECT * FROM x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Check(tt.sql)
			require.Error(t, err)
			rej := err.(*Rejection)
			assert.Equal(t, RejectWrite, rej.Kind)
			assert.Contains(t, rej.Reason, "write operation detected")
		})
	}
}

func TestCheck_WholeWordOnly(t *testing.T) {
	t.Parallel()
	// Keyword substrings inside identifiers must not trigger rejection.
	tests := []struct {
		name string
		sql  string
	}{
		{"is_deleted column", "SELECT id, is_deleted FROM users WHERE is_deleted = false"},
		{"created_at column", "SELECT created_at FROM orders"},
		{"updated_at column", "SELECT updated_at FROM orders ORDER BY updated_at"},
		{"table named inserts", "SELECT * FROM audit_inserts"},
		{"dropped_reason column", "SELECT dropped_reason FROM shipments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.NoError(t, Check(tt.sql))
		})
	}
}

func TestCheck_ReadFormsAccepted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sql  string
	}{
		{"plain select", "SELECT 1"},
		{"leading whitespace", "   \n\tSELECT * FROM users"},
		{"lowercase select", "select id from users"},
		{"cte select", "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent"},
		{"information_schema", "SELECT table_name FROM information_schema.tables"},
		{"pg_catalog", "SELECT relname FROM pg_catalog.pg_class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.NoError(t, Check(tt.sql))
		})
	}
}

func TestCheck_UnrecognizedFormsRejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sql  string
	}{
		{"explain", "EXPLAIN ANALYZE SELECT 1"},
		{"show", "SHOW search_path"},
		{"vacuum", "VACUUM users"},
		{"set", "SET search_path TO public"},
		{"empty", ""},
		{"with and no select", "WITH x AS (TABLE y) TABLE x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Check(tt.sql)
			require.Error(t, err)
			rej := err.(*Rejection)
			assert.Equal(t, RejectForm, rej.Kind)
			assert.Contains(t, rej.Reason, "not a recognized read form")
		})
	}
}
