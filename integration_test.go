package dbguard_test

import (
	"context"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	dbguard "github.com/dbguard/dbguard"
	"github.com/dbguard/dbguard/internal/environ"
)

// Integration tests run against a live database when DBGUARD_TEST_DATABASE_URL
// is set, and skip otherwise. They create and drop their own tables; point the
// URL at a throwaway database.

const itTable = "dbguard_it_users"

// integrationEngine builds an Engine whose only target is the test database,
// plus an admin connection for test fixtures. Skips the test when no test
// database is configured.
func integrationEngine(t *testing.T, config dbguard.Config) (*dbguard.Engine, *pgx.Conn) {
	t.Helper()
	url := os.Getenv(integrationEnvVar)
	if url == "" {
		t.Skipf("set %s to run integration tests", integrationEnvVar)
	}

	admin, err := pgx.Connect(t.Context(), url)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(func() { admin.Close(context.Background()) })

	targets := []environ.Target{{Name: "default", ConnString: url}}
	engine, err := dbguard.New(targets, config, testLogger())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close(context.Background()) })
	return engine, admin
}

// seedUsers creates the fixture table with n rows and registers its teardown.
func seedUsers(t *testing.T, admin *pgx.Conn, n int) {
	t.Helper()
	ctx := t.Context()
	_, err := admin.Exec(ctx, `
		DROP TABLE IF EXISTS `+itTable+`;
		CREATE TABLE `+itTable+` (
			id    serial PRIMARY KEY,
			name  text NOT NULL,
			email text
		)`)
	if err != nil {
		t.Fatalf("failed to create fixture table: %v", err)
	}
	t.Cleanup(func() {
		admin.Exec(context.Background(), "DROP TABLE IF EXISTS "+itTable)
	})
	for i := 1; i <= n; i++ {
		_, err := admin.Exec(ctx,
			"INSERT INTO "+itTable+" (name, email) VALUES ($1, $2)",
			"user"+string(rune('0'+i)), "user"+string(rune('0'+i))+"@example.com")
		if err != nil {
			t.Fatalf("failed to insert fixture row: %v", err)
		}
	}
}

func TestIntegration_QueryRowCap(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 5)

	result, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL:     "SELECT id, name FROM " + itTable + " ORDER BY id",
		MaxRows: 2,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("expected 2 rows, got %d", result.Count)
	}
	if !result.Truncated {
		t.Error("expected truncated = true when the cap cuts the result")
	}
	if result.MaxRows != 2 {
		t.Errorf("expected max_rows 2 in result, got %d", result.MaxRows)
	}
	if result.Environment != "default" {
		t.Errorf("expected environment \"default\", got %q", result.Environment)
	}
}

func TestIntegration_QueryUnderCap(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 5)

	result, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL: "SELECT id, name, email FROM " + itTable + " ORDER BY id",
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Count != 5 {
		t.Errorf("expected 5 rows, got %d", result.Count)
	}
	if result.Truncated {
		t.Error("expected truncated = false when all rows fit under the cap")
	}
	if result.Rows[0]["name"] != "user1" {
		t.Errorf("unexpected first row: %v", result.Rows[0])
	}
}

func TestIntegration_NamedParams(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 5)

	result, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL:    "SELECT id FROM " + itTable + " WHERE id > @min_id ORDER BY id",
		Params: map[string]any{"min_id": 3},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("expected 2 rows with id > 3, got %d", result.Count)
	}
}

func TestIntegration_TrailingSemicolon(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 3)

	result, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL: "SELECT id FROM " + itTable + ";",
	})
	if err != nil {
		t.Fatalf("query with trailing semicolon failed: %v", err)
	}
	if result.Count != 3 {
		t.Errorf("expected 3 rows, got %d", result.Count)
	}
}

func TestIntegration_Timeout(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 1)

	_, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL:       "SELECT pg_sleep(10)",
		TimeoutMS: 300,
	})
	var timeoutErr *dbguard.TimeoutError
	if !asError(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if timeoutErr.Timeout != 300*time.Millisecond {
		t.Errorf("expected 300ms timeout in error, got %v", timeoutErr.Timeout)
	}
}

func TestIntegration_Cancellation(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 1)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	_, err := engine.Query(ctx, dbguard.QueryInput{
		SQL: "SELECT pg_sleep(10)",
	})
	var cancelErr *dbguard.CancellationError
	if !asError(err, &cancelErr) {
		t.Fatalf("expected *CancellationError, got %v", err)
	}
}

func TestIntegration_ResultSizeLimit(t *testing.T) {
	config := validConfig()
	config.Query.MaxResultLength = 50
	engine, admin := integrationEngine(t, config)
	seedUsers(t, admin, 5)

	_, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL: "SELECT id, name, email FROM " + itTable,
	})
	var verr *dbguard.ValidationError
	if !asError(err, &verr) {
		t.Fatalf("expected *ValidationError for oversized result, got %T: %v", err, err)
	}
	if !strings.Contains(verr.Reason, "result too large") {
		t.Errorf("unexpected reason: %q", verr.Reason)
	}
}

func TestIntegration_Sanitize(t *testing.T) {
	config := validConfig()
	config.Sanitize = map[string]string{
		`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+`: "[redacted]",
	}
	engine, admin := integrationEngine(t, config)
	seedUsers(t, admin, 2)

	result, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL: "SELECT email FROM " + itTable + " ORDER BY id",
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	for _, row := range result.Rows {
		if row["email"] != "[redacted]" {
			t.Errorf("expected redacted email, got %v", row["email"])
		}
	}
}

func TestIntegration_Ping(t *testing.T) {
	engine, _ := integrationEngine(t, validConfig())
	if err := engine.Ping(t.Context(), ""); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestIntegration_ValueConversion(t *testing.T) {
	engine, _ := integrationEngine(t, validConfig())

	result, err := engine.Query(t.Context(), dbguard.QueryInput{
		SQL: `SELECT
			1.5::float8          AS f,
			'NaN'::float8        AS nan,
			'\xdead'::bytea      AS b,
			now()                AS ts,
			12.34::numeric       AS n`,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	row := result.Rows[0]
	if row["f"] != 1.5 {
		t.Errorf("expected float 1.5, got %v", row["f"])
	}
	if row["nan"] != "NaN" {
		t.Errorf("expected \"NaN\", got %v", row["nan"])
	}
	if row["b"] != "3q0=" {
		t.Errorf("expected base64 bytea, got %v", row["b"])
	}
	if _, ok := row["ts"].(string); !ok {
		t.Errorf("expected timestamp serialized as string, got %T", row["ts"])
	}
	if row["n"] != "12.34" {
		t.Errorf("expected numeric as string, got %v", row["n"])
	}
}

func TestIntegration_ListTables(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 1)

	tables, err := engine.ListTables(t.Context(), "")
	if err != nil {
		t.Fatalf("list tables failed: %v", err)
	}
	if !slices.Contains(tables, itTable) {
		t.Errorf("expected %q in table list, got %v", itTable, tables)
	}
}

func TestIntegration_DescribeTable(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 1)

	schema, err := engine.DescribeTable(t.Context(), itTable, "")
	if err != nil {
		t.Fatalf("describe table failed: %v", err)
	}
	if len(schema.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(schema.Columns))
	}
	byName := make(map[string]dbguard.ColumnInfo)
	for _, col := range schema.Columns {
		byName[col.Name] = col
	}
	id, ok := byName["id"]
	if !ok {
		t.Fatal("expected an id column")
	}
	if id.Nullable {
		t.Error("expected id to be NOT NULL")
	}
	if id.Default == "" {
		t.Error("expected id to carry a serial default")
	}
	email, ok := byName["email"]
	if !ok {
		t.Fatal("expected an email column")
	}
	if !email.Nullable {
		t.Error("expected email to be nullable")
	}
}

func TestIntegration_PrimaryKeys(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 1)

	keys, err := engine.PrimaryKeys(t.Context(), itTable, "")
	if err != nil {
		t.Fatalf("primary keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "id" {
		t.Errorf("expected primary key [id], got %v", keys)
	}
}

func TestIntegration_AllSchemas(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 7)

	schemas, err := engine.AllSchemas(t.Context(), "")
	if err != nil {
		t.Fatalf("all schemas failed: %v", err)
	}
	detail, ok := schemas[itTable]
	if !ok {
		t.Fatalf("expected %q in schema map, got keys %v", itTable, len(schemas))
	}
	if len(detail.Columns) != 3 {
		t.Errorf("expected 3 columns, got %d", len(detail.Columns))
	}
	if len(detail.PrimaryKeys) != 1 || detail.PrimaryKeys[0] != "id" {
		t.Errorf("expected primary key [id], got %v", detail.PrimaryKeys)
	}
	if len(detail.SampleData) > 5 {
		t.Errorf("expected at most 5 sample rows, got %d", len(detail.SampleData))
	}
}

func TestIntegration_AllSchemas_SampleFailureIsolated(t *testing.T) {
	engine, admin := integrationEngine(t, validConfig())
	seedUsers(t, admin, 3)

	// A view whose body errors only when selected from: its schema queries
	// succeed, its sampling fails.
	const brokenView = "dbguard_it_broken_v"
	_, err := admin.Exec(t.Context(), "CREATE VIEW "+brokenView+" AS SELECT 1/0 AS x")
	if err != nil {
		t.Fatalf("failed to create fixture view: %v", err)
	}
	t.Cleanup(func() {
		admin.Exec(context.Background(), "DROP VIEW IF EXISTS "+brokenView)
	})

	schemas, err := engine.AllSchemas(t.Context(), "")
	if err != nil {
		t.Fatalf("a single failing sample must not abort the aggregation: %v", err)
	}

	broken, ok := schemas[brokenView]
	if !ok {
		t.Fatalf("expected %q in schema map", brokenView)
	}
	if len(broken.SampleData) != 0 {
		t.Errorf("expected empty sample for failing relation, got %d rows", len(broken.SampleData))
	}
	if len(broken.Columns) != 1 || broken.Columns[0].Name != "x" {
		t.Errorf("schema of failing relation should still be reported, got %v", broken.Columns)
	}

	users, ok := schemas[itTable]
	if !ok {
		t.Fatalf("expected %q in schema map", itTable)
	}
	if len(users.Columns) != 3 {
		t.Errorf("other tables must report full schema, got %d columns", len(users.Columns))
	}
	if len(users.PrimaryKeys) != 1 || users.PrimaryKeys[0] != "id" {
		t.Errorf("other tables must report primary keys, got %v", users.PrimaryKeys)
	}
	if len(users.SampleData) != 3 {
		t.Errorf("other tables must report full sample data, got %d rows", len(users.SampleData))
	}
}

func TestIntegration_UnknownTableSchema(t *testing.T) {
	engine, _ := integrationEngine(t, validConfig())

	schema, err := engine.DescribeTable(t.Context(), "no_such_table_anywhere", "")
	if err != nil {
		t.Fatalf("describe of missing table should not error: %v", err)
	}
	if len(schema.Columns) != 0 {
		t.Errorf("expected no columns for missing table, got %d", len(schema.Columns))
	}
}
