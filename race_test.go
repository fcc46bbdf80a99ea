package dbguard_test

import (
	"sync"
	"testing"

	dbguard "github.com/dbguard/dbguard"
)

// The engine is shared by concurrent tool invocations; everything reachable
// without a database must be safe under the race detector.

func TestConcurrentRejection(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, validConfig(), "default", "staging")

	inputs := []dbguard.QueryInput{
		{SQL: "DELETE FROM users"},
		{SQL: "EXPLAIN SELECT 1"},
		{SQL: "SELECT 1", Environment: "qa"},
		{SQL: "SELECT @guard_row_cap", Params: map[string]any{"guard_row_cap": 1}},
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		input := inputs[i%len(inputs)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Query(t.Context(), input); err == nil {
				t.Errorf("expected rejection for %q", input.SQL)
			}
		}()
	}
	wg.Wait()
}

func TestConcurrentEnvironments(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, validConfig(), "default", "staging", "production")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := engine.Environments(); len(got) != 3 {
				t.Errorf("expected 3 environments, got %v", got)
			}
		}()
	}
	wg.Wait()
}
