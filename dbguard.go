package dbguard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dbguard/dbguard/internal/environ"
	"github.com/dbguard/dbguard/internal/hint"
	"github.com/dbguard/dbguard/internal/sanitize"
	"github.com/dbguard/dbguard/internal/timeout"
)

// Engine is the guarded query execution engine. It owns the environment
// registry and the per-call execution pipeline. All exported methods are
// safe for concurrent use from multiple goroutines; each invocation owns one
// pooled connection exclusively for its full lifetime.
type Engine struct {
	config    Config
	registry  *environ.Registry
	timeouts  *timeout.Manager
	sanitizer *sanitize.Sanitizer
	hints     *hint.Matcher
	logger    zerolog.Logger
}

// New creates an Engine over the given targets. Pools are not created here;
// the registry provisions them lazily on first use per target.
// Panics on invalid config. Returns error only for runtime failures.
func New(targets []environ.Target, config Config, logger zerolog.Logger) (*Engine, error) {
	// --- Config validation (panics on invalid config) ---

	if config.Query.MaxRows <= 0 {
		panic("dbguard: query max_rows must be > 0")
	}
	if config.Query.FetchBatchSize <= 0 {
		panic("dbguard: query fetch_batch_size must be > 0")
	}
	if config.Query.MaxResultLength <= 0 {
		panic("dbguard: query max_result_length must be > 0")
	}
	if config.Query.MaxSQLLength <= 0 {
		panic("dbguard: query max_sql_length must be > 0")
	}
	if config.Guards.StatementTimeoutMS <= 0 {
		panic("dbguard: statement_timeout_ms must be > 0")
	}
	if config.Guards.LockTimeoutMS <= 0 {
		panic("dbguard: lock_timeout_ms must be > 0")
	}
	if config.Guards.IdleTxTimeoutMS <= 0 {
		panic("dbguard: idle_tx_timeout_ms must be > 0")
	}
	if config.Pool.Size <= 0 {
		panic("dbguard: pool_size must be > 0")
	}
	if config.Pool.Overflow < 0 {
		panic("dbguard: pool_overflow must be >= 0")
	}
	if config.Pool.AcquireTimeoutMS <= 0 {
		panic("dbguard: pool_acquire_timeout_ms must be > 0")
	}

	// --- Initialize internal components ---

	// Rules are evaluated in sorted pattern order so first-match behavior
	// is deterministic across restarts.
	patterns := make([]string, 0, len(config.TimeoutRules))
	for pattern := range config.TimeoutRules {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	rules := make([]timeout.Rule, 0, len(patterns))
	for _, pattern := range patterns {
		ms := config.TimeoutRules[pattern]
		if ms <= 0 {
			panic(fmt.Sprintf("dbguard: timeout rule %q has non-positive timeout", pattern))
		}
		rules = append(rules, timeout.Rule{Pattern: pattern, Timeout: time.Duration(ms) * time.Millisecond})
	}
	timeouts, err := timeout.NewManager(config.Guards.StatementTimeout(), rules)
	if err != nil {
		panic(fmt.Sprintf("dbguard: %v", err))
	}

	sanitizer, err := sanitize.New(config.Sanitize)
	if err != nil {
		panic(fmt.Sprintf("dbguard: %v", err))
	}
	hints, err := hint.New(config.ErrorHints)
	if err != nil {
		panic(fmt.Sprintf("dbguard: %v", err))
	}

	registry := environ.NewRegistry(targets, config.EnvSelectors, environ.PoolSettings{
		Size:             config.Pool.Size,
		Overflow:         config.Pool.Overflow,
		ConnMaxLifetime:  config.Pool.ConnMaxLifetime,
		StatementTimeout: config.Guards.StatementTimeout(),
	}, logger)

	return &Engine{
		config:    config,
		registry:  registry,
		timeouts:  timeouts,
		sanitizer: sanitizer,
		hints:     hints,
		logger:    logger,
	}, nil
}

// Environments returns the names of all configured targets.
func (e *Engine) Environments() []string {
	return e.registry.Available()
}

// Ping resolves an environment name and verifies its database is reachable.
func (e *Engine) Ping(ctx context.Context, environment string) error {
	target, err := e.registry.Resolve(environment)
	if err != nil {
		return configurationError(err)
	}
	pool, err := e.registry.Pool(ctx, target)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close closes every pool the registry has created. Accepts context for API
// forward-compatibility; pgxpool.Pool.Close() does not support context-based
// shutdown.
func (e *Engine) Close(ctx context.Context) {
	e.registry.Close()
}

// configurationError converts a registry resolution failure into the public
// error type.
func configurationError(err error) error {
	if ute, ok := err.(*environ.UnknownTargetError); ok {
		return &ConfigurationError{Target: ute.Requested, Available: ute.Available}
	}
	return err
}
