// Package environ resolves named database targets and owns one lazily
// created connection pool per target.
package environ

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// URLVar is the environment variable holding the default target's connection
// string. Additional targets use URLVar + "_<NAME>" (e.g.
// DBGUARD_DATABASE_URL_STAGING registers target "staging").
const URLVar = "DBGUARD_DATABASE_URL"

// DefaultTarget is the name used when neither the request nor any selector
// variable names a target.
const DefaultTarget = "default"

// aliases maps colloquial environment names to canonical target names.
// Unknown names pass through unchanged.
var aliases = map[string]string{
	"dev":         "local",
	"development": "local",
	"stage":       "staging",
	"stg":         "staging",
	"prod":        "production",
}

// Target is a named, independently configured database endpoint.
// Immutable after discovery.
type Target struct {
	Name       string
	ConnString string
}

// PoolSettings holds the fixed sizing and lifetime parameters applied to
// every pool the registry creates.
type PoolSettings struct {
	Size             int           // steady-state connection count
	Overflow         int           // extra connections allowed beyond Size
	ConnMaxLifetime  time.Duration // recycle age
	StatementTimeout time.Duration // connection-level statement_timeout, set on connect
}

// Normalize lower-cases a target name and applies the alias table.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// DiscoverTargets scans an environment (os.Environ() form, "KEY=VALUE")
// for the default connection string and any DBGUARD_DATABASE_URL_<NAME>
// entries. Target names are normalized.
func DiscoverTargets(env []string) []Target {
	var targets []Target
	for _, entry := range env {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		if key == URLVar {
			targets = append(targets, Target{Name: DefaultTarget, ConnString: value})
			continue
		}
		if suffix, ok := strings.CutPrefix(key, URLVar+"_"); ok && suffix != "" {
			targets = append(targets, Target{Name: Normalize(suffix), ConnString: value})
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}

// UnknownTargetError is returned when a resolved target name has no
// registered connection string.
type UnknownTargetError struct {
	Requested string
	Available []string
}

func (e *UnknownTargetError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no connection string configured for target %q: no targets are configured (set %s)", e.Requested, URLVar)
	}
	return fmt.Sprintf("no connection string configured for target %q: available targets are %s", e.Requested, strings.Join(e.Available, ", "))
}

// Registry maps target names to live connection pools. Pools are created
// lazily on first use and cached for the process lifetime. Safe for
// concurrent use.
type Registry struct {
	targets   map[string]Target
	selectors []string
	settings  PoolSettings
	logger    zerolog.Logger

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewRegistry creates a Registry over the given targets. selectors is the
// ordered list of environment variable names consulted when a request does
// not name a target.
func NewRegistry(targets []Target, selectors []string, settings PoolSettings, logger zerolog.Logger) *Registry {
	byName := make(map[string]Target, len(targets))
	for _, t := range targets {
		byName[Normalize(t.Name)] = t
	}
	return &Registry{
		targets:   byName,
		selectors: selectors,
		settings:  settings,
		logger:    logger,
		pools:     make(map[string]*pgxpool.Pool),
	}
}

// Available returns the sorted names of all registered targets.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a requested name to a registered Target. An empty requested
// name falls back to the first non-empty selector variable, then to
// DefaultTarget.
func (r *Registry) Resolve(requested string) (Target, error) {
	name := requested
	if name == "" {
		for _, selector := range r.selectors {
			if v := os.Getenv(selector); v != "" {
				name = v
				break
			}
		}
	}
	if name == "" {
		name = DefaultTarget
	}
	name = Normalize(name)

	target, ok := r.targets[name]
	if !ok {
		return Target{}, &UnknownTargetError{Requested: name, Available: r.Available()}
	}
	return target, nil
}

// Pool returns the connection pool for a target, creating and caching it on
// first use. Concurrent first-time calls for the same target create exactly
// one pool.
func (r *Registry) Pool(ctx context.Context, target Target) (*pgxpool.Pool, error) {
	key := Normalize(target.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[key]; ok {
		return pool, nil
	}

	pool, err := r.newPool(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for target %q: %w", key, err)
	}
	r.pools[key] = pool

	r.logger.Info().
		Str("target", key).
		Int("max_conns", r.settings.Size+r.settings.Overflow).
		Msg("connection pool created")
	return pool, nil
}

// newPool builds a pgxpool for the target. Every connection is marked
// read-only and given a statement timeout at establishment time, independent
// of the per-transaction guards the coordinator sets later.
func (r *Registry) newPool(ctx context.Context, target Target) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(target.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(r.settings.Size + r.settings.Overflow)
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = r.settings.ConnMaxLifetime
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	stmtTimeout := r.settings.StatementTimeout
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
			return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
		}
		if stmtTimeout > 0 {
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", stmtTimeout.Milliseconds())); err != nil {
				return fmt.Errorf("failed to SET statement_timeout: %w", err)
			}
		}
		return nil
	}

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// Close closes all cached pools. Called at process shutdown only.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, pool := range r.pools {
		pool.Close()
		delete(r.pools, name)
	}
}
