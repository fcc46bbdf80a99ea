package dbguard

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the environment variable prefix for all scalar configuration.
const envPrefix = "dbguard"

// Config holds the engine configuration. Values are loaded from environment
// variables with the DBGUARD prefix; see FromEnv. Connection strings are not
// part of Config; targets are discovered separately from
// DBGUARD_DATABASE_URL / DBGUARD_DATABASE_URL_<NAME>.
type Config struct {
	Query  QueryConfig
	Guards GuardConfig
	Pool   PoolConfig

	// EnvSelectors is the ordered list of environment variables consulted
	// when a request does not name an environment.
	EnvSelectors []string `envconfig:"ENV_SELECTORS" default:"DBGUARD_ENVIRONMENT,APP_ENV,ENVIRONMENT"`

	// Sanitize maps regex patterns to replacements applied to result field
	// values. Example: DBGUARD_SANITIZE="\d{16}:[redacted]"
	//
	// envconfig map syntax splits entries on "," and key/value on ":", so
	// patterns set through the environment cannot contain either character
	// (no {m,n} repetition, no ":" literals). Patterns that need them must
	// be supplied by a library caller constructing Config directly.
	Sanitize map[string]string `envconfig:"SANITIZE"`

	// ErrorHints maps error-message regex patterns to guidance appended to
	// error envelopes. Same environment-syntax constraint as Sanitize.
	ErrorHints map[string]string `envconfig:"ERROR_HINTS"`

	// TimeoutRules maps SQL regex patterns to timeout milliseconds,
	// consulted between the request override and the default. Same
	// environment-syntax constraint as Sanitize.
	TimeoutRules map[string]int `envconfig:"TIMEOUT_RULES"`
}

// QueryConfig holds row cap and fetch settings.
type QueryConfig struct {
	// MaxRows is the default row cap applied to every query.
	MaxRows int `envconfig:"MAX_ROWS" default:"500"`

	// FetchBatchSize is the number of rows fetched between deadline and
	// cancellation checks. Must stay small relative to the deadline
	// granularity desired; cancellation is observed only between batches.
	FetchBatchSize int `envconfig:"FETCH_BATCH_SIZE" default:"50"`

	// MaxResultLength caps the rendered JSON size of a result, in
	// characters, independent of the row cap.
	MaxResultLength int `envconfig:"MAX_RESULT_LENGTH" default:"100000"`

	// MaxSQLLength caps the byte length of incoming SQL text, checked
	// before any other processing.
	MaxSQLLength int `envconfig:"MAX_SQL_LENGTH" default:"100000"`
}

// GuardConfig holds the database-side timeouts set for every transaction.
// StatementTimeoutMS also serves as the default client wall-clock deadline.
type GuardConfig struct {
	StatementTimeoutMS int `envconfig:"STATEMENT_TIMEOUT_MS" default:"30000"`
	LockTimeoutMS      int `envconfig:"LOCK_TIMEOUT_MS" default:"5000"`
	IdleTxTimeoutMS    int `envconfig:"IDLE_TX_TIMEOUT_MS" default:"10000"`
}

// PoolConfig holds per-target connection pool settings.
type PoolConfig struct {
	Size             int           `envconfig:"POOL_SIZE" default:"5"`
	Overflow         int           `envconfig:"POOL_OVERFLOW" default:"5"`
	AcquireTimeoutMS int           `envconfig:"POOL_ACQUIRE_TIMEOUT_MS" default:"10000"`
	ConnMaxLifetime  time.Duration `envconfig:"POOL_CONN_MAX_LIFETIME" default:"30m"`
}

// ServerConfig embeds Config and adds serve-mode settings for the CLI.
type ServerConfig struct {
	Config

	Port            int    `envconfig:"PORT" default:"8822"`
	HealthCheckPath string `envconfig:"HEALTH_CHECK_PATH" default:"/healthz"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stderr"`
}

// FromEnv loads ServerConfig from DBGUARD_* environment variables.
func FromEnv() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to parse environment configuration: %w", err)
	}
	return cfg, nil
}

// StatementTimeout returns the default per-query deadline.
func (g GuardConfig) StatementTimeout() time.Duration {
	return time.Duration(g.StatementTimeoutMS) * time.Millisecond
}

// AcquireTimeout returns how long a caller may block waiting for a pooled
// connection when the pool is saturated.
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutMS) * time.Millisecond
}
