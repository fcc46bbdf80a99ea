// Package dbguard provides guarded, read-only PostgreSQL access for AI
// agents through the Model Context Protocol (MCP).
//
// It exposes four tools (query, list_tables, get_table_schema, and
// get_all_schemas) backed by a single execution pipeline: regex-based
// read-only classification, row-cap rewriting with a server-enforced LIMIT,
// routing across named environments (one lazily created connection pool
// per target), execution inside an explicitly read-only transaction with
// statement/lock/idle timeouts, and batched stream fetching under a client
// wall-clock deadline with cooperative cancellation.
//
// The write-path restriction is layered: the classifier rejects write
// keywords before any database contact, every connection sets
// default_transaction_read_only on establishment, and every transaction is
// begun read-only regardless of classification.
//
// # Library Usage
//
//	targets := environ.DiscoverTargets(os.Environ())
//	engine, err := dbguard.New(targets, cfg.Config, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close(ctx)
//
//	// Use directly
//	result, err := engine.Query(ctx, dbguard.QueryInput{
//		SQL:         "SELECT id, name FROM users",
//		Environment: "staging",
//	})
//
//	// Or register as MCP tools
//	dbguard.RegisterMCPTools(mcpServer, engine)
//
// # Environments
//
// DBGUARD_DATABASE_URL configures the default target;
// DBGUARD_DATABASE_URL_<NAME> configures additional named targets. Requests
// may name an environment explicitly ("prod" and "production" both resolve
// to the production target); otherwise the selector variables
// (DBGUARD_ENVIRONMENT, APP_ENV, ENVIRONMENT by default) decide, falling
// back to "default".
package dbguard
