package dbguard

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers the query, list_tables, get_table_schema, and
// get_all_schemas tools on the given MCP server.
//
// Every tool returns a JSON envelope with a "status" field of "success" or
// "error". Failures of any kind (configuration, validation, cancellation,
// timeout, database) are converted to {"status":"error","message":...};
// callers never see a raw protocol-level fault.
func RegisterMCPTools(mcpServer *server.MCPServer, engine *Engine) {
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Execute a read-only SQL query. The query is classified, wrapped with a server-enforced row cap, and run inside a read-only transaction with statement, lock, and idle timeouts."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL query to execute (SELECT or WITH...SELECT only)"),
		),
		mcp.WithString("environment",
			mcp.Description("Target environment name (e.g. local, staging, production). Defaults to the configured selector variables, then 'default'."),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Row cap override for this query"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Timeout override in milliseconds for this query"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(queryTool, engine.loggedToolHandler("query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return envelopeResult(engine.errorEnvelope(err)), nil
		}
		result, err := engine.Query(ctx, QueryInput{
			SQL:         sql,
			Environment: req.GetString("environment", ""),
			MaxRows:     req.GetInt("max_rows", 0),
			TimeoutMS:   req.GetInt("timeout_ms", 0),
		})
		if err != nil {
			return envelopeResult(engine.errorEnvelope(err)), nil
		}
		return envelopeResult(map[string]any{
			"status":               "success",
			"results":              result.Rows,
			"count":                result.Count,
			"truncated":            result.Truncated,
			"max_rows":             result.MaxRows,
			"statement_timeout_ms": result.TimeoutMS,
			"environment":          result.Environment,
		}), nil
	}))

	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List all tables in the public schema of the target environment's database."),
		mcp.WithString("environment",
			mcp.Description("Target environment name"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, engine.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := engine.ListTables(ctx, req.GetString("environment", ""))
		if err != nil {
			return envelopeResult(engine.errorEnvelope(err)), nil
		}
		return envelopeResult(map[string]any{
			"status": "success",
			"tables": tables,
			"count":  len(tables),
		}), nil
	}))

	tableSchemaTool := mcp.NewTool("get_table_schema",
		mcp.WithDescription("Get the column layout and primary keys of a table."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("environment",
			mcp.Description("Target environment name"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(tableSchemaTool, engine.loggedToolHandler("get_table_schema", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return envelopeResult(engine.errorEnvelope(err)), nil
		}
		schema, err := engine.DescribeTable(ctx, table, req.GetString("environment", ""))
		if err != nil {
			return envelopeResult(engine.errorEnvelope(err)), nil
		}
		return envelopeResult(map[string]any{
			"status":       "success",
			"table":        schema.Table,
			"schema":       schema.Columns,
			"primary_keys": schema.PrimaryKeys,
		}), nil
	}))

	allSchemasTool := mcp.NewTool("get_all_schemas",
		mcp.WithDescription("Get schema, primary keys, and up to 5 sample rows for every table in the public schema. Useful for analyzing the entire database structure at once."),
		mcp.WithString("environment",
			mcp.Description("Target environment name"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(allSchemasTool, engine.loggedToolHandler("get_all_schemas", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		schemas, err := engine.AllSchemas(ctx, req.GetString("environment", ""))
		if err != nil {
			return envelopeResult(engine.errorEnvelope(err)), nil
		}
		return envelopeResult(map[string]any{
			"status":      "success",
			"table_count": len(schemas),
			"schemas":     schemas,
		}), nil
	}))
}

// errorEnvelope converts any error into the error envelope, appending any
// operator-configured hints matching the message.
func (e *Engine) errorEnvelope(err error) map[string]any {
	msg := err.Error()
	if h := e.hints.For(msg); h != "" {
		msg = msg + "\n\n" + h
	}
	e.logger.Error().Err(err).Msg("tool error")
	return map[string]any{"status": "error", "message": msg}
}

// envelopeResult marshals an envelope into an MCP text result.
func envelopeResult(envelope map[string]any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(envelope)
	if err != nil {
		return mcp.NewToolResultText(`{"status":"error","message":"failed to marshal result"}`)
	}
	return mcp.NewToolResultText(string(jsonBytes))
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (e *Engine) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		e.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
