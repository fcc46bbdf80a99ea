package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	dbguard "github.com/dbguard/dbguard"
	"github.com/dbguard/dbguard/internal/environ"
	"github.com/dbguard/dbguard/internal/meta"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func runServe() error {
	// An operator interrupt cancels the context; in-flight queries observe
	// it at their next batch boundary and roll back.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isTTY(os.Stderr.Fd()) {
		printBanner(os.Stderr, true)
	}

	// 1. Load config and discover targets
	cfg, err := dbguard.FromEnv()
	if err != nil {
		return err
	}
	targets := environ.DiscoverTargets(os.Environ())
	if len(targets) == 0 {
		return fmt.Errorf("no database targets configured: set %s or %s_<NAME>", environ.URLVar, environ.URLVar)
	}

	// 2. Setup logger
	logger := setupLogger(cfg)

	// 3. Create engine (pools are provisioned lazily per target)
	engine, err := dbguard.New(targets, cfg.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close(ctx)

	// 4. Test connectivity to the default resolution
	logger.Info().Strs("environments", engine.Environments()).Msg("testing database connection")
	if err := engine.Ping(ctx, ""); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	// 5. Create MCP server with initialize lifecycle logging
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("dbguard", meta.Version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	dbguard.RegisterMCPTools(mcpServer, engine)

	// 6. Start HTTP server with health check
	addr := fmt.Sprintf(":%d", cfg.Port)
	mux := http.NewServeMux()

	// Process liveness only, not DB connectivity
	mux.HandleFunc(cfg.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does not register the handler when a custom *http.Server is
	// provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		httpSrv.Shutdown(context.Background())
	}()

	logger.Info().Int("port", cfg.Port).Msg("starting dbguard server")
	if err := streamableServer.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func setupLogger(cfg dbguard.ServerConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if cfg.LogOutput == "stdout" {
		output = os.Stdout
	} else if cfg.LogOutput != "" && cfg.LogOutput != "stderr" {
		f, err := os.OpenFile(cfg.LogOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if cfg.LogFormat == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
