package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	dbguard "github.com/dbguard/dbguard"
	"github.com/dbguard/dbguard/internal/environ"
	"github.com/dbguard/dbguard/internal/meta"

	"github.com/rs/zerolog"
)

func runDoctor() error {
	useColor := isTTY(os.Stderr.Fd())
	return doctor(os.Stderr, useColor)
}

// doctor validates the environment configuration and probes connectivity to
// every configured target. It always returns nil; problems are printed as
// failed checks, not errors.
func doctor(w io.Writer, useColor bool) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "dbguard %s\n\n", meta.Version)

	cfg, err := dbguard.FromEnv()
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Environment configuration parses: %v", err))
		return nil
	}
	printCheck(w, useColor, true, "Environment configuration parses")

	targets := environ.DiscoverTargets(os.Environ())
	if len(targets) == 0 {
		printCheck(w, useColor, false, fmt.Sprintf("At least one target configured (set %s or %s_<NAME>)", environ.URLVar, environ.URLVar))
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'dbguard doctor' again.")
		return nil
	}
	printCheck(w, useColor, true, fmt.Sprintf("Targets configured: %d", len(targets)))

	logger := zerolog.New(io.Discard)
	engine, err := dbguard.New(targets, cfg.Config, logger)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Engine creation: %v", err))
		return nil
	}
	ctx := context.Background()
	defer engine.Close(ctx)

	for _, target := range targets {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := engine.Ping(probeCtx, target.Name)
		cancel()
		printCheck(w, useColor, err == nil, fmt.Sprintf("Target %q reachable", target.Name))
		if err != nil {
			fmt.Fprintf(w, "      %v\n", err)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "MCP endpoint: http://localhost:%d/mcp\n", cfg.Port)
	return nil
}

// printCheck prints a single pass/fail check line.
func printCheck(w io.Writer, useColor, passed bool, msg string) {
	mark := "ok"
	if !passed {
		mark = "FAIL"
	}
	if useColor {
		if passed {
			mark = "\033[32mok\033[0m"
		} else {
			mark = "\033[31mFAIL\033[0m"
		}
	}
	fmt.Fprintf(w, "  [%s] %s\n", mark, msg)
}
