package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spellrun/spell/pkg/api"
	"github.com/spellrun/spell/pkg/cast"
	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/policy"
)

// runServeCmd implements `spell serve`: the execution API server with a
// hot-reloading policy.
func runServeCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	port := cmd.Int("port", cfg.API.Port, "listen port (0 for ephemeral)")
	verbose := cmd.Bool("verbose", false, "verbose logging")
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	cfg.API.Port = *port

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	caster, err := cast.New(cfg)
	if err != nil {
		return fail(stderr, err)
	}
	caster.Logger = logger

	// The server picks up policy edits without a restart.
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.PolicyPath), 0o755); err != nil {
		return fail(stderr, fmt.Errorf("create config dir: %w", err))
	}
	watcher, err := policy.NewWatcher(cfg.Paths.PolicyPath)
	if err != nil {
		return fail(stderr, err)
	}
	defer watcher.Close()
	caster.Policy = watcher

	server, err := api.NewServer(cfg, caster, logger)
	if err != nil {
		return fail(stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.ListenAndServe(ctx); err != nil {
		return fail(stderr, err)
	}
	return 0
}
