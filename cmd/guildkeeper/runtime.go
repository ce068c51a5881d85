package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/config"
	"github.com/szaher/guildkeeper/internal/events"
	"github.com/szaher/guildkeeper/internal/platform"
	"github.com/szaher/guildkeeper/internal/state"
	"github.com/szaher/guildkeeper/internal/telemetry"
)

// settings reads the environment configuration and applies the global flags
// on top of it.
func settings() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}
	if blueprintPath != "" {
		cfg.Blueprint = blueprintPath
	}
	if stateBackend != "" {
		cfg.StateBackend = strings.ToLower(stateBackend)
	}
	if stateFile != "" {
		cfg.StateFile = stateFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := telemetry.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch logFormat {
	case "", "json":
		return telemetry.NewLogger(w, lvl), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", logFormat)
	}
}

// newEmitter forwards events to the logger and, with --events, to a JSON
// lines file. The returned func closes the file.
func newEmitter(logger *slog.Logger) (events.Emitter, func(), error) {
	emitters := events.Multi{events.LogEmitter{Logger: logger}}
	if eventsFile == "" {
		return emitters, func() {}, nil
	}
	f, err := os.OpenFile(eventsFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening events file: %w", err)
	}
	emitters = append(emitters, events.NewWriterEmitter(f))
	return emitters, func() { _ = f.Close() }, nil
}

func loadBlueprint(cfg config.Config) (*blueprint.Blueprint, error) {
	bp, err := blueprint.Load(cfg.Blueprint)
	if err != nil {
		return nil, fmt.Errorf("loading blueprint: %w", err)
	}
	return bp, nil
}

func openStore(ctx context.Context, cfg config.Config) (state.Store, error) {
	store, err := state.Open(ctx, cfg.StateOptions())
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}
	return store, nil
}

// connect creates a REST client for the bot. The gateway is not opened.
func connect(ctx context.Context, cfg config.Config) (*platform.Discord, error) {
	session, err := platform.NewSession(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%w (set %s)", err, config.EnvToken)
	}
	client := platform.NewDiscord(session)
	if err := client.Identify(ctx); err != nil {
		return nil, fmt.Errorf("identifying bot: %w", err)
	}
	return client, nil
}

func runContext(ctx context.Context) context.Context {
	return telemetry.WithCorrelationID(ctx, correlationID)
}

// requireGuilds rejects an empty guild list.
func requireGuilds(ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		out = append(out, config.SplitList(id)...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --guild is required")
	}
	return out, nil
}
