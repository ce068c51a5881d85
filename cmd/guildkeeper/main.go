// Package main is the entry point for the guildkeeper CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/guildkeeper/internal/config"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	envFile       string
	blueprintPath string
	stateBackend  string
	stateFile     string
	logLevel      string
	logFormat     string
	eventsFile    string
	correlationID string
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guildkeeper",
		Short: "Declarative Discord server setup",
		Long: `guildkeeper provisions the roles, categories and channels described by a
blueprint into Discord servers. It records what it created, adopts entities
that already exist, and only ever creates what is missing, so it can be
re-run safely after partial failures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	root.PersistentFlags().StringVar(&blueprintPath, "blueprint", "", "Blueprint file (.json, .yaml); default is the built-in blueprint")
	root.PersistentFlags().StringVar(&stateBackend, "state-backend", "", "State backend: file, memory, postgres, s3 or etcd")
	root.PersistentFlags().StringVar(&stateFile, "state-file", "", "Path to the state file (file backend)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json or text")
	root.PersistentFlags().StringVar(&eventsFile, "events", "", "Append lifecycle events as JSON lines to this file")
	root.PersistentFlags().StringVar(&correlationID, "correlation-id", "", "Set explicit correlation ID")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newServeCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
