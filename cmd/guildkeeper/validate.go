package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/guildkeeper/internal/blueprint"
	"github.com/szaher/guildkeeper/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [blueprint]",
		Short: "Check a blueprint for structural errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := blueprintPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = os.Getenv(config.EnvBlueprint)
			}
			bp, err := blueprint.Load(path)
			if err != nil {
				return err
			}
			roles, categories, channels := bp.Counts()
			name := path
			if name == "" {
				name = "built-in blueprint"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d roles, %d categories, %d channels)\n",
				name, roles, categories, channels)
			return nil
		},
	}
}
