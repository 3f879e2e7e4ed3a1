// cmd/library/root.go
package main

import (
	"context"

	"github.com/spf13/cobra"

	"libraryhub/internal/config"
)

type appKey struct{}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library management server and tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return appFrom(cmd).Close()
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with configuration overrides")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newUserCmd(),
		newReportCmd(),
		newRelayCmd(),
	)
	return root
}

func appFrom(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}
