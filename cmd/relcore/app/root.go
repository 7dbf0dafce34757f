package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kvnovik/relcore/src/app"
	"github.com/kvnovik/relcore/src/cli"
)

var rootCmd = cli.Init("relcore")

func MustExecute(ctx context.Context) {
	initDemo()
	rootCmd.MustExecute(ctx)
}

func initDemo() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "demo",
		Short: "Runs a scripted workload against a fresh buffer pool and B+-tree index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), &app.RelcoreEntrypoint{ConfigPath: rootCmd.Options.ConfigPath})
		},
	})
}
