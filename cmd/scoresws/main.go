package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scoresws/cmd/internal/app"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts app.Options

	run := func(cmd *cobra.Command, _ []string) error {
		return app.Run(cmd.Context(), opts)
	}

	root := &cobra.Command{
		Use:     "scoresws",
		Short:   "scoresws - relay of newly submitted osu! scores over WebSocket",
		Version: app.Version,
		Long: `scoresws polls the osu! scores endpoint and fans every new score out to
connected WebSocket clients. Clients send "connect" or a score id to resume
from, and "disconnect" to receive the id to resume from next time.`,
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config (default $SCORESWS_CONFIG or ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override setup.log (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Run the relay server (default command)",
		Args:    cobra.NoArgs,
		RunE:    run,
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(app.Version)
		},
	})

	root.SetContext(context.Background())
	return root
}
