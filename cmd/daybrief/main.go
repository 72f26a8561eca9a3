package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/daybrief/daybrief/internal/interfaces/cli/migrate"
	"github.com/daybrief/daybrief/internal/interfaces/cli/server"
	"github.com/daybrief/daybrief/internal/interfaces/cli/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daybrief",
		Short: "Daybrief entitlement service",
		Long:  `Daybrief entitlement service: reconciles premium entitlement verdicts across the local cache, the purchase ledger, and the platform store.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		worker.NewCommand(),
		migrate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
