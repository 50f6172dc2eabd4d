package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

// main wires the CLI. Composition of the engine lives in serve.go; business
// logic lives in internal packages.
func main() {
	rootCmd := &cobra.Command{
		Use:           "ban",
		Short:         "Punishment engine for game servers",
		Long:          "Records bans, mutes, kicks, warnings and notes, and answers enforcement checks over an admin API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
