package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "regscout-cli",
	Short: "Search business-entity registries from the command line",
	Long: `regscout-cli runs registry searches in-process with a local browser, without
the HTTP server. Configuration is read from the same REGSCOUT_* environment
variables as the server; flags override them.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd.AddCommand(searchCmd, probeCmd)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
