package main

import (
	"fmt"
	"os"

	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logging.ConfigureRuntime()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nsqctl: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nsqctl",
		Short:         "Tail and publish to NSQ topics",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		tailCmd(),
		pubCmd(),
		configCmd(),
	)
	return root
}
