package main

import (
	"fmt"

	"github.com/danmuck/nsqwire/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check an nsqctl config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write a starting config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate PATH",
		Short: "Load a config and report problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s (topic=%q nsqd=%d lookupd=%d)\n",
				args[0], cfg.Topic, len(cfg.NSQDAddresses), len(cfg.LookupdAddresses))
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
