package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/nsqwire/internal/config"
	"github.com/danmuck/nsqwire/internal/producer"
	"github.com/spf13/cobra"
)

func pubCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		topic      string
		delay      time.Duration
		multi      bool
	)

	cmd := &cobra.Command{
		Use:   "pub BODY...",
		Short: "Publish messages to a topic",
		Long: `Publish each BODY argument as one message.

Examples:
  nsqctl pub --nsqd-tcp-address 127.0.0.1:4150 --topic events hello world
  nsqctl pub --nsqd-tcp-address 127.0.0.1:4150 --topic events --delay 30s later
  nsqctl pub --nsqd-tcp-address 127.0.0.1:4150 --topic events --multi a b c`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultClientConfig()
			if configPath != "" {
				if err := config.Overlay(configPath, &cfg); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("topic") {
				cfg.Topic = topic
			}
			if cmd.Flags().Changed("nsqd-tcp-address") {
				cfg.NSQDAddresses = []string{addr}
			}
			if cfg.Topic == "" {
				return errors.New("--topic is required")
			}
			if len(cfg.NSQDAddresses) == 0 {
				return errors.New("--nsqd-tcp-address is required")
			}
			if multi && delay > 0 {
				return errors.New("--multi and --delay cannot be combined")
			}
			return runPub(cmd.Context(), cmd, cfg, delay, multi, args)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "TOML config file (flags override it)")
	cmd.Flags().StringVar(&addr, "nsqd-tcp-address", "", "nsqd TCP address")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic to publish to")
	cmd.Flags().DurationVar(&delay, "delay", 0, "defer delivery by this long (DPUB)")
	cmd.Flags().BoolVar(&multi, "multi", false, "send all bodies in one MPUB")

	return cmd
}

func runPub(ctx context.Context, cmd *cobra.Command, cfg config.ClientConfig, delay time.Duration, multi bool, bodies []string) error {
	w, err := producer.NewWriter(cfg.NSQDAddresses[0], cfg.Topic, cfg.Session)
	if err != nil {
		return err
	}
	if err := w.Open(ctx); err != nil {
		return err
	}
	defer w.Close(context.Background())

	if multi {
		batch := make([][]byte, 0, len(bodies))
		for _, b := range bodies {
			batch = append(batch, []byte(b))
		}
		if err := w.MultiPublish(ctx, batch); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d messages to %s\n", len(bodies), cfg.Topic)
		return nil
	}

	for _, b := range bodies {
		if delay > 0 {
			err = w.DeferredPublish(ctx, delay, []byte(b))
		} else {
			err = w.Publish(ctx, []byte(b))
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d messages to %s\n", len(bodies), cfg.Topic)
	return nil
}
