package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/nsqwire/internal/config"
	"github.com/danmuck/nsqwire/internal/conn"
	"github.com/danmuck/nsqwire/internal/consumer"
	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/spf13/cobra"
)

type tailOptions struct {
	configPath  string
	topic       string
	channel     string
	nsqd        []string
	lookupd     []string
	maxInFlight int
	metricsAddr string
	count       int
}

func tailCmd() *cobra.Command {
	var opts tailOptions

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print messages from a topic",
		Long: `Subscribe to a topic/channel and print each message body, finishing it
once printed.

Examples:
  nsqctl tail --topic events --channel tail#ephemeral --nsqd-tcp-address 127.0.0.1:4150
  nsqctl tail --config nsqctl.toml --lookupd-http-address 127.0.0.1:4161`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveClientConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, cmd, cfg, opts.count)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "TOML config file (flags override it)")
	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "", "topic to consume")
	cmd.Flags().StringVarP(&opts.channel, "channel", "c", "nsqctl#ephemeral", "channel to consume")
	cmd.Flags().StringArrayVar(&opts.nsqd, "nsqd-tcp-address", nil, "nsqd TCP address (repeatable)")
	cmd.Flags().StringArrayVar(&opts.lookupd, "lookupd-http-address", nil, "nsqlookupd HTTP address (repeatable)")
	cmd.Flags().IntVar(&opts.maxInFlight, "max-in-flight", consumer.DefaultMaxInFlight, "RDY count per connection")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "exit after n messages (0 runs until interrupted)")

	return cmd
}

// resolveClientConfig layers explicitly set flags over the config file.
func resolveClientConfig(cmd *cobra.Command, opts tailOptions) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	cfg.Channel = opts.channel
	if opts.configPath != "" {
		if err := config.Overlay(opts.configPath, &cfg); err != nil {
			return config.ClientConfig{}, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("topic") {
		cfg.Topic = opts.topic
	}
	if flags.Changed("channel") {
		cfg.Channel = opts.channel
	}
	if flags.Changed("nsqd-tcp-address") {
		cfg.NSQDAddresses = opts.nsqd
	}
	if flags.Changed("lookupd-http-address") {
		cfg.LookupdAddresses = opts.lookupd
	}
	if flags.Changed("max-in-flight") {
		cfg.MaxInFlight = opts.maxInFlight
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if cfg.Topic == "" {
		return config.ClientConfig{}, errors.New("--topic is required")
	}
	return cfg, nil
}

func runTail(ctx context.Context, cmd *cobra.Command, cfg config.ClientConfig, count int) error {
	log := logging.For("nsqctl")

	if cfg.MetricsAddr != "" {
		stopMetrics, err := serveMetrics(cfg.MetricsAddr, log)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	reader, err := consumer.NewReader(cfg.Reader())
	if err != nil {
		return err
	}
	if err := reader.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reader.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("reader close")
		}
	}()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := cmd.OutOrStdout()
	seen := 0
	err = reader.Consume(consumeCtx, func(m *conn.Message) error {
		if _, err := fmt.Fprintln(out, string(m.Body)); err != nil {
			return err
		}
		seen++
		if count > 0 && seen >= count {
			cancel()
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
