package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/nsqwire/internal/consumer"
	"github.com/danmuck/nsqwire/internal/protocol"
	"github.com/danmuck/nsqwire/internal/protocol/session"
)

// nsqctl config.toml key mapping to client settings.
type fileConfig struct {
	Topic            string   `toml:"topic"`
	Channel          string   `toml:"channel"`
	MaxInFlight      int      `toml:"max_in_flight"`
	NSQDAddresses    []string `toml:"nsqd_tcp_addresses"`
	LookupdAddresses []string `toml:"lookupd_http_addresses"`
	LookupIntervalMS int64    `toml:"lookup_interval_ms"`
	RequeueDelayMS   int64    `toml:"requeue_delay_ms"`
	MetricsAddr      string   `toml:"metrics_addr"`
	DialTimeoutMS    int64    `toml:"dial_timeout_ms"`
	WriteTimeoutMS   int64    `toml:"write_timeout_ms"`
	BackoffDelayMS   int64    `toml:"backoff_delay_ms"`
	MaxFrameBytes    uint32   `toml:"max_frame_bytes"`
	ClientID         string   `toml:"client_id"`
	Hostname         string   `toml:"hostname"`
	UserAgent        string   `toml:"user_agent"`
}

// ClientConfig is everything nsqctl needs to run a reader or writer.
type ClientConfig struct {
	Topic            string
	Channel          string
	MaxInFlight      int
	NSQDAddresses    []string
	LookupdAddresses []string
	LookupInterval   time.Duration
	RequeueDelay     time.Duration
	MetricsAddr      string
	Session          session.Config
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxInFlight:    consumer.DefaultMaxInFlight,
		LookupInterval: consumer.DefaultLookupInterval,
		Session:        session.DefaultConfig(),
	}
}

// Load reads path and overlays every key it defines onto the defaults.
func Load(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := Overlay(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Overlay applies the keys defined in path to cfg, leaving the rest alone.
func Overlay(path string, cfg *ClientConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load nsqctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load nsqctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("topic") {
		cfg.Topic = strings.TrimSpace(raw.Topic)
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("max_in_flight") {
		cfg.MaxInFlight = raw.MaxInFlight
	}
	if meta.IsDefined("nsqd_tcp_addresses") {
		cfg.NSQDAddresses = trimAll(raw.NSQDAddresses)
	}
	if meta.IsDefined("lookupd_http_addresses") {
		cfg.LookupdAddresses = trimAll(raw.LookupdAddresses)
	}
	if meta.IsDefined("lookup_interval_ms") {
		cfg.LookupInterval = time.Duration(raw.LookupIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("requeue_delay_ms") {
		cfg.RequeueDelay = time.Duration(raw.RequeueDelayMS) * time.Millisecond
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("dial_timeout_ms") {
		cfg.Session.DialTimeout = time.Duration(raw.DialTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("write_timeout_ms") {
		cfg.Session.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("backoff_delay_ms") {
		cfg.Session.Backoff.Delay = time.Duration(raw.BackoffDelayMS) * time.Millisecond
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Session.Limits.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("client_id") {
		cfg.Session.ClientID = strings.TrimSpace(raw.ClientID)
	}
	if meta.IsDefined("hostname") {
		cfg.Session.Hostname = strings.TrimSpace(raw.Hostname)
	}
	if meta.IsDefined("user_agent") {
		cfg.Session.UserAgent = strings.TrimSpace(raw.UserAgent)
	}

	if cfg.MaxInFlight < 0 {
		return fmt.Errorf("load nsqctl config: max_in_flight must be >= 0, got %d", cfg.MaxInFlight)
	}
	if cfg.Topic != "" {
		if err := protocol.ValidateTopicName(cfg.Topic); err != nil {
			return fmt.Errorf("load nsqctl config: %w", err)
		}
	}
	if cfg.Channel != "" {
		if err := protocol.ValidateChannelName(cfg.Channel); err != nil {
			return fmt.Errorf("load nsqctl config: %w", err)
		}
	}
	cfg.Session = cfg.Session.WithDefaults()
	return nil
}

// Reader maps the file settings onto a consumer config.
func (c ClientConfig) Reader() consumer.Config {
	return consumer.Config{
		Topic:            c.Topic,
		Channel:          c.Channel,
		MaxInFlight:      c.MaxInFlight,
		NSQDAddresses:    append([]string(nil), c.NSQDAddresses...),
		LookupdAddresses: append([]string(nil), c.LookupdAddresses...),
		LookupInterval:   c.LookupInterval,
		RequeueDelay:     c.RequeueDelay,
		Session:          c.Session,
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		if v := strings.TrimSpace(raw); v != "" {
			out = append(out, v)
		}
	}
	return out
}
