package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/nsqwire/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
topic = "events"
channel = "archive#ephemeral"
max_in_flight = 25
nsqd_tcp_addresses = [" 127.0.0.1:4150 ", ""]
lookupd_http_addresses = ["http://lookupd:4161"]
lookup_interval_ms = 15000
backoff_delay_ms = 250
client_id = "worker-1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "events", cfg.Topic)
	assert.Equal(t, "archive#ephemeral", cfg.Channel)
	assert.Equal(t, 25, cfg.MaxInFlight)
	assert.Equal(t, []string{"127.0.0.1:4150"}, cfg.NSQDAddresses)
	assert.Equal(t, 15*time.Second, cfg.LookupInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Backoff.Delay)
	assert.Equal(t, "worker-1", cfg.Session.ClientID)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Session.DialTimeout)
	assert.NotZero(t, cfg.Session.Limits.MaxFrameBytes)

	rc := cfg.Reader()
	assert.Equal(t, "events", rc.Topic)
	assert.Equal(t, 25, rc.MaxInFlight)
	assert.Len(t, rc.LookupdAddresses, 1)
}

func TestOverlayKeepsFlagsForUndefinedKeys(t *testing.T) {
	path := writeConfig(t, `channel = "archive"`)
	cfg := DefaultClientConfig()
	cfg.Topic = "from-flag"
	cfg.MaxInFlight = 7
	require.NoError(t, Overlay(path, &cfg))
	assert.Equal(t, "from-flag", cfg.Topic)
	assert.Equal(t, 7, cfg.MaxInFlight)
	assert.Equal(t, "archive", cfg.Channel)
}

func TestLoadRejectsInvalidTopic(t *testing.T) {
	path := writeConfig(t, `topic = "bad topic"`)
	_, err := Load(path)
	assert.ErrorIs(t, err, protocol.ErrInvalidName)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `max_inflight = 3`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_inflight")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestTemplateLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsqctl.toml")
	require.NoError(t, WriteTemplate(path, false))
	assert.Error(t, WriteTemplate(path, false), "expected refusal to overwrite")
	require.NoError(t, WriteTemplate(path, true))

	var raw fileConfig
	_, err := toml.DecodeFile(path, &raw)
	require.NoError(t, err, "template is not valid toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "events", cfg.Topic)
	assert.Equal(t, 10, cfg.MaxInFlight)
}
