package session

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/nsqwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	testlog.Start(t)
	cfg := Config{WriteTimeout: 3 * time.Second}.WithDefaults()
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout, "set fields are kept")
	assert.Equal(t, time.Second, cfg.Backoff.Delay)
	assert.NotZero(t, cfg.Limits.MaxFrameBytes)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
}

func TestIdentifyRoundTrip(t *testing.T) {
	testlog.Start(t)
	id := NewIdentify(Config{Hostname: "worker-3.dc1.example", UserAgent: "test/1"})
	assert.Equal(t, "worker-3", id.ClientID)

	body, err := id.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"feature_negotiation":false`)

	got, err := DecodeIdentify(body)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestIdentifyValidate(t *testing.T) {
	testlog.Start(t)
	assert.ErrorIs(t, Identify{Hostname: "h"}.Validate(), ErrInvalidIdentify)
	assert.ErrorIs(t, Identify{ClientID: "c", Hostname: "h", FeatureNegotiation: true}.Validate(), ErrInvalidIdentify)
	assert.NoError(t, Identify{ClientID: "c", Hostname: "h"}.Validate())
}

func stubHostname(t *testing.T, fn func() (string, error)) {
	t.Helper()
	prev := osHostname
	osHostname = fn
	t.Cleanup(func() { osHostname = prev })
}

func TestIdentifyHostnameLookupFailure(t *testing.T) {
	testlog.Start(t)
	stubHostname(t, func() (string, error) { return "", errors.New("no hostname") })

	id := NewIdentify(Config{})
	assert.Equal(t, UnknownHostname, id.Hostname)
	assert.Equal(t, UnknownHostname, id.ClientID)
	_, err := id.Encode()
	require.NoError(t, err, "handshake must still be encodable")

	id = NewIdentify(Config{ClientID: "worker-9"})
	assert.Equal(t, "worker-9", id.Hostname)
	assert.Equal(t, "worker-9", id.ClientID)
	require.NoError(t, id.Validate())
}

func TestIdentifyUsesLocalHostname(t *testing.T) {
	testlog.Start(t)
	stubHostname(t, func() (string, error) { return "box.lan", nil })
	id := NewIdentify(Config{})
	assert.Equal(t, "box.lan", id.Hostname)
	assert.Equal(t, "box", id.ClientID)
}
