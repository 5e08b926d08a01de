package conn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/nsqwire/internal/protocol/session"
	"github.com/danmuck/nsqwire/internal/testutil/fakensqd"
	"github.com/danmuck/nsqwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectingReopensAfterDrop(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)

	cfg := session.DefaultConfig()
	cfg.Backoff.Delay = 20 * time.Millisecond
	var opens, drops atomic.Int32
	r := NewReconnecting(srv.Addr(), cfg, Handlers{
		OnDrop: func(error) { drops.Add(1) },
	}, WithHooks(Hooks{
		OnOpen: func(ctx context.Context, c *Conn) error {
			opens.Add(1)
			return nil
		},
	}))
	defer r.Close(context.Background())

	require.NoError(t, r.Open(context.Background()))
	first := srv.Accept(t, waitFor)
	before, err := r.Current()
	require.NoError(t, err)

	first.Close()
	second := srv.Accept(t, waitFor)
	second.Expect(t, "IDENTIFY", waitFor)

	require.Eventually(t, func() bool {
		c, err := r.Current()
		return err == nil && c != before && c.IsReady()
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, int32(2), opens.Load())
	assert.Equal(t, int32(1), drops.Load())

	require.NoError(t, r.Pub(context.Background(), "events", []byte("after reconnect")))
	second.Expect(t, "PUB", waitFor)
}

func TestReconnectingWaitsForFixedBackoff(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)

	mock := clock.NewMock()
	cfg := session.DefaultConfig()
	cfg.Backoff.Delay = 5 * time.Second
	r := NewReconnecting(srv.Addr(), cfg, Handlers{}, WithClock(mock))
	defer r.Close(context.Background())

	require.NoError(t, r.Open(context.Background()))
	first := srv.Accept(t, waitFor)
	first.Close()

	require.Eventually(t, func() bool {
		_, err := r.Current()
		return err == ErrNotConnected
	}, waitFor, 10*time.Millisecond)

	_, ok := srv.TryAccept(100 * time.Millisecond)
	assert.False(t, ok, "reconnect must wait for the backoff delay")

	var second *fakensqd.Client
	require.Eventually(t, func() bool {
		mock.Add(cfg.Backoff.Delay)
		c, ok := srv.TryAccept(20 * time.Millisecond)
		second = c
		return ok
	}, waitFor, 10*time.Millisecond)
	second.Expect(t, "IDENTIFY", waitFor)
}

func TestReconnectingCloseStopsReconnectLoop(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)

	mock := clock.NewMock()
	var closes atomic.Int32
	r := NewReconnecting(srv.Addr(), session.DefaultConfig(), Handlers{}, WithClock(mock), WithHooks(Hooks{
		BeforeClose: func(ctx context.Context, c *Conn) { closes.Add(1) },
	}))

	require.NoError(t, r.Open(context.Background()))
	srv.Accept(t, waitFor).Close()
	require.Eventually(t, func() bool {
		_, err := r.Current()
		return err == ErrNotConnected
	}, waitFor, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Close(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		require.FailNow(t, "close blocked on reconnect loop")
	}
	require.NoError(t, r.Close(context.Background()))

	_, err := r.Current()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int32(0), closes.Load(), "no live conn to run BeforeClose on")
	_, ok := srv.TryAccept(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestReconnectingOpenFailureIsReturned(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)
	addr := srv.Addr()
	srv.Close()

	r := NewReconnecting(addr, session.DefaultConfig(), Handlers{})
	defer r.Close(context.Background())
	require.Error(t, r.Open(context.Background()))
	_, err := r.Current()
	assert.ErrorIs(t, err, ErrNotConnected)
}
