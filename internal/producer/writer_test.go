package producer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/nsqwire/internal/conn"
	"github.com/danmuck/nsqwire/internal/protocol"
	"github.com/danmuck/nsqwire/internal/protocol/frame"
	"github.com/danmuck/nsqwire/internal/protocol/session"
	"github.com/danmuck/nsqwire/internal/testutil/fakensqd"
	"github.com/danmuck/nsqwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func openWriter(t *testing.T, srv *fakensqd.Server) (*Writer, *fakensqd.Client) {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Backoff.Delay = 20 * time.Millisecond
	w, err := NewWriter(srv.Addr(), "events", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	require.NoError(t, w.Open(context.Background()))
	peer := srv.Accept(t, waitFor)
	peer.Expect(t, "IDENTIFY", waitFor)
	return w, peer
}

func TestNewWriterRejectsInvalidTopic(t *testing.T) {
	testlog.Start(t)
	_, err := NewWriter("127.0.0.1:4150", "no/slashes", session.DefaultConfig())
	assert.ErrorIs(t, err, protocol.ErrInvalidName)
}

func TestWriterPublish(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)
	w, peer := openWriter(t, srv)

	require.NoError(t, w.Publish(context.Background(), []byte("hello")))
	cmd := peer.Expect(t, "PUB", waitFor)
	assert.Equal(t, []string{"events"}, cmd.Params)
	assert.Equal(t, "hello", string(cmd.Body))
}

func TestWriterDeferredPublishUsesMilliseconds(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)
	w, peer := openWriter(t, srv)

	require.NoError(t, w.DeferredPublish(context.Background(), 1500*time.Millisecond, []byte("later")))
	cmd := peer.Expect(t, "DPUB", waitFor)
	assert.Equal(t, []string{"events", "1500"}, cmd.Params)
	assert.Equal(t, "later", string(cmd.Body))
}

func TestWriterMultiPublish(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)
	w, peer := openWriter(t, srv)

	require.NoError(t, w.MultiPublish(context.Background(), [][]byte{[]byte("a"), []byte("bc")}))
	cmd := peer.Expect(t, "MPUB", waitFor)
	body := cmd.Body
	require.Len(t, body, 4+4+1+4+2)
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(body[0:4]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(body[4:8]))
	assert.Equal(t, "a", string(body[8:9]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(body[9:13]))
	assert.Equal(t, "bc", string(body[13:15]))

	assert.ErrorIs(t, w.MultiPublish(context.Background(), nil), protocol.ErrEmptyBody)
}

func TestWriterPublishServerError(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)
	srv.SetResponder(func(cmd frame.Command) (frame.Frame, bool) {
		if cmd.Name == "PUB" {
			return fakensqd.Error("E_BAD_MESSAGE PUB message too big"), true
		}
		return fakensqd.DefaultResponder(cmd)
	})
	w, _ := openWriter(t, srv)

	err := w.Publish(context.Background(), []byte("big"))
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "E_BAD_MESSAGE", perr.Code)
}

func TestWriterRepublishesAfterReconnect(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)
	w, first := openWriter(t, srv)

	first.Close()
	second := srv.Accept(t, waitFor)
	second.Expect(t, "IDENTIFY", waitFor)

	require.Eventually(t, func() bool {
		return w.Publish(context.Background(), []byte("back")) == nil
	}, waitFor, 10*time.Millisecond)
	second.Expect(t, "PUB", waitFor)
}

func TestWriterClosedRejectsPublish(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)
	w, _ := openWriter(t, srv)
	require.NoError(t, w.Close(context.Background()))
	assert.ErrorIs(t, w.Publish(context.Background(), []byte("x")), conn.ErrClosed)
}
