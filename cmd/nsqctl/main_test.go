package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/nsqwire/internal/protocol/frame"
	"github.com/danmuck/nsqwire/internal/testutil/fakensqd"
	"github.com/danmuck/nsqwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func execute(args ...string) (string, error) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPubPublishesEachBody(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)

	out, err := execute("pub", "--nsqd-tcp-address", srv.Addr(), "--topic", "events", "one", "two")
	require.NoError(t, err)
	assert.Contains(t, out, "published 2 messages to events")

	peer := srv.Accept(t, waitFor)
	peer.Expect(t, "IDENTIFY", waitFor)
	assert.Equal(t, "one", string(peer.Expect(t, "PUB", waitFor).Body))
	assert.Equal(t, "two", string(peer.Expect(t, "PUB", waitFor).Body))
}

func TestPubMultiSendsOneMPUB(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)

	_, err := execute("pub", "--nsqd-tcp-address", srv.Addr(), "--topic", "events", "--multi", "a", "b", "c")
	require.NoError(t, err)
	peer := srv.Accept(t, waitFor)
	peer.Expect(t, "IDENTIFY", waitFor)
	peer.Expect(t, "MPUB", waitFor)
}

func TestPubRequiresTopic(t *testing.T) {
	testlog.Start(t)
	_, err := execute("pub", "--nsqd-tcp-address", "127.0.0.1:4150", "body")
	assert.Error(t, err, "expected missing topic error")
}

func TestTailPrintsMessagesAndFinishes(t *testing.T) {
	testlog.Start(t)
	srv := fakensqd.Start(t)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := execute("tail", "--nsqd-tcp-address", srv.Addr(), "--topic", "events", "--channel", "tail", "--max-in-flight", "4", "-n", "2")
		done <- result{out, err}
	}()

	peer := srv.Accept(t, waitFor)
	peer.Expect(t, "IDENTIFY", waitFor)
	peer.Expect(t, "SUB", waitFor)
	assert.Equal(t, []string{"4"}, peer.Expect(t, "RDY", waitFor).Params)
	for i, body := range []string{"first", "second"} {
		var id frame.MessageID
		copy(id[:], fmt.Sprintf("%016x", i))
		require.NoError(t, peer.Send(fakensqd.Message(frame.MessagePayload{ID: id, Attempts: 1, Body: []byte(body)})))
	}

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "first\nsecond\n", res.out)
	case <-time.After(waitFor):
		require.FailNow(t, "tail did not exit after -n messages")
	}
	peer.Expect(t, "FIN", waitFor)
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nsqctl.toml")
	_, err := execute("config", "init", path)
	require.NoError(t, err)
	out, err := execute("config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `topic="events"`)
	_, err = execute("config", "init", path)
	assert.Error(t, err, "expected init to refuse overwrite")
}
