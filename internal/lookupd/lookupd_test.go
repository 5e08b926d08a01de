package lookupd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/nsqwire/internal/testutil/testlog"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLookupd(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/lookup", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestProducersParsesBroadcastAndLegacyAddress(t *testing.T) {
	testlog.Start(t)
	srv := newLookupd(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("topic") != "events" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"channels":["archive"],"producers":[
			{"broadcast_address":"nsqd-a","address":"ignored","tcp_port":4150},
			{"address":"nsqd-b","tcp_port":4152}
		]}`))
	})

	c, err := New(srv.Listener.Addr().String(), nil)
	require.NoError(t, err)
	got, err := c.Producers(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "nsqd-a", got[0].Host())
	assert.EqualValues(t, 4150, got[0].TCPPort)
	assert.Equal(t, "nsqd-b", got[1].Host())
	assert.EqualValues(t, 4152, got[1].TCPPort)
}

func TestProducersLegacyEnvelope(t *testing.T) {
	testlog.Start(t)
	srv := newLookupd(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status_code":200,"status_txt":"OK","data":{"producers":[{"broadcast_address":"nsqd-c","tcp_port":4150}]}}`))
	})
	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	got, err := c.Producers(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "nsqd-c", got[0].Host())
}

func TestProducersNotFoundIsEmpty(t *testing.T) {
	testlog.Start(t)
	srv := newLookupd(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"TOPIC_NOT_FOUND"}`))
	})
	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	got, err := c.Producers(context.Background(), "events")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestProducersServerErrorFails(t *testing.T) {
	testlog.Start(t)
	srv := newLookupd(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	_, err = c.Producers(context.Background(), "events")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestProducersInvalidJSON(t *testing.T) {
	testlog.Start(t)
	srv := newLookupd(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"producers":`))
	})
	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	_, err = c.Producers(context.Background(), "events")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New("  ", nil)
	assert.ErrorIs(t, err, ErrAddressRequired)
}
