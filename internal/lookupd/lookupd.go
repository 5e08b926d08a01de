// Package lookupd queries an nsqlookupd HTTP endpoint for the producers of a
// topic.
package lookupd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/rs/zerolog"
)

var (
	ErrAddressRequired  = errors.New("lookupd: address required")
	ErrUnexpectedStatus = errors.New("lookupd: unexpected status")
	ErrInvalidResponse  = errors.New("lookupd: invalid response")
)

const defaultTimeout = 5 * time.Second

// Producer is one nsqd entry in a lookup response.
type Producer struct {
	BroadcastAddress string `json:"broadcast_address"`
	Address          string `json:"address"`
	Hostname         string `json:"hostname"`
	TCPPort          int    `json:"tcp_port"`
	HTTPPort         int    `json:"http_port"`
	Version          string `json:"version"`
}

// Host prefers broadcast_address and falls back to the older address key.
func (p Producer) Host() string {
	if h := strings.TrimSpace(p.BroadcastAddress); h != "" {
		return h
	}
	return strings.TrimSpace(p.Address)
}

type lookupResponse struct {
	Producers []Producer `json:"producers"`
	// Legacy nsqlookupd wraps the payload in {"status_code":..,"data":{..}}.
	Data *struct {
		Producers []Producer `json:"producers"`
	} `json:"data"`
}

type Client struct {
	base *url.URL
	addr string
	http *http.Client
	log  zerolog.Logger
}

// New builds a client for addr ("host:port" or a full http(s) URL). A nil
// httpClient gets a default with a 5s timeout.
func New(addr string, httpClient *http.Client) (*Client, error) {
	raw := strings.TrimSpace(addr)
	if raw == "" {
		return nil, ErrAddressRequired
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("lookupd: parse address %q: %w", addr, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		base: base,
		addr: strings.TrimSpace(addr),
		http: httpClient,
		log:  logging.For("lookupd").With().Str("lookupd", addr).Logger(),
	}, nil
}

func (c *Client) Addr() string {
	return c.addr
}

// Producers returns the producers nsqlookupd knows for topic. A 404 means the
// topic has no producers and yields an empty list.
func (c *Client) Producers(ctx context.Context, topic string) ([]Producer, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/lookup"
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.nsq; version=1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.log.Debug().Str("topic", topic).Msg("topic not found")
		return []Producer{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, u.Redacted())
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	producers := body.Producers
	if len(producers) == 0 && body.Data != nil {
		producers = body.Data.Producers
	}
	if producers == nil {
		producers = []Producer{}
	}
	return producers, nil
}
