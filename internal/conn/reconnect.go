package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/danmuck/nsqwire/internal/observability"
	"github.com/danmuck/nsqwire/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Hooks let a layer above Reconnecting restore state on every fresh Conn.
type Hooks struct {
	// OnOpen runs after each successful handshake, before the Conn becomes
	// current. An error discards the Conn.
	OnOpen func(ctx context.Context, c *Conn) error
	// BeforeClose runs once on the current Conn during the final Close.
	BeforeClose func(ctx context.Context, c *Conn)
}

type Option func(*Reconnecting)

func WithClock(clk clock.Clock) Option {
	return func(r *Reconnecting) {
		r.clock = clk
	}
}

func WithHooks(h Hooks) Option {
	return func(r *Reconnecting) {
		r.hooks = h
	}
}

// Reconnecting keeps one Conn to addr alive. When the peer drops the
// connection it tears the old Conn down, waits the fixed backoff delay, and
// opens a fresh Conn, repeating until Close.
type Reconnecting struct {
	addr     string
	cfg      session.Config
	handlers Handlers
	hooks    Hooks
	clock    clock.Clock
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	cur    *Conn
	closed bool
}

func NewReconnecting(addr string, cfg session.Config, handlers Handlers, opts ...Option) *Reconnecting {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconnecting{
		addr:     addr,
		cfg:      cfg.WithDefaults(),
		handlers: handlers,
		clock:    clock.New(),
		log:      logging.For("reconnect").With().Str("addr", addr).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconnecting) Addr() string {
	return r.addr
}

// Open establishes the first Conn. A failure here is returned, not retried.
func (r *Reconnecting) Open(ctx context.Context) error {
	c, err := r.dial(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = c.Close()
		return ErrClosed
	}
	r.setCurrentLocked(c)
	r.mu.Unlock()
	return nil
}

// Current returns the live Conn, or ErrNotConnected while reconnecting.
func (r *Reconnecting) Current() (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.cur == nil {
		return nil, ErrNotConnected
	}
	return r.cur, nil
}

func (r *Reconnecting) Pub(ctx context.Context, topic string, body []byte) error {
	c, err := r.Current()
	if err != nil {
		return err
	}
	return c.Pub(ctx, topic, body)
}

func (r *Reconnecting) DPub(ctx context.Context, topic string, delay time.Duration, body []byte) error {
	c, err := r.Current()
	if err != nil {
		return err
	}
	return c.DPub(ctx, topic, delay, body)
}

func (r *Reconnecting) MPub(ctx context.Context, topic string, bodies [][]byte) error {
	c, err := r.Current()
	if err != nil {
		return err
	}
	return c.MPub(ctx, topic, bodies)
}

// Close stops reconnecting, waits for an in-flight reconnect to unwind, then
// runs BeforeClose and closes the current Conn. It is idempotent.
func (r *Reconnecting) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	c := r.cur
	r.cur = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	if c == nil {
		return nil
	}
	if r.hooks.BeforeClose != nil {
		r.hooks.BeforeClose(ctx, c)
	}
	return c.Close()
}

func (r *Reconnecting) dial(ctx context.Context) (*Conn, error) {
	var c *Conn
	h := r.handlers
	h.OnDrop = func(err error) {
		if r.handlers.OnDrop != nil {
			r.handlers.OnDrop(err)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.startReconnectLocked(c)
	}
	c = New(r.addr, r.cfg, h)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	if r.hooks.OnOpen != nil {
		if err := r.hooks.OnOpen(ctx, c); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// setCurrentLocked installs c. A Conn that dropped before it became current
// never had its drop handled, so the reconnect starts here instead.
func (r *Reconnecting) setCurrentLocked(c *Conn) {
	r.cur = c
	if errors.Is(c.Err(), ErrConnectionDropped) {
		r.startReconnectLocked(c)
	}
}

func (r *Reconnecting) startReconnectLocked(c *Conn) {
	if r.closed || r.cur != c {
		return
	}
	r.cur = nil
	r.wg.Add(1)
	go r.reconnect(c)
}

func (r *Reconnecting) reconnect(old *Conn) {
	defer r.wg.Done()
	_ = old.Close()

	for attempt := 1; ; attempt++ {
		if !r.sleep(r.cfg.Backoff.Delay) {
			return
		}
		c, err := r.dial(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.log.Warn().Int("attempt", attempt).Err(err).Msg("reconnect failed")
			continue
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = c.Close()
			return
		}
		r.setCurrentLocked(c)
		r.mu.Unlock()

		observability.RecordConnEvent(r.addr, "reconnect")
		r.log.Info().Int("attempt", attempt).Msg("reconnected")
		return
	}
}

func (r *Reconnecting) sleep(d time.Duration) bool {
	t := r.clock.Timer(d)
	defer t.Stop()
	select {
	case <-r.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
