package consumer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/nsqwire/internal/conn"
	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/danmuck/nsqwire/internal/lookupd"
	"github.com/danmuck/nsqwire/internal/protocol/session"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoAddresses  = errors.New("consumer: no nsqd or lookupd addresses")
	ErrReaderClosed = errors.New("consumer: reader closed")
)

const (
	DefaultMaxInFlight    = 1
	DefaultLookupInterval = 60 * time.Second
)

type Config struct {
	Topic            string
	Channel          string
	MaxInFlight      int
	NSQDAddresses    []string
	LookupdAddresses []string
	LookupInterval   time.Duration
	// RequeueDelay is used by Consume when the handler fails.
	RequeueDelay time.Duration
	Session      session.Config
	HTTPClient   *http.Client
}

func (c Config) WithDefaults() Config {
	if c.MaxInFlight == 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.LookupInterval <= 0 {
		c.LookupInterval = DefaultLookupInterval
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) subscription() SubscriptionConfig {
	return SubscriptionConfig{Topic: c.Topic, Channel: c.Channel, MaxInFlight: c.MaxInFlight}
}

func (c Config) Validate() error {
	if err := c.subscription().Validate(); err != nil {
		return err
	}
	if len(c.NSQDAddresses) == 0 && len(c.LookupdAddresses) == 0 {
		return ErrNoAddresses
	}
	return nil
}

type ReaderOption func(*Reader)

// WithClock drives reconnect backoff and lookup refresh from clk.
func WithClock(clk clock.Clock) ReaderOption {
	return func(r *Reader) {
		r.clock = clk
	}
}

// Reader merges messages from static nsqd addresses and from producers
// discovered through nsqlookupd into one stream.
type Reader struct {
	cfg     Config
	clock   clock.Clock
	queue   *Queue
	subs    []*Subscription
	lookups []*Lookup
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func NewReader(cfg Config, opts ...ReaderOption) (*Reader, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Reader{
		cfg:   cfg,
		clock: clock.New(),
		queue: NewQueue(),
		log: logging.For("reader").With().
			Str("topic", cfg.Topic).
			Str("channel", cfg.Channel).
			Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, addr := range cfg.NSQDAddresses {
		r.subs = append(r.subs, r.newSubscription(addr))
	}
	for _, addr := range cfg.LookupdAddresses {
		client, err := lookupd.New(addr, cfg.HTTPClient)
		if err != nil {
			return nil, err
		}
		factory := func(p ProducerAddress) Subscriber {
			return r.newSubscription(p.String())
		}
		r.lookups = append(r.lookups, NewLookup(client, cfg.Topic, cfg.LookupInterval, factory, WithLookupClock(r.clock)))
	}
	return r, nil
}

func (r *Reader) newSubscription(addr string) *Subscription {
	return NewSubscription(addr, r.cfg.subscription(), r.cfg.Session, r.queue, conn.WithClock(r.clock))
}

// Open connects every static address and starts every lookup concurrently.
// If any of them fails, everything is closed and the first error returned.
func (r *Reader) Open(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range r.subs {
		g.Go(func() error {
			return sub.Open(gctx)
		})
	}
	for _, l := range r.lookups {
		g.Go(func() error {
			return l.Open(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := r.Close(context.Background()); cerr != nil {
			r.log.Debug().Err(cerr).Msg("close after failed open")
		}
		return err
	}
	r.log.Info().
		Int("nsqd", len(r.subs)).
		Int("lookupd", len(r.lookups)).
		Int("max_in_flight", r.cfg.MaxInFlight).
		Msg("reader open")
	return nil
}

// Next returns the next message, or the next error a connection reported.
// An error from a connection does not stop the Reader.
func (r *Reader) Next(ctx context.Context) (*conn.Message, error) {
	d, err := r.queue.Pop(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return nil, ErrReaderClosed
	}
	if err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Message, nil
}

// Consume hands messages to fn until ctx is done or the Reader closes. A nil return finishes the
// message, an error requeues it. Connection errors are logged.
func (r *Reader) Consume(ctx context.Context, fn func(*conn.Message) error) error {
	for {
		msg, err := r.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrReaderClosed) {
				return err
			}
			r.log.Warn().Err(err).Msg("stream error")
			continue
		}
		if herr := fn(msg); herr != nil {
			r.log.Debug().Err(herr).Str("id", msg.ID.String()).Msg("handler failed, requeueing")
			if !msg.HasResponded() {
				if err := msg.Requeue(r.cfg.RequeueDelay); err != nil {
					r.log.Warn().Err(err).Msg("requeue failed")
				}
			}
			continue
		}
		if !msg.HasResponded() {
			if err := msg.Finish(); err != nil {
				r.log.Warn().Err(err).Msg("finish failed")
			}
		}
	}
}

// Close closes every subscription and lookup concurrently, then lets Next
// drain what is already queued before it returns ErrReaderClosed. It is
// idempotent.
func (r *Reader) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}
	for _, sub := range r.subs {
		g.Go(func() error {
			record(sub.Close(ctx))
			return nil
		})
	}
	for _, l := range r.lookups {
		g.Go(func() error {
			record(l.Close(ctx))
			return nil
		})
	}
	_ = g.Wait()
	r.queue.Close()
	if errs != nil {
		return fmt.Errorf("consumer: close: %w", errs)
	}
	return nil
}

// Pending reports how many deliveries are queued but not yet taken by Next.
func (r *Reader) Pending() int {
	return r.queue.Len()
}
