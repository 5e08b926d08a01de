package consumer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/danmuck/nsqwire/internal/lookupd"
	"github.com/danmuck/nsqwire/internal/observability"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDiscovery    = errors.New("consumer: discovery failed")
	ErrLookupClosed = errors.New("consumer: lookup closed")
)

// ProducerAddress identifies one nsqd TCP endpoint. It is comparable and is
// used as the Lookup's map key.
type ProducerAddress struct {
	Host string
	Port int
}

func (a ProducerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ProducerSource lists the producers of a topic. *lookupd.Client satisfies it.
type ProducerSource interface {
	Addr() string
	Producers(ctx context.Context, topic string) ([]lookupd.Producer, error)
}

// Subscriber is what a Lookup keeps per producer.
type Subscriber interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

type SubscriberFactory func(addr ProducerAddress) Subscriber

// Lookup keeps one Subscriber per producer nsqlookupd reports for topic,
// re-polling every interval.
type Lookup struct {
	source   ProducerSource
	topic    string
	interval time.Duration
	clock    clock.Clock
	newSub   SubscriberFactory
	log      zerolog.Logger

	// pollMu serializes polls with each other and with Close.
	pollMu sync.Mutex
	mu     sync.Mutex
	conns  map[ProducerAddress]Subscriber
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

type LookupOption func(*Lookup)

func WithLookupClock(clk clock.Clock) LookupOption {
	return func(l *Lookup) {
		l.clock = clk
	}
}

func NewLookup(source ProducerSource, topic string, interval time.Duration, factory SubscriberFactory, opts ...LookupOption) *Lookup {
	l := &Lookup{
		source:   source,
		topic:    topic,
		interval: interval,
		clock:    clock.New(),
		newSub:   factory,
		log: logging.For("lookup").With().
			Str("lookupd", source.Addr()).
			Str("topic", topic).
			Logger(),
		conns: make(map[ProducerAddress]Subscriber),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open runs the first poll and starts the refresh loop. Only a failed
// discovery query fails Open; producers that cannot be reached yet are
// retried on the next poll.
func (l *Lookup) Open(ctx context.Context) error {
	if err := l.Poll(ctx); err != nil {
		if errors.Is(err, ErrDiscovery) || errors.Is(err, ErrLookupClosed) {
			return err
		}
		l.log.Warn().Err(err).Msg("initial poll incomplete")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLookupClosed
	}
	if l.done != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(loopCtx, l.done)
	return nil
}

func (l *Lookup) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := l.clock.Ticker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Poll(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn().Err(err).Msg("poll failed")
			}
		}
	}
}

// Poll queries the source once and reconciles the open subscribers: removed
// producers are closed and new ones opened, concurrently. Producers present
// before and after keep their Subscriber.
func (l *Lookup) Poll(ctx context.Context) error {
	l.pollMu.Lock()
	defer l.pollMu.Unlock()

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrLookupClosed
	}

	producers, err := l.source.Producers(ctx, l.topic)
	if err != nil {
		observability.RecordLookupPoll(l.source.Addr(), l.topic, "error")
		return fmt.Errorf("%w: %s: %v", ErrDiscovery, l.source.Addr(), err)
	}
	want := make(map[ProducerAddress]struct{}, len(producers))
	for _, p := range producers {
		host := p.Host()
		if host == "" || p.TCPPort <= 0 {
			l.log.Warn().Interface("producer", p).Msg("skipping producer without address")
			continue
		}
		want[ProducerAddress{Host: host, Port: p.TCPPort}] = struct{}{}
	}

	l.mu.Lock()
	var stale []Subscriber
	for addr, sub := range l.conns {
		if _, ok := want[addr]; !ok {
			stale = append(stale, sub)
			delete(l.conns, addr)
		}
	}
	var fresh []ProducerAddress
	for addr := range want {
		if _, ok := l.conns[addr]; !ok {
			fresh = append(fresh, addr)
		}
	}
	l.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  error
		g     errgroup.Group
	)
	record := func(err error) {
		errMu.Lock()
		errs = multierr.Append(errs, err)
		errMu.Unlock()
	}
	for _, sub := range stale {
		g.Go(func() error {
			if err := sub.Close(ctx); err != nil {
				record(err)
			}
			return nil
		})
	}
	for _, addr := range fresh {
		g.Go(func() error {
			sub := l.newSub(addr)
			if err := sub.Open(ctx); err != nil {
				_ = sub.Close(context.Background())
				record(fmt.Errorf("consumer: open %s: %w", addr, err))
				return nil
			}
			l.mu.Lock()
			l.conns[addr] = sub
			l.mu.Unlock()
			l.log.Info().Str("producer", addr.String()).Msg("producer added")
			return nil
		})
	}
	_ = g.Wait()

	if len(stale) > 0 {
		l.log.Info().Int("removed", len(stale)).Msg("producers removed")
	}
	result := "ok"
	if errs != nil {
		result = "partial"
	}
	observability.RecordLookupPoll(l.source.Addr(), l.topic, result)
	observability.SetLookupProducers(l.source.Addr(), l.topic, len(l.Connections()))
	return errs
}

// Connections returns a snapshot of the current subscribers by address.
func (l *Lookup) Connections() map[ProducerAddress]Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[ProducerAddress]Subscriber, len(l.conns))
	for addr, sub := range l.conns {
		out[addr] = sub
	}
	return out
}

// Close stops the refresh loop, waits for it, then closes every subscriber.
func (l *Lookup) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	// wait out a Poll started directly by a caller
	l.pollMu.Lock()
	l.mu.Lock()
	subs := make([]Subscriber, 0, len(l.conns))
	for _, sub := range l.conns {
		subs = append(subs, sub)
	}
	l.conns = make(map[ProducerAddress]Subscriber)
	l.mu.Unlock()
	l.pollMu.Unlock()

	err := closeAll(ctx, subs)
	observability.SetLookupProducers(l.source.Addr(), l.topic, 0)
	l.log.Debug().Int("closed", len(subs)).Msg("lookup closed")
	return err
}

// closeAll closes every subscriber concurrently and joins their errors.
func closeAll(ctx context.Context, subs []Subscriber) error {
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for _, sub := range subs {
		g.Go(func() error {
			if err := sub.Close(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
