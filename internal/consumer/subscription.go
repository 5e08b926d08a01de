package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/nsqwire/internal/conn"
	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/danmuck/nsqwire/internal/observability"
	"github.com/danmuck/nsqwire/internal/protocol"
	"github.com/danmuck/nsqwire/internal/protocol/session"
	"github.com/rs/zerolog"
)

// ErrSourceStopped is delivered when a connection's read loop dies on a
// protocol violation. The subscription is not reconnected.
var ErrSourceStopped = errors.New("consumer: source stopped")

type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SubscriptionConfig is fixed for the life of a Subscription.
type SubscriptionConfig struct {
	Topic       string
	Channel     string
	MaxInFlight int
}

func (c SubscriptionConfig) Validate() error {
	if err := protocol.ValidateTopicName(c.Topic); err != nil {
		return err
	}
	if err := protocol.ValidateChannelName(c.Channel); err != nil {
		return err
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("%w: max in flight %d", protocol.ErrInvalidCount, c.MaxInFlight)
	}
	return nil
}

// Subscription keeps one nsqd subscribed to topic/channel. Every fresh
// connection sends SUB and then RDY once before messages can arrive.
type Subscription struct {
	addr  string
	cfg   SubscriptionConfig
	queue *Queue
	rc    *conn.Reconnecting
	state atomic.Int32
	log   zerolog.Logger
}

func NewSubscription(addr string, cfg SubscriptionConfig, sess session.Config, queue *Queue, opts ...conn.Option) *Subscription {
	s := &Subscription{
		addr:  addr,
		cfg:   cfg,
		queue: queue,
		log: logging.For("subscription").With().
			Str("addr", addr).
			Str("topic", cfg.Topic).
			Str("channel", cfg.Channel).
			Logger(),
	}
	handlers := conn.Handlers{
		OnMessage: s.onMessage,
		OnError:   s.onError,
		OnDrop:    s.onDrop,
	}
	opts = append(opts, conn.WithHooks(conn.Hooks{
		OnOpen:      s.onOpen,
		BeforeClose: s.beforeClose,
	}))
	s.rc = conn.NewReconnecting(addr, sess, handlers, opts...)
	return s
}

func (s *Subscription) Addr() string {
	return s.addr
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

func (s *Subscription) Open(ctx context.Context) error {
	return s.rc.Open(ctx)
}

// Close sends CLS if still subscribed, then closes the connection.
func (s *Subscription) Close(ctx context.Context) error {
	err := s.rc.Close(ctx)
	s.state.Store(int32(StateClosed))
	return err
}

func (s *Subscription) onOpen(ctx context.Context, c *conn.Conn) error {
	if err := c.Sub(ctx, s.cfg.Topic, s.cfg.Channel); err != nil {
		return err
	}
	if err := c.Rdy(s.cfg.MaxInFlight); err != nil {
		return err
	}
	s.state.Store(int32(StateSubscribed))
	s.log.Debug().Int("rdy", s.cfg.MaxInFlight).Msg("subscribed")
	return nil
}

func (s *Subscription) onMessage(m *conn.Message) {
	observability.RecordMessageReceived(s.cfg.Topic, s.cfg.Channel)
	s.queue.Push(Delivery{Message: m})
}

func (s *Subscription) onError(err error) {
	if protocol.IsProtocolError(err) {
		s.queue.Push(Delivery{Err: fmt.Errorf("consumer: %s: %w", s.addr, err)})
		return
	}
	s.state.CompareAndSwap(int32(StateSubscribed), int32(StateConnecting))
	s.log.Warn().Err(err).Msg("read loop stopped")
	s.queue.Push(Delivery{Err: fmt.Errorf("%w: %s: %w", ErrSourceStopped, s.addr, err)})
}

func (s *Subscription) onDrop(err error) {
	s.state.CompareAndSwap(int32(StateSubscribed), int32(StateConnecting))
	s.log.Info().Err(err).Msg("connection dropped")
}

func (s *Subscription) beforeClose(ctx context.Context, c *conn.Conn) {
	if s.State() != StateSubscribed {
		return
	}
	if err := c.Cls(ctx); err != nil {
		s.log.Debug().Err(err).Msg("CLS failed")
	}
}
