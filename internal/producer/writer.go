// Package producer publishes to a single nsqd topic over a connection that
// reconnects after drops.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/nsqwire/internal/conn"
	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/danmuck/nsqwire/internal/observability"
	"github.com/danmuck/nsqwire/internal/protocol"
	"github.com/danmuck/nsqwire/internal/protocol/session"
	"github.com/rs/zerolog"
)

type Writer struct {
	topic string
	rc    *conn.Reconnecting
	log   zerolog.Logger
}

// NewWriter validates topic and prepares a Writer for addr. Nothing is dialed
// until Open.
func NewWriter(addr, topic string, cfg session.Config, opts ...conn.Option) (*Writer, error) {
	if err := protocol.ValidateTopicName(topic); err != nil {
		return nil, err
	}
	return &Writer{
		topic: topic,
		rc:    conn.NewReconnecting(addr, cfg, conn.Handlers{}, opts...),
		log:   logging.For("writer").With().Str("addr", addr).Str("topic", topic).Logger(),
	}, nil
}

func (w *Writer) Topic() string {
	return w.topic
}

func (w *Writer) Open(ctx context.Context) error {
	if err := w.rc.Open(ctx); err != nil {
		return err
	}
	w.log.Debug().Msg("writer open")
	return nil
}

func (w *Writer) Close(ctx context.Context) error {
	return w.rc.Close(ctx)
}

// Publish sends PUB and waits for nsqd to acknowledge it.
func (w *Writer) Publish(ctx context.Context, body []byte) error {
	if err := w.rc.Pub(ctx, w.topic, body); err != nil {
		return fmt.Errorf("producer: publish: %w", err)
	}
	observability.RecordPublished(w.topic, "PUB", 1)
	return nil
}

// DeferredPublish sends DPUB; nsqd holds the message for delay before
// delivering it.
func (w *Writer) DeferredPublish(ctx context.Context, delay time.Duration, body []byte) error {
	if err := w.rc.DPub(ctx, w.topic, delay, body); err != nil {
		return fmt.Errorf("producer: deferred publish: %w", err)
	}
	observability.RecordPublished(w.topic, "DPUB", 1)
	return nil
}

// MultiPublish sends bodies as one MPUB, which nsqd applies atomically.
func (w *Writer) MultiPublish(ctx context.Context, bodies [][]byte) error {
	if err := w.rc.MPub(ctx, w.topic, bodies); err != nil {
		return fmt.Errorf("producer: multi publish: %w", err)
	}
	observability.RecordPublished(w.topic, "MPUB", len(bodies))
	return nil
}
