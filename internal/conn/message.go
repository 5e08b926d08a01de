package conn

import (
	"sync/atomic"
	"time"

	"github.com/danmuck/nsqwire/internal/observability"
	"github.com/danmuck/nsqwire/internal/protocol/frame"
)

// Message is a delivered message. The consumer must call exactly one of
// Finish or Requeue; Touch may be called any number of times before that.
type Message struct {
	ID        frame.MessageID
	Timestamp int64
	Attempts  uint16
	Body      []byte

	owner     *Conn
	responded atomic.Bool
}

func newMessage(owner *Conn, p frame.MessagePayload) *Message {
	return &Message{
		ID:        p.ID,
		Timestamp: p.Timestamp,
		Attempts:  p.Attempts,
		Body:      p.Body,
		owner:     owner,
	}
}

// Time converts the nanosecond timestamp set by nsqd.
func (m *Message) Time() time.Time {
	return time.Unix(0, m.Timestamp)
}

// Source is the nsqd address the message arrived from.
func (m *Message) Source() string {
	return m.owner.Addr()
}

func (m *Message) HasResponded() bool {
	return m.responded.Load()
}

func (m *Message) Finish() error {
	if !m.responded.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	observability.RecordMessageResponse(m.owner.Addr(), "fin")
	return m.owner.Fin(m.ID)
}

// Requeue hands the message back to nsqd, to be redelivered after delay.
func (m *Message) Requeue(delay time.Duration) error {
	if !m.responded.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	observability.RecordMessageResponse(m.owner.Addr(), "req")
	return m.owner.Req(m.ID, delay)
}

// Touch resets the server side in-flight timeout.
func (m *Message) Touch() error {
	if m.responded.Load() {
		return ErrAlreadyResponded
	}
	observability.RecordMessageResponse(m.owner.Addr(), "touch")
	return m.owner.Touch(m.ID)
}
