package conn

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/nsqwire/internal/logging"
	"github.com/danmuck/nsqwire/internal/observability"
	"github.com/danmuck/nsqwire/internal/protocol"
	"github.com/danmuck/nsqwire/internal/protocol/frame"
	"github.com/danmuck/nsqwire/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Handlers receive frames the read loop does not consume itself. They run on
// the read goroutine and must not block or call Close synchronously.
type Handlers struct {
	OnMessage func(*Message)
	// OnError receives unsolicited ERROR frames and fatal read loop errors.
	OnError func(error)
	// OnDrop fires at most once, when the peer closes the socket.
	OnDrop func(error)
}

type ackResult struct {
	payload []byte
	err     error
}

// Conn is one nsqd TCP session.
type Conn struct {
	addr     string
	cfg      session.Config
	identify session.Identify
	handlers Handlers
	log      zerolog.Logger

	// cmdSlot holds one token per acknowledged command in flight. A command
	// abandoned by its ctx keeps the token until its reply is consumed, so
	// replies are never credited to a later command.
	cmdSlot chan struct{}
	// writeMu serializes socket writes, including heartbeat NOPs.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   chan ackResult
	termErr   error

	stateMu  sync.Mutex
	nc       net.Conn
	opened   bool
	readDone chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
	closing   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

func New(addr string, cfg session.Config, handlers Handlers) *Conn {
	cfg = cfg.WithDefaults()
	return &Conn{
		addr:     addr,
		cfg:      cfg,
		identify: session.NewIdentify(cfg),
		handlers: handlers,
		log:      logging.For("conn").With().Str("addr", addr).Logger(),
		cmdSlot:  make(chan struct{}, 1),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) Addr() string {
	return c.addr
}

// IsReady reports whether the handshake completed and the Conn is not closing.
func (c *Conn) IsReady() bool {
	select {
	case <-c.ready:
		return !c.closing.Load()
	default:
		return false
	}
}

// Err returns the error that terminated the read loop, or nil while live.
func (c *Conn) Err() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.termErr
}

// Open dials, starts the read loop, and runs the IDENTIFY handshake. On
// failure the Conn is torn down.
func (c *Conn) Open(ctx context.Context) error {
	c.stateMu.Lock()
	if c.opened {
		c.stateMu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.stateMu.Unlock()

	if err := c.open(ctx); err != nil {
		observability.RecordConnEvent(c.addr, "open_failed")
		_ = c.Close()
		return fmt.Errorf("conn: open %s: %w", c.addr, err)
	}
	observability.RecordConnEvent(c.addr, "open")
	c.log.Debug().Msg("handshake complete")
	return nil
}

func (c *Conn) open(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}

	c.stateMu.Lock()
	if c.closing.Load() {
		c.stateMu.Unlock()
		_ = nc.Close()
		return ErrClosed
	}
	c.nc = nc
	c.readDone = make(chan struct{})
	go c.readLoop(nc, c.readDone)
	c.stateMu.Unlock()

	if err := c.write(frame.MagicV2); err != nil {
		return err
	}
	body, err := c.identify.Encode()
	if err != nil {
		return err
	}
	if err := c.command(ctx, "IDENTIFY", protocol.Identify(body), protocol.ResponseOK); err != nil {
		return err
	}
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

// Close tears the Conn down. It is idempotent and waits for the read loop to
// exit before closing the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.closed)

		c.stateMu.Lock()
		nc, done := c.nc, c.readDone
		c.stateMu.Unlock()

		if nc != nil {
			_ = nc.SetReadDeadline(time.Now())
			<-done
			err = nc.Close()
		}
		c.terminate(ErrClosed)
		observability.RecordConnEvent(c.addr, "close")
		c.log.Debug().Msg("closed")
	})
	return err
}

func (c *Conn) Sub(ctx context.Context, topic, channel string) error {
	raw, err := protocol.Sub(topic, channel)
	if err != nil {
		return err
	}
	return c.gatedCommand(ctx, "SUB", raw, protocol.ResponseOK)
}

func (c *Conn) Pub(ctx context.Context, topic string, body []byte) error {
	raw, err := protocol.Pub(topic, body)
	if err != nil {
		return err
	}
	return c.gatedCommand(ctx, "PUB", raw, protocol.ResponseOK)
}

func (c *Conn) DPub(ctx context.Context, topic string, delay time.Duration, body []byte) error {
	raw, err := protocol.DPub(topic, delay, body)
	if err != nil {
		return err
	}
	return c.gatedCommand(ctx, "DPUB", raw, protocol.ResponseOK)
}

func (c *Conn) MPub(ctx context.Context, topic string, bodies [][]byte) error {
	raw, err := protocol.MPub(topic, bodies)
	if err != nil {
		return err
	}
	return c.gatedCommand(ctx, "MPUB", raw, protocol.ResponseOK)
}

// Cls asks nsqd to stop sending messages; it answers CLOSE_WAIT.
func (c *Conn) Cls(ctx context.Context) error {
	return c.gatedCommand(ctx, "CLS", protocol.Cls(), protocol.ResponseCloseWait)
}

func (c *Conn) Rdy(count int) error {
	raw, err := protocol.Rdy(count)
	if err != nil {
		return err
	}
	return c.send(raw)
}

func (c *Conn) Fin(id frame.MessageID) error {
	return c.send(protocol.Fin(id))
}

func (c *Conn) Req(id frame.MessageID, delay time.Duration) error {
	return c.send(protocol.Req(id, delay))
}

func (c *Conn) Touch(id frame.MessageID) error {
	return c.send(protocol.Touch(id))
}

// Nop bypasses the ready gate; it is the heartbeat reply.
func (c *Conn) Nop() error {
	return c.write(protocol.Nop())
}

func (c *Conn) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) send(raw []byte) error {
	if err := c.waitReady(context.Background()); err != nil {
		return err
	}
	return c.write(raw)
}

func (c *Conn) gatedCommand(ctx context.Context, name string, raw []byte, expect string) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	return c.command(ctx, name, raw, expect)
}

func (c *Conn) command(ctx context.Context, name string, raw []byte, expect string) error {
	select {
	case c.cmdSlot <- struct{}{}:
	case <-c.closed:
		return fmt.Errorf("conn: %s: %w", name, ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("conn: %s: %w", name, ctx.Err())
	}

	start := time.Now()
	abandoned, err := c.roundTrip(ctx, raw, expect)
	if !abandoned {
		<-c.cmdSlot
	}
	observability.RecordCommand(c.addr, name, time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("conn: %s: %w", name, err)
	}
	return nil
}

// roundTrip writes raw and waits for its reply. abandoned reports that ctx
// ended first; the command slot then passes to discardLate.
func (c *Conn) roundTrip(ctx context.Context, raw []byte, expect string) (abandoned bool, err error) {
	ch := make(chan ackResult, 1)
	c.pendingMu.Lock()
	if c.termErr != nil {
		err := c.termErr
		c.pendingMu.Unlock()
		return false, err
	}
	c.pending = ch
	c.pendingMu.Unlock()

	if err := c.write(raw); err != nil {
		c.clearPending(ch)
		return false, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return false, res.err
		}
		if string(res.payload) != expect {
			return false, fmt.Errorf("%w: want %q got %q", protocol.ErrUnexpectedResponse, expect, res.payload)
		}
		return false, nil
	case <-ctx.Done():
		go c.discardLate(ch)
		return true, ctx.Err()
	}
}

// discardLate consumes the reply of an abandoned command, or the terminating
// error if the Conn stops first, then frees the command slot.
func (c *Conn) discardLate(ch chan ackResult) {
	res := <-ch
	c.log.Debug().
		Str("payload", string(res.payload)).
		AnErr("error", res.err).
		Msg("late reply to abandoned command dropped")
	<-c.cmdSlot
}

func (c *Conn) clearPending(ch chan ackResult) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending == ch {
		c.pending = nil
	}
}

func (c *Conn) takePending() chan ackResult {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch := c.pending
	c.pending = nil
	return ch
}

// terminate records why the Conn stopped and fails any pending command.
func (c *Conn) terminate(err error) {
	c.pendingMu.Lock()
	if c.termErr == nil {
		c.termErr = err
	}
	ch := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	if ch != nil {
		ch <- ackResult{err: err}
	}
}

func (c *Conn) write(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closing.Load() {
		return ErrClosed
	}
	c.stateMu.Lock()
	nc := c.nc
	c.stateMu.Unlock()
	if nc == nil {
		return ErrNotConnected
	}
	if c.cfg.WriteTimeout > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	_, err := nc.Write(raw)
	return err
}

func (c *Conn) readLoop(nc net.Conn, done chan struct{}) {
	defer close(done)
	r := bufio.NewReader(nc)
	for {
		fr, err := frame.ReadFrame(r, c.cfg.Limits)
		if err != nil {
			c.stop(err)
			return
		}
		if err := c.dispatch(fr); err != nil {
			c.stop(err)
			return
		}
	}
}

func (c *Conn) dispatch(fr frame.Frame) error {
	switch fr.Type {
	case frame.FrameTypeResponse:
		if bytes.Equal(fr.Payload, frame.Heartbeat) {
			observability.RecordHeartbeat(c.addr)
			c.log.Trace().Msg("heartbeat")
			if err := c.Nop(); err != nil {
				return fmt.Errorf("conn: heartbeat reply: %w", err)
			}
			return nil
		}
		if ch := c.takePending(); ch != nil {
			ch <- ackResult{payload: fr.Payload}
		} else {
			c.log.Debug().Str("payload", string(fr.Payload)).Msg("unsolicited response dropped")
		}
	case frame.FrameTypeError:
		perr := protocol.ParseError(fr.Payload)
		observability.RecordProtocolError(c.addr, perr.Code)
		if ch := c.takePending(); ch != nil {
			ch <- ackResult{err: perr}
			return nil
		}
		c.log.Warn().Str("code", perr.Code).Str("error", perr.Message).Msg("unsolicited server error")
		c.emitError(perr)
	case frame.FrameTypeMessage:
		payload, err := frame.DecodeMessage(fr.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(newMessage(c, payload))
		}
	default:
		return fmt.Errorf("%w: %s", frame.ErrUnknownFrameType, fr.Type)
	}
	return nil
}

// stop ends the read loop. Errors caused by our own Close are silent; peer
// hangups go to OnDrop; anything else goes to OnError once.
func (c *Conn) stop(err error) {
	if c.closing.Load() {
		c.terminate(ErrClosed)
		return
	}
	if isDrop(err) {
		c.log.Warn().Err(err).Msg("connection dropped")
		observability.RecordConnEvent(c.addr, "drop")
		c.terminate(fmt.Errorf("%w: %v", ErrConnectionDropped, err))
		if c.handlers.OnDrop != nil {
			c.handlers.OnDrop(err)
		}
		return
	}
	c.log.Error().Err(err).Msg("read loop stopped")
	c.terminate(err)
	c.emitError(err)
}

func (c *Conn) emitError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}
