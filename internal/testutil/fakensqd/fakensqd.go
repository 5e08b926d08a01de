// Package fakensqd is a loopback nsqd stand-in for tests. It speaks the
// server side of the V2 framing: reads the magic and commands, auto-answers
// acknowledged commands, and lets tests push arbitrary frames.
package fakensqd

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/nsqwire/internal/protocol/frame"
)

// Responder picks the reply for a command; ok=false sends nothing.
type Responder func(cmd frame.Command) (reply frame.Frame, ok bool)

// DefaultResponder answers like nsqd with feature negotiation disabled.
func DefaultResponder(cmd frame.Command) (frame.Frame, bool) {
	switch cmd.Name {
	case "IDENTIFY", "SUB", "PUB", "DPUB", "MPUB":
		return Response("OK"), true
	case "CLS":
		return Response("CLOSE_WAIT"), true
	default:
		return frame.Frame{}, false
	}
}

func Response(text string) frame.Frame {
	return frame.Frame{Type: frame.FrameTypeResponse, Payload: []byte(text)}
}

func Error(text string) frame.Frame {
	return frame.Frame{Type: frame.FrameTypeError, Payload: []byte(text)}
}

func Message(m frame.MessagePayload) frame.Frame {
	return frame.Frame{Type: frame.FrameTypeMessage, Payload: frame.EncodeMessage(m)}
}

type Server struct {
	ln       net.Listener
	clients  chan *Client
	mu       sync.Mutex
	respond  Responder
	accepted []*Client
	closed   bool
	wg       sync.WaitGroup
}

// Start listens on a loopback port and registers cleanup on t.
func Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		ln:      ln,
		clients: make(chan *Client, 64),
		respond: DefaultResponder,
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// SetResponder replaces the responder for commands read after the call.
func (s *Server) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = r
}

func (s *Server) responder() Responder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respond
}

// Accept returns the next client whose magic has been read.
func (s *Server) Accept(t testing.TB, timeout time.Duration) *Client {
	t.Helper()
	select {
	case c := <-s.clients:
		return c
	case <-time.After(timeout):
		t.Fatalf("fakensqd: no client within %v", timeout)
		return nil
	}
}

// TryAccept is Accept without failing the test.
func (s *Server) TryAccept(timeout time.Duration) (*Client, bool) {
	select {
	case c := <-s.clients:
		return c, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Close stops the listener and every accepted client.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	s.closed = true
	clients := append([]*Client(nil), s.accepted...)
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &Client{
			nc:       nc,
			server:   s,
			commands: make(chan frame.Command, 256),
			done:     make(chan struct{}),
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.accepted = append(s.accepted, c)
		s.mu.Unlock()
		s.wg.Add(1)
		go c.serve()
	}
}

type Client struct {
	nc       net.Conn
	server   *Server
	writeMu  sync.Mutex
	commands chan frame.Command
	done     chan struct{}
	once     sync.Once
}

func (c *Client) serve() {
	defer c.server.wg.Done()
	defer close(c.done)
	r := bufio.NewReader(c.nc)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || !bytes.Equal(magic[:], frame.MagicV2) {
		_ = c.nc.Close()
		return
	}
	c.server.clients <- c

	for {
		cmd, err := frame.ReadCommand(r, frame.DefaultLimits())
		if err != nil {
			return
		}
		select {
		case c.commands <- cmd:
		default:
		}
		if reply, ok := c.server.responder()(cmd); ok {
			if err := c.Send(reply); err != nil {
				return
			}
		}
	}
}

// Next waits for the next command from the client.
func (c *Client) Next(t testing.TB, timeout time.Duration) frame.Command {
	t.Helper()
	select {
	case cmd := <-c.commands:
		return cmd
	case <-time.After(timeout):
		t.Fatalf("fakensqd: no command within %v", timeout)
		return frame.Command{}
	}
}

// Expect waits for the next command and fails unless it is named name.
func (c *Client) Expect(t testing.TB, name string, timeout time.Duration) frame.Command {
	t.Helper()
	cmd := c.Next(t, timeout)
	if cmd.Name != name {
		t.Fatalf("fakensqd: expected %s, got %s %v", name, cmd.Name, cmd.Params)
	}
	return cmd
}

// Drain returns every command received so far without blocking.
func (c *Client) Drain() []frame.Command {
	var out []frame.Command
	for {
		select {
		case cmd := <-c.commands:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func (c *Client) Send(f frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.WriteFrame(c.nc, f)
}

func (c *Client) SendHeartbeat() error {
	return c.Send(Response(string(frame.Heartbeat)))
}

// WriteRaw writes bytes without framing, for malformed or truncated frames.
func (c *Client) WriteRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(b)
	return err
}

// Truncate writes a header promising more payload than follows, then closes.
func (c *Client) Truncate() error {
	head := frame.EncodeHeader(frame.Header{Size: 4 + 64, Type: frame.FrameTypeResponse})
	if err := c.WriteRaw(append(head, "short"...)); err != nil {
		return err
	}
	c.Close()
	return nil
}

func (c *Client) Close() {
	c.once.Do(func() {
		_ = c.nc.Close()
	})
}

// Closed reports whether the client's connection has ended.
func (c *Client) Closed(timeout time.Duration) error {
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return errors.New("fakensqd: client still connected")
	}
}
