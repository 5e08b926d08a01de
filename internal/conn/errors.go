package conn

import (
	"errors"
	"io"
	"syscall"

	"github.com/danmuck/nsqwire/internal/protocol/frame"
)

var (
	ErrConnectionDropped = errors.New("conn: connection dropped")
	ErrClosed            = errors.New("conn: closed")
	ErrNotConnected      = errors.New("conn: not connected")
	ErrAlreadyOpen       = errors.New("conn: already opened")
	ErrMalformedMessage  = errors.New("conn: malformed message frame")
	ErrAlreadyResponded  = errors.New("conn: message already finished or requeued")
)

// isDrop reports whether a read/write failure means the peer went away, as
// opposed to a protocol violation.
func isDrop(err error) bool {
	return errors.Is(err, frame.ErrTruncated) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
