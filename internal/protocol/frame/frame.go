package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameType tags a server->client frame.
type FrameType int32

const (
	FrameTypeResponse FrameType = 0
	FrameTypeError    FrameType = 1
	FrameTypeMessage  FrameType = 2
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeResponse:
		return "response"
	case FrameTypeError:
		return "error"
	case FrameTypeMessage:
		return "message"
	default:
		return fmt.Sprintf("frame_type(%d)", int32(t))
	}
}

const (
	// HeaderLen is the size+type prefix of every server frame.
	HeaderLen = 8
	// typeLen is counted inside Size.
	typeLen = 4
)

// MagicV2 opens every client connection.
var MagicV2 = []byte("  V2")

// Heartbeat is the RESPONSE payload the server sends for liveness checks.
var Heartbeat = []byte("_heartbeat_")

var (
	ErrTruncated        = errors.New("frame: truncated frame")
	ErrFrameTooSmall    = errors.New("frame: size smaller than frame type")
	ErrFrameTooLarge    = errors.New("frame: frame too large")
	ErrUnknownFrameType = errors.New("frame: unknown frame type")
)

// Header is the fixed wire header.
type Header struct {
	Size uint32
	Type FrameType
}

// PayloadLen is the number of bytes that follow the header.
func (h Header) PayloadLen() int {
	return int(h.Size) - typeLen
}

// Frame is one complete server frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 8 * 1024 * 1024,
	}
}

// EncodeCommand renders a command line with an optional length-prefixed body.
// A nil body means the command carries no body; an empty non-nil body is
// written with a zero length prefix.
func EncodeCommand(line string, body []byte) []byte {
	size := len(line) + 1
	if body != nil {
		size += 4 + len(body)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if body != nil {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
		buf = append(buf, body...)
	}
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	h := Header{
		Size: binary.BigEndian.Uint32(b[0:4]),
		Type: FrameType(int32(binary.BigEndian.Uint32(b[4:8]))),
	}
	if h.Size < typeLen {
		return Header{}, fmt.Errorf("%w: size=%d", ErrFrameTooSmall, h.Size)
	}
	return h, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Size)
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(h.Type)))
	return buf
}

func ReadHeader(r io.Reader) (Header, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, shortRead(err)
	}
	return DecodeHeader(fixed[:])
}

// ReadFrame reads exactly one frame. The frame type is not validated here;
// dispatch decides what an unknown type means.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxFrameBytes > 0 && h.Size > limits.MaxFrameBytes {
		return Frame{}, fmt.Errorf("%w: size=%d max=%d", ErrFrameTooLarge, h.Size, limits.MaxFrameBytes)
	}
	payload := make([]byte, h.PayloadLen())
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, shortRead(err)
		}
	}
	return Frame{Type: h.Type, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame) error {
	h := Header{Size: uint32(typeLen + len(f.Payload)), Type: f.Type}
	buf := append(EncodeHeader(h), f.Payload...)
	_, err := w.Write(buf)
	return err
}

func shortRead(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}
