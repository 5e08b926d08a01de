package protocol

import (
	"errors"
	"strings"
)

var (
	ErrInvalidName        = errors.New("protocol: invalid name")
	ErrUnexpectedResponse = errors.New("protocol: unexpected response")
	ErrInvalidCount       = errors.New("protocol: invalid count")
	ErrEmptyBody          = errors.New("protocol: empty message body")
)

// Error is an ERROR frame sent by the server. Code is the leading E_* token
// when the server provides one.
type Error struct {
	Code    string
	Message string
}

// ParseError builds an Error from an ERROR frame payload.
func ParseError(payload []byte) *Error {
	text := strings.TrimSpace(string(payload))
	code, _, _ := strings.Cut(text, " ")
	if !strings.HasPrefix(code, "E_") {
		code = ""
	}
	return &Error{Code: code, Message: text}
}

func (e *Error) Error() string {
	return "protocol: server error: " + e.Message
}

// IsProtocolError reports whether err carries a server ERROR frame.
func IsProtocolError(err error) bool {
	var perr *Error
	return errors.As(err, &perr)
}
