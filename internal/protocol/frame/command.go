package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrEmptyCommand = errors.New("frame: empty command line")

// Command is one client->server command as seen on the wire.
type Command struct {
	Name   string
	Params []string
	Body   []byte
}

// HasBody reports whether verb is followed by a length-prefixed body.
func HasBody(verb string) bool {
	switch verb {
	case "IDENTIFY", "PUB", "DPUB", "MPUB", "AUTH":
		return true
	}
	return false
}

// ReadCommand parses one command from r. It is the inverse of EncodeCommand
// and is used by peers speaking the server side of the protocol.
func ReadCommand(r *bufio.Reader, limits Limits) (Command, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return Command{}, shortRead(err)
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	fields := bytes.Split(line, []byte{' '})
	if len(fields) == 0 || len(fields[0]) == 0 {
		return Command{}, ErrEmptyCommand
	}

	cmd := Command{Name: string(fields[0])}
	for _, p := range fields[1:] {
		cmd.Params = append(cmd.Params, string(p))
	}
	if !HasBody(cmd.Name) {
		return cmd, nil
	}

	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return Command{}, shortRead(err)
	}
	n := binary.BigEndian.Uint32(size[:])
	if limits.MaxFrameBytes > 0 && n > limits.MaxFrameBytes {
		return Command{}, fmt.Errorf("%w: body=%d max=%d", ErrFrameTooLarge, n, limits.MaxFrameBytes)
	}
	cmd.Body = make([]byte, n)
	if _, err := io.ReadFull(r, cmd.Body); err != nil {
		return Command{}, shortRead(err)
	}
	return cmd, nil
}
