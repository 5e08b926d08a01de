package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/nsqwire/internal/protocol/frame"
)

// Expected acknowledgments for acknowledged commands.
const (
	ResponseOK        = "OK"
	ResponseCloseWait = "CLOSE_WAIT"
)

func Identify(body []byte) []byte {
	return frame.EncodeCommand("IDENTIFY", body)
}

func Sub(topic, channel string) ([]byte, error) {
	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if err := ValidateChannelName(channel); err != nil {
		return nil, err
	}
	return frame.EncodeCommand("SUB "+topic+" "+channel, nil), nil
}

func Pub(topic string, body []byte) ([]byte, error) {
	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return frame.EncodeCommand("PUB "+topic, body), nil
}

// DPub publishes body for delivery after delay (millisecond resolution).
func DPub(topic string, delay time.Duration, body []byte) ([]byte, error) {
	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return frame.EncodeCommand(fmt.Sprintf("DPUB %s %d", topic, delay.Milliseconds()), body), nil
}

// MPub batches bodies as [count][size][body]... inside one command body.
func MPub(topic string, bodies [][]byte) ([]byte, error) {
	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if len(bodies) == 0 {
		return nil, fmt.Errorf("%w: mpub needs at least one body", ErrEmptyBody)
	}
	var buf bytes.Buffer
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(bodies))))
	for _, b := range bodies {
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(b))))
		buf.Write(b)
	}
	return frame.EncodeCommand("MPUB "+topic, buf.Bytes()), nil
}

func Rdy(count int) ([]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: rdy %d", ErrInvalidCount, count)
	}
	return frame.EncodeCommand("RDY "+strconv.Itoa(count), nil), nil
}

func Fin(id frame.MessageID) []byte {
	return frame.EncodeCommand("FIN "+id.String(), nil)
}

// Req requeues id; the server holds it back for delay (millisecond resolution).
func Req(id frame.MessageID, delay time.Duration) []byte {
	return frame.EncodeCommand(fmt.Sprintf("REQ %s %d", id.String(), delay.Milliseconds()), nil)
}

func Touch(id frame.MessageID) []byte {
	return frame.EncodeCommand("TOUCH "+id.String(), nil)
}

func Cls() []byte {
	return frame.EncodeCommand("CLS", nil)
}

func Nop() []byte {
	return frame.EncodeCommand("NOP", nil)
}
