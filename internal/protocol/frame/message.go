package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MsgIDLength = 16
	// timestamp + attempts + id
	MsgHeaderLen = 8 + 2 + MsgIDLength
)

var ErrShortMessage = errors.New("frame: message payload shorter than message header")

// MessageID is the 16 byte ASCII id nsqd assigns to a message.
type MessageID [MsgIDLength]byte

func (id MessageID) String() string {
	return string(id[:])
}

// MessagePayload is the decoded body of a MESSAGE frame.
type MessagePayload struct {
	Timestamp int64
	Attempts  uint16
	ID        MessageID
	Body      []byte
}

func DecodeMessage(payload []byte) (MessagePayload, error) {
	if len(payload) < MsgHeaderLen {
		return MessagePayload{}, fmt.Errorf("%w: len=%d", ErrShortMessage, len(payload))
	}
	var m MessagePayload
	m.Timestamp = int64(binary.BigEndian.Uint64(payload[0:8]))
	m.Attempts = binary.BigEndian.Uint16(payload[8:10])
	copy(m.ID[:], payload[10:MsgHeaderLen])
	m.Body = payload[MsgHeaderLen:]
	return m, nil
}

func EncodeMessage(m MessagePayload) []byte {
	buf := make([]byte, MsgHeaderLen, MsgHeaderLen+len(m.Body))
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Timestamp))
	binary.BigEndian.PutUint16(buf[8:10], m.Attempts)
	copy(buf[10:MsgHeaderLen], m.ID[:])
	return append(buf, m.Body...)
}
