package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"computex/internal/common"
	"computex/internal/events"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFrameTooLarge      = errors.New("frame too large")
)

// MessageType tags every frame. Event frames reuse events.Kind values; client
// control messages live above them.
type MessageType uint16

const (
	Heartbeat MessageType = 0x100 + iota
	Subscribe
)

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	HeaderLen                 = 2 + 4 // type, body length
	SubscribeMessageBodyLen   = 4
	MAX_RECV_SIZE             = 4 * 1024
	MaxFrameSize              = 64 * 1024
	AllResources       uint32 = 1<<common.NumResourceTypes - 1
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// SubscribeMessage replaces the set of markets a subscriber receives events
// for. Bit i of the mask selects ResourceType(i).
type SubscribeMessage struct {
	BaseMessage
	ResourceMask uint32 // 4 bytes
}

func NewSubscribe(resources ...common.ResourceType) SubscribeMessage {
	return SubscribeMessage{BaseMessage: BaseMessage{TypeOf: Subscribe}, ResourceMask: MaskOf(resources...)}
}

// MaskOf builds a resource mask; no resources means all of them.
func MaskOf(resources ...common.ResourceType) uint32 {
	if len(resources) == 0 {
		return AllResources
	}
	var mask uint32
	for _, rt := range resources {
		mask |= 1 << rt
	}
	return mask
}

func Wants(mask uint32, rt common.ResourceType) bool {
	return mask&(1<<rt) != 0
}

func (m SubscribeMessage) Serialize() []byte {
	body := make([]byte, SubscribeMessageBodyLen)
	binary.BigEndian.PutUint32(body, m.ResourceMask)
	return frame(uint16(Subscribe), body)
}

func HeartbeatFrame() []byte {
	return frame(uint16(Heartbeat), nil)
}

func parseMessage(typeOf uint16, body []byte) (Message, error) {
	switch MessageType(typeOf) {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case Subscribe:
		return parseSubscribe(body)
	default:
		return BaseMessage{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

func parseSubscribe(body []byte) (SubscribeMessage, error) {
	if len(body) < SubscribeMessageBodyLen {
		return SubscribeMessage{}, ErrMessageTooShort
	}
	return SubscribeMessage{
		BaseMessage:  BaseMessage{TypeOf: Subscribe},
		ResourceMask: binary.BigEndian.Uint32(body[0:4]),
	}, nil
}

// EncodeEvent frames an event for the wire.
func EncodeEvent(ev events.Event) ([]byte, error) {
	kind, body, err := events.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	return frame(uint16(kind), body), nil
}

// DecodeEvent is the inverse of EncodeEvent, given a frame read by ReadFrame.
func DecodeEvent(typeOf uint16, body []byte) (events.Event, error) {
	return events.Unmarshal(events.Kind(typeOf), body)
}

func frame(typeOf uint16, body []byte) []byte {
	buf := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(buf[0:2], typeOf)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(body)))
	copy(buf[HeaderLen:], body)
	return buf
}

// ReadFrame reads one whole frame.
func ReadFrame(r io.Reader) (uint16, []byte, error) {
	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	typeOf := binary.BigEndian.Uint16(header[0:2])
	n := binary.BigEndian.Uint32(header[2:6])
	if n > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return typeOf, body, nil
}
