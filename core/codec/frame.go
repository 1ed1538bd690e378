// Package codec encodes and decodes UAVTalk frames.
//
// Every frame starts with a sync byte and ends with a CRC8 over all preceding
// bytes. Multi-byte fields are little endian.
//
// Frame format:
//
//	[sync 0x3C][type][length u16][object ID u32][instance ID u16]
//	[timestamp u16, only when type&0x80][data ...][crc8]
//
// The length field covers the header and data but not the checksum byte.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kabili207/uavtalk-go/core"
	"github.com/kabili207/uavtalk-go/core/crc8"
)

const (
	// SyncVal is the byte that starts every frame.
	SyncVal byte = 0x3C

	// Type byte layout
	TypeVersion     = 0x20 // protocol version bits, required on every frame
	TypeMask        = 0x78 // bits that must equal TypeVersion
	TypeTimestamped = 0x80 // frame carries a 16-bit timestamp after the instance ID

	// Size limits
	HeaderSize       = 10 // sync 1 + type 1 + length 2 + object ID 4 + instance ID 2
	TimestampSize    = 2
	ChecksumSize     = crc8.Size
	MaxPayloadLength = 256
	MinFrameSize     = HeaderSize + ChecksumSize
	MaxFrameSize     = HeaderSize + TimestampSize + MaxPayloadLength + ChecksumSize
)

// MessageType is the transaction type of a frame, without the timestamp flag.
type MessageType uint8

const (
	TypeObj    MessageType = TypeVersion | 0x00 // object update, no reply expected
	TypeObjReq MessageType = TypeVersion | 0x01 // request for an object, answered with TypeObj or TypeNack
	TypeObjAck MessageType = TypeVersion | 0x02 // object update that must be answered with TypeAck
	TypeAck    MessageType = TypeVersion | 0x03 // acknowledges a TypeObjAck
	TypeNack   MessageType = TypeVersion | 0x04 // request could not be served
)

var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrInvalidSync      = errors.New("invalid sync byte")
	ErrInvalidType      = errors.New("invalid message type")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrLengthMismatch   = errors.New("length field shorter than header")
	ErrIncompleteFrame  = errors.New("incomplete frame")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	return t >= TypeObj && t <= TypeNack
}

func (t MessageType) String() string {
	switch t {
	case TypeObj:
		return "OBJ"
	case TypeObjReq:
		return "OBJ_REQ"
	case TypeObjAck:
		return "OBJ_ACK"
	case TypeAck:
		return "ACK"
	case TypeNack:
		return "NACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// parseTypeByte splits a wire type byte into its message type and timestamp flag.
func parseTypeByte(b byte) (MessageType, bool, error) {
	if b&TypeMask != TypeVersion {
		return 0, false, fmt.Errorf("%w: 0x%02x", ErrInvalidType, b)
	}
	t := MessageType(b &^ TypeTimestamped)
	if !t.Valid() {
		return 0, false, fmt.Errorf("%w: 0x%02x", ErrInvalidType, b)
	}
	return t, b&TypeTimestamped != 0, nil
}

// Frame is a decoded UAVTalk frame.
type Frame struct {
	Type        MessageType
	ObjectID    core.ObjectID
	InstanceID  core.InstanceID
	Timestamped bool
	Timestamp   uint16 // milliseconds, wrapping; only meaningful when Timestamped
	Data        []byte // up to MaxPayloadLength bytes
}

// Key returns the object instance this frame refers to.
func (f *Frame) Key() core.ObjectKey {
	return core.ObjectKey{ObjectID: f.ObjectID, InstanceID: f.InstanceID}
}

// HeaderLen returns the encoded header size, including the timestamp if present.
func (f *Frame) HeaderLen() int {
	if f.Timestamped {
		return HeaderSize + TimestampSize
	}
	return HeaderSize
}

// EncodedLen returns the total size of the encoded frame including the checksum.
func (f *Frame) EncodedLen() int {
	return f.HeaderLen() + len(f.Data) + ChecksumSize
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	clone := *f
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return &clone
}

func (f *Frame) typeByte() byte {
	b := byte(f.Type)
	if f.Timestamped {
		b |= TypeTimestamped
	}
	return b
}

// ValidateChecksum verifies that the CRC8 of data matches the received checksum.
func ValidateChecksum(data []byte, received byte) bool {
	return crc8.Checksum(data) == received
}

// EncodeFrame serializes a frame and appends its CRC8.
func EncodeFrame(f *Frame) ([]byte, error) {
	if !f.Type.Valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidType, uint8(f.Type))
	}
	if len(f.Data) > MaxPayloadLength {
		return nil, ErrPayloadTooLarge
	}

	hdrLen := f.HeaderLen()
	length := hdrLen + len(f.Data)
	frame := make([]byte, length+ChecksumSize)

	frame[0] = SyncVal
	frame[1] = f.typeByte()
	binary.LittleEndian.PutUint16(frame[2:4], uint16(length))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(f.ObjectID))
	binary.LittleEndian.PutUint16(frame[8:10], uint16(f.InstanceID))
	if f.Timestamped {
		binary.LittleEndian.PutUint16(frame[10:12], f.Timestamp)
	}
	copy(frame[hdrLen:], f.Data)

	frame[length] = crc8.UpdateBuffer(0, frame, length)
	return frame, nil
}

// DecodeFrame decodes one frame from the start of data.
// Returns the decoded frame, any remaining bytes after the frame, and an error
// if decoding failed. On error the input is returned unchanged as remaining.
func DecodeFrame(data []byte) (*Frame, []byte, error) {
	if len(data) < MinFrameSize {
		return nil, data, ErrFrameTooShort
	}
	if data[0] != SyncVal {
		return nil, data, ErrInvalidSync
	}

	msgType, timestamped, err := parseTypeByte(data[1])
	if err != nil {
		return nil, data, err
	}

	hdrLen := HeaderSize
	if timestamped {
		hdrLen += TimestampSize
	}

	length := int(binary.LittleEndian.Uint16(data[2:4]))
	if length < hdrLen {
		return nil, data, fmt.Errorf("%w: %d < %d", ErrLengthMismatch, length, hdrLen)
	}
	if length-hdrLen > MaxPayloadLength {
		return nil, data, ErrPayloadTooLarge
	}

	totalFrameSize := length + ChecksumSize
	if len(data) < totalFrameSize {
		return nil, data, ErrIncompleteFrame
	}

	expected := crc8.UpdateBuffer(0, data, length)
	if received := data[length]; received != expected {
		return nil, data, fmt.Errorf("%w: expected %02x, got %02x",
			ErrChecksumMismatch, expected, received)
	}

	frame := &Frame{
		Type:        msgType,
		ObjectID:    core.ObjectID(binary.LittleEndian.Uint32(data[4:8])),
		InstanceID:  core.InstanceID(binary.LittleEndian.Uint16(data[8:10])),
		Timestamped: timestamped,
	}
	if timestamped {
		frame.Timestamp = binary.LittleEndian.Uint16(data[10:12])
	}
	if n := length - hdrLen; n > 0 {
		frame.Data = make([]byte, n)
		copy(frame.Data, data[hdrLen:length])
	}

	return frame, data[totalFrameSize:], nil
}
