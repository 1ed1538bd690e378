package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kabili207/uavtalk-go/core"
	"github.com/kabili207/uavtalk-go/core/crc8"
)

// objFrameBytes is an OBJ frame for object 0x12345678 instance 0 carrying
// two data bytes.
var objFrameBytes = []byte{
	0x3C, 0x20, 0x0C, 0x00, // sync, type, length 12
	0x78, 0x56, 0x34, 0x12, // object ID
	0x00, 0x00, // instance ID
	0x01, 0x02, // data
	0x63, // crc8
}

func TestObjFrameBytesChecksum(t *testing.T) {
	body := objFrameBytes[:len(objFrameBytes)-1]
	if got, want := objFrameBytes[len(objFrameBytes)-1], crc8.Checksum(body); got != want {
		t.Fatalf("fixture crc = %02x, crc8.Checksum(body) = %02x", got, want)
	}

	encoded, err := EncodeFrame(NewObject(0x12345678, 0, []byte{0x01, 0x02}))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	if !bytes.Equal(encoded, objFrameBytes) {
		t.Errorf("EncodeFrame() = %x, fixture %x", encoded, objFrameBytes)
	}
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		frame    *Frame
		expected []byte
	}{
		{
			name:     "object with data",
			frame:    NewObject(0x12345678, 0, []byte{0x01, 0x02}),
			expected: objFrameBytes,
		},
		{
			name:  "ack without data",
			frame: NewAck(0xDEADBEEF, 2),
			expected: []byte{
				0x3C, 0x23, 0x0A, 0x00,
				0xEF, 0xBE, 0xAD, 0xDE,
				0x02, 0x00,
				0xED,
			},
		},
		{
			name:  "timestamped object",
			frame: NewObject(0x12345678, 1, []byte{0xFF}).WithTimestamp(0x1234),
			expected: []byte{
				0x3C, 0xA0, 0x0D, 0x00,
				0x78, 0x56, 0x34, 0x12,
				0x01, 0x00,
				0x34, 0x12,
				0xFF,
				0x9C,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeFrame(tt.frame)
			if err != nil {
				t.Fatalf("EncodeFrame() error = %v", err)
			}
			if !bytes.Equal(encoded, tt.expected) {
				t.Errorf("EncodeFrame() = %x, want %x", encoded, tt.expected)
			}
			if len(encoded) != tt.frame.EncodedLen() {
				t.Errorf("EncodedLen() = %d, encoded %d bytes", tt.frame.EncodedLen(), len(encoded))
			}
		})
	}
}

func TestEncodeFrame_Errors(t *testing.T) {
	_, err := EncodeFrame(&Frame{Type: 0x10})
	if !errors.Is(err, ErrInvalidType) {
		t.Errorf("invalid type: error = %v, want ErrInvalidType", err)
	}

	_, err = EncodeFrame(NewObject(1, 0, make([]byte, MaxPayloadLength+1)))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversize payload: error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestEncodeFrame_MaxPayload(t *testing.T) {
	frame := NewObject(1, 0, make([]byte, MaxPayloadLength)).WithTimestamp(1)
	encoded, err := EncodeFrame(frame)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	if len(encoded) != MaxFrameSize {
		t.Errorf("encoded size = %d, want %d", len(encoded), MaxFrameSize)
	}
}

func TestDecodeFrame(t *testing.T) {
	frame, remaining, err := DecodeFrame(objFrameBytes)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
	if frame.Type != TypeObj {
		t.Errorf("Type = %v, want OBJ", frame.Type)
	}
	if frame.ObjectID != 0x12345678 {
		t.Errorf("ObjectID = %s, want 12345678", frame.ObjectID)
	}
	if frame.InstanceID != 0 {
		t.Errorf("InstanceID = %d, want 0", frame.InstanceID)
	}
	if frame.Timestamped {
		t.Error("Timestamped = true, want false")
	}
	if !bytes.Equal(frame.Data, []byte{0x01, 0x02}) {
		t.Errorf("Data = %x, want 0102", frame.Data)
	}
}

func TestDecodeFrame_CopiesData(t *testing.T) {
	input := append([]byte(nil), objFrameBytes...)
	frame, _, err := DecodeFrame(input)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	input[10] = 0xAA
	if frame.Data[0] != 0x01 {
		t.Error("decoded frame data aliases the input buffer")
	}
}

func TestDecodeFrame_Remaining(t *testing.T) {
	ack, err := EncodeFrame(NewAck(0xDEADBEEF, 2))
	if err != nil {
		t.Fatal(err)
	}
	input := append(append([]byte(nil), objFrameBytes...), ack...)

	first, remaining, err := DecodeFrame(input)
	if err != nil {
		t.Fatalf("first DecodeFrame() error = %v", err)
	}
	if first.Type != TypeObj {
		t.Errorf("first frame type = %v, want OBJ", first.Type)
	}

	second, remaining, err := DecodeFrame(remaining)
	if err != nil {
		t.Fatalf("second DecodeFrame() error = %v", err)
	}
	if second.Type != TypeAck || second.InstanceID != 2 {
		t.Errorf("second frame = %v/%d, want ACK/2", second.Type, second.InstanceID)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	corrupt := func(i int, b byte) []byte {
		data := append([]byte(nil), objFrameBytes...)
		data[i] = b
		return data
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "too short", data: objFrameBytes[:5], wantErr: ErrFrameTooShort},
		{name: "bad sync", data: corrupt(0, 0x3D), wantErr: ErrInvalidSync},
		{name: "wrong version bits", data: corrupt(1, 0x10), wantErr: ErrInvalidType},
		{name: "undefined type", data: corrupt(1, 0x27), wantErr: ErrInvalidType},
		{name: "length below header", data: corrupt(2, 0x05), wantErr: ErrLengthMismatch},
		{name: "length above maximum", data: corrupt(3, 0x02), wantErr: ErrPayloadTooLarge},
		{name: "incomplete", data: objFrameBytes[:len(objFrameBytes)-1], wantErr: ErrIncompleteFrame},
		{name: "bad checksum", data: corrupt(12, 0x12), wantErr: ErrChecksumMismatch},
		{name: "corrupted data", data: corrupt(11, 0x03), wantErr: ErrChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, remaining, err := DecodeFrame(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DecodeFrame() error = %v, want %v", err, tt.wantErr)
			}
			if frame != nil {
				t.Error("expected nil frame on error")
			}
			if !bytes.Equal(remaining, tt.data) {
				t.Error("expected input returned unchanged on error")
			}
		})
	}
}

func TestEncodeDecode_Timestamped(t *testing.T) {
	original := NewObjectAck(0xCAFEBABE, 7, []byte("payload")).WithTimestamp(0xBEEF)
	encoded, err := EncodeFrame(original)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	decoded, _, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if decoded.Type != TypeObjAck || !decoded.Timestamped || decoded.Timestamp != 0xBEEF {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Key() != (core.ObjectKey{ObjectID: 0xCAFEBABE, InstanceID: 7}) {
		t.Errorf("Key() = %s", decoded.Key())
	}
	if string(decoded.Data) != "payload" {
		t.Errorf("Data = %q, want payload", decoded.Data)
	}
}

func TestValidateChecksum(t *testing.T) {
	body := objFrameBytes[:len(objFrameBytes)-1]
	checksum := objFrameBytes[len(objFrameBytes)-1]

	if !ValidateChecksum(body, checksum) {
		t.Error("ValidateChecksum should return true for correct checksum")
	}
	if ValidateChecksum(body, checksum+1) {
		t.Error("ValidateChecksum should return false for incorrect checksum")
	}
}

func TestFrameClone(t *testing.T) {
	original := NewObject(1, 0, []byte{1, 2, 3})
	clone := original.Clone()
	clone.Data[0] = 9
	if original.Data[0] != 1 {
		t.Error("Clone() shares data with the original")
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		t    MessageType
		want string
	}{
		{TypeObj, "OBJ"},
		{TypeObjReq, "OBJ_REQ"},
		{TypeObjAck, "OBJ_ACK"},
		{TypeAck, "ACK"},
		{TypeNack, "NACK"},
		{0x30, "UNKNOWN(0x30)"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}
