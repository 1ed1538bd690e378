package mqtt

import (
	"context"
	"encoding/base64"
	"log/slog"
	"testing"

	"github.com/kabili207/uavtalk-go/core/codec"
	"github.com/kabili207/uavtalk-go/transport"
)

// fakeMessage implements paho.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestTransport() *Transport {
	return New(Config{
		Broker: "tcp://localhost:1883",
		LinkID: "test",
		Logger: slog.New(slog.DiscardHandler),
	})
}

func encodeBase64(t *testing.T, frames ...*codec.Frame) []byte {
	t.Helper()
	var raw []byte
	for _, f := range frames {
		data, err := codec.EncodeFrame(f)
		if err != nil {
			t.Fatalf("failed to encode frame: %v", err)
		}
		raw = append(raw, data...)
	}
	return []byte(base64.StdEncoding.EncodeToString(raw))
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{
		Broker: "tcp://localhost:1883",
		LinkID: "test",
	})

	if tr.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("expected default topic prefix %q, got %q", DefaultTopicPrefix, tr.cfg.TopicPrefix)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
	if tr.topic() != "uavtalk/test" {
		t.Errorf("topic() = %q, want uavtalk/test", tr.topic())
	}
}

func TestNew_CustomConfig(t *testing.T) {
	tr := New(Config{
		Broker:      "tcp://broker.example.com:1883",
		Username:    "user",
		Password:    "pass",
		TopicPrefix: "custom",
		LinkID:      "quad-1",
	})

	if tr.cfg.TopicPrefix != "custom" {
		t.Errorf("expected topic prefix %q, got %q", "custom", tr.cfg.TopicPrefix)
	}
	if tr.topic() != "custom/quad-1" {
		t.Errorf("topic() = %q, want custom/quad-1", tr.topic())
	}
}

func TestStart_MissingBroker(t *testing.T) {
	tr := New(Config{LinkID: "test"})
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty broker")
	}
}

func TestStart_MissingLinkID(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty link ID")
	}
}

func TestSendFrame_NotConnected(t *testing.T) {
	tr := newTestTransport()

	err := tr.SendFrame(codec.NewObject(0x1234, 0, []byte{0x01, 0x02}))
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestIsConnected_Default(t *testing.T) {
	tr := newTestTransport()
	if tr.IsConnected() {
		t.Error("expected not connected initially")
	}
}

func TestHandleMessage_DispatchesFrames(t *testing.T) {
	tr := newTestTransport()

	var received []*codec.Frame
	tr.SetFrameHandler(func(f *codec.Frame, source transport.FrameSource) {
		if source != transport.FrameSourceMQTT {
			t.Errorf("expected FrameSourceMQTT, got %v", source)
		}
		received = append(received, f)
	})

	payload := encodeBase64(t,
		codec.NewObject(0x1111, 0, []byte{0xAA}),
		codec.NewObjectRequest(0x2222, 1),
	)
	tr.handleMessage(nil, &fakeMessage{topic: tr.topic(), payload: payload})

	if len(received) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(received))
	}
	if received[1].Type != codec.TypeObjReq || received[1].InstanceID != 1 {
		t.Errorf("second frame = %+v", received[1])
	}
}

func TestHandleMessage_NoHandler(t *testing.T) {
	tr := newTestTransport()
	// Should not panic
	tr.handleMessage(nil, &fakeMessage{payload: encodeBase64(t, codec.NewAck(1, 0))})
}

func TestDecodePayload_Errors(t *testing.T) {
	tr := newTestTransport()

	good, err := codec.EncodeFrame(codec.NewObject(1, 0, []byte{0x01}))
	if err != nil {
		t.Fatal(err)
	}
	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF

	tests := []struct {
		name    string
		payload []byte
		want    int
	}{
		{name: "not base64", payload: []byte("!!!not base64"), want: 0},
		{name: "empty", payload: nil, want: 0},
		{name: "bad checksum", payload: []byte(base64.StdEncoding.EncodeToString(corrupt)), want: 0},
		{
			name:    "good then bad",
			payload: []byte(base64.StdEncoding.EncodeToString(append(append([]byte(nil), good...), corrupt...))),
			want:    1,
		},
		{name: "truncated", payload: []byte(base64.StdEncoding.EncodeToString(good[:len(good)-1])), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tr.decodePayload(tt.payload)); got != tt.want {
				t.Errorf("decodePayload() = %d frames, want %d", got, tt.want)
			}
		})
	}
}

func TestRandomString(t *testing.T) {
	s := randomString(16)
	if len(s) != 16 {
		t.Errorf("len = %d, want 16", len(s))
	}
}
