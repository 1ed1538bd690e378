package serial

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/kabili207/uavtalk-go/core/codec"
	"github.com/kabili207/uavtalk-go/transport"
)

func newTestTransport() *Transport {
	return New(Config{Port: "/dev/null", Logger: slog.New(slog.DiscardHandler)})
}

// encodeFrame encodes a frame for feeding to the transport.
func encodeFrame(t *testing.T, frame *codec.Frame) []byte {
	t.Helper()
	data, err := codec.EncodeFrame(frame)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	return data
}

func TestProcessBytes_SingleFrame(t *testing.T) {
	data := encodeFrame(t, codec.NewObject(0x12345678, 0, []byte{0x01, 0x02, 0x03, 0x04}))

	var received []*codec.Frame
	var mu sync.Mutex

	tr := newTestTransport()
	tr.frameHandler = func(f *codec.Frame, source transport.FrameSource) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, f)
		if source != transport.FrameSourceSerial {
			t.Errorf("expected FrameSourceSerial, got %v", source)
		}
	}

	tr.processBytes(data)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(received))
	}
	if received[0].ObjectID != 0x12345678 {
		t.Errorf("object ID mismatch: got %s", received[0].ObjectID)
	}
}

func TestProcessBytes_MultipleFrames(t *testing.T) {
	combined := append(
		encodeFrame(t, codec.NewObject(0x1111, 0, []byte{0xAA})),
		encodeFrame(t, codec.NewAck(0x2222, 0))...,
	)

	var received []*codec.Frame
	tr := newTestTransport()
	tr.frameHandler = func(f *codec.Frame, _ transport.FrameSource) {
		received = append(received, f)
	}

	tr.processBytes(combined)

	if len(received) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(received))
	}
	if received[0].Type != codec.TypeObj || received[1].Type != codec.TypeAck {
		t.Errorf("frame types = %v, %v; want OBJ, ACK", received[0].Type, received[1].Type)
	}
}

func TestProcessBytes_IncrementalAssembly(t *testing.T) {
	data := encodeFrame(t, codec.NewObject(0x12345678, 0, []byte("slow serial")))

	var received []*codec.Frame
	tr := newTestTransport()
	tr.frameHandler = func(f *codec.Frame, _ transport.FrameSource) {
		received = append(received, f)
	}

	// Feed bytes one at a time, simulating slow serial arrival
	for i := range data {
		tr.processBytes(data[i : i+1])
	}

	if len(received) != 1 {
		t.Fatalf("expected 1 frame after incremental assembly, got %d", len(received))
	}
	if string(received[0].Data) != "slow serial" {
		t.Errorf("data = %q", received[0].Data)
	}
}

func TestProcessBytes_GarbageBeforeFrame(t *testing.T) {
	garbage := []byte{0x00, 0x01, 0x02, 0xFF}
	data := append(garbage, encodeFrame(t, codec.NewObject(1, 0, nil))...)

	var received []*codec.Frame
	tr := newTestTransport()
	tr.frameHandler = func(f *codec.Frame, _ transport.FrameSource) {
		received = append(received, f)
	}

	tr.processBytes(data)

	if len(received) != 1 {
		t.Fatalf("expected 1 frame after skipping garbage, got %d", len(received))
	}
	if got := tr.Stats().RxDiscarded; got != uint32(len(garbage)) {
		t.Errorf("RxDiscarded = %d, want %d", got, len(garbage))
	}
}

func TestProcessBytes_CorruptFrameDropped(t *testing.T) {
	bad := encodeFrame(t, codec.NewObject(1, 0, []byte{0x10}))
	bad[len(bad)-2] ^= 0x01 // flip a data bit
	good := encodeFrame(t, codec.NewObject(2, 0, []byte{0x20}))

	var received []*codec.Frame
	tr := newTestTransport()
	tr.frameHandler = func(f *codec.Frame, _ transport.FrameSource) {
		received = append(received, f)
	}

	tr.processBytes(append(bad, good...))

	if len(received) != 1 || received[0].ObjectID != 2 {
		t.Fatalf("expected only the intact frame, got %d frames", len(received))
	}
	if got := tr.Stats().RxCRCErrors; got != 1 {
		t.Errorf("RxCRCErrors = %d, want 1", got)
	}
}

func TestProcessBytes_NoHandler(t *testing.T) {
	tr := newTestTransport()
	// No handler set, should not panic
	tr.processBytes(encodeFrame(t, codec.NewObject(1, 0, nil)))

	if got := tr.Stats().RxFrames; got != 1 {
		t.Errorf("RxFrames = %d, want 1", got)
	}
}

func TestSendFrame_NotConnected(t *testing.T) {
	tr := New(Config{Port: "/dev/null", BaudRate: 115200})

	err := tr.SendFrame(codec.NewObject(1, 0, nil))
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestStart_MissingPort(t *testing.T) {
	tr := New(Config{})
	if err := tr.Start(t.Context()); err == nil {
		t.Fatal("expected error with empty port")
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Port: "/dev/ttyUSB0"})
	if tr.cfg.BaudRate != DefaultBaudRate {
		t.Errorf("expected default baud rate %d, got %d", DefaultBaudRate, tr.cfg.BaudRate)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
	if tr.parser == nil {
		t.Error("expected parser to be set")
	}
	if tr.IsConnected() {
		t.Error("should not be connected before Start")
	}
}
