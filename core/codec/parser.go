package codec

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kabili207/uavtalk-go/core"
	"github.com/kabili207/uavtalk-go/core/crc8"
)

type parserState int

const (
	stateSync parserState = iota
	stateType
	stateSize
	stateObjID
	stateInstID
	stateTimestamp
	stateData
	stateChecksum
)

// ParserStats tracks stream decoding statistics using atomic counters.
// All fields are safe for concurrent access.
type ParserStats struct {
	RxBytes        atomic.Uint32 // Bytes fed to the parser
	RxFrames       atomic.Uint32 // Frames that passed the checksum
	RxDiscarded    atomic.Uint32 // Bytes skipped while hunting for sync
	RxHeaderErrors atomic.Uint32 // Frames dropped for a bad type or length
	RxCRCErrors    atomic.Uint32 // Frames dropped for a checksum mismatch
}

// StatsSnapshot is a plain-value copy of ParserStats for reading.
type StatsSnapshot struct {
	RxBytes        uint32
	RxFrames       uint32
	RxDiscarded    uint32
	RxHeaderErrors uint32
	RxCRCErrors    uint32
}

// Snapshot returns a point-in-time copy of all counters.
func (s *ParserStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		RxBytes:        s.RxBytes.Load(),
		RxFrames:       s.RxFrames.Load(),
		RxDiscarded:    s.RxDiscarded.Load(),
		RxHeaderErrors: s.RxHeaderErrors.Load(),
		RxCRCErrors:    s.RxCRCErrors.Load(),
	}
}

// Reset zeroes all counters.
func (s *ParserStats) Reset() {
	s.RxBytes.Store(0)
	s.RxFrames.Store(0)
	s.RxDiscarded.Store(0)
	s.RxHeaderErrors.Store(0)
	s.RxCRCErrors.Store(0)
}

// Parser decodes frames from a byte stream one byte at a time. The CRC is
// accumulated as bytes arrive, so a frame may be split across any number of
// reads. A Parser is not safe for concurrent use; Stats may be read from any
// goroutine.
type Parser struct {
	Stats ParserStats

	state     parserState
	crc       byte
	count     int // bytes consumed of the current multi-byte field
	length    int // declared length (header + data)
	hdrLen    int
	frame     *Frame
	remaining int // data bytes still expected
}

// NewParser returns a parser waiting for a sync byte.
func NewParser() *Parser {
	return &Parser{}
}

// Parse feeds data through the parser and returns every frame completed along
// the way. Frames dropped for header or checksum errors are reported through
// the joined error; parsing continues after them.
func (p *Parser) Parse(data []byte) ([]*Frame, error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		frame, err := p.ProcessByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errors.Join(errs...)
}

// ProcessByte advances the parser by one byte. It returns a frame when the
// byte completes a frame with a valid checksum, and an error when the byte
// causes the current frame to be dropped.
func (p *Parser) ProcessByte(b byte) (*Frame, error) {
	p.Stats.RxBytes.Add(1)

	switch p.state {
	case stateSync:
		if b != SyncVal {
			p.Stats.RxDiscarded.Add(1)
			return nil, nil
		}
		p.crc = crc8.Update(0, b)
		p.frame = &Frame{}
		p.state = stateType

	case stateType:
		p.crc = crc8.Update(p.crc, b)
		msgType, timestamped, err := parseTypeByte(b)
		if err != nil {
			return nil, p.dropHeader(err)
		}
		p.frame.Type = msgType
		p.frame.Timestamped = timestamped
		p.hdrLen = p.frame.HeaderLen()
		p.count = 0
		p.length = 0
		p.state = stateSize

	case stateSize:
		p.crc = crc8.Update(p.crc, b)
		p.length |= int(b) << (8 * p.count)
		p.count++
		if p.count < 2 {
			return nil, nil
		}
		if p.length < p.hdrLen {
			return nil, p.dropHeader(fmt.Errorf("%w: %d < %d", ErrLengthMismatch, p.length, p.hdrLen))
		}
		if p.length-p.hdrLen > MaxPayloadLength {
			return nil, p.dropHeader(ErrPayloadTooLarge)
		}
		p.count = 0
		p.state = stateObjID

	case stateObjID:
		p.crc = crc8.Update(p.crc, b)
		p.frame.ObjectID |= core.ObjectID(b) << (8 * p.count)
		p.count++
		if p.count == 4 {
			p.count = 0
			p.state = stateInstID
		}

	case stateInstID:
		p.crc = crc8.Update(p.crc, b)
		p.frame.InstanceID |= core.InstanceID(b) << (8 * p.count)
		p.count++
		if p.count == 2 {
			p.count = 0
			if p.frame.Timestamped {
				p.state = stateTimestamp
			} else {
				p.startData()
			}
		}

	case stateTimestamp:
		p.crc = crc8.Update(p.crc, b)
		p.frame.Timestamp |= uint16(b) << (8 * p.count)
		p.count++
		if p.count == 2 {
			p.count = 0
			p.startData()
		}

	case stateData:
		p.crc = crc8.Update(p.crc, b)
		p.frame.Data = append(p.frame.Data, b)
		p.remaining--
		if p.remaining == 0 {
			p.state = stateChecksum
		}

	case stateChecksum:
		frame := p.frame
		expected := p.crc
		p.reset()
		if b != expected {
			p.Stats.RxCRCErrors.Add(1)
			return nil, fmt.Errorf("%w: object %s: expected %02x, got %02x",
				ErrChecksumMismatch, frame.ObjectID, expected, b)
		}
		p.Stats.RxFrames.Add(1)
		return frame, nil
	}

	return nil, nil
}

// Reset discards any partially received frame.
func (p *Parser) Reset() {
	p.reset()
}

func (p *Parser) startData() {
	p.remaining = p.length - p.hdrLen
	if p.remaining == 0 {
		p.state = stateChecksum
		return
	}
	p.frame.Data = make([]byte, 0, p.remaining)
	p.state = stateData
}

func (p *Parser) dropHeader(err error) error {
	p.Stats.RxHeaderErrors.Add(1)
	p.reset()
	return err
}

func (p *Parser) reset() {
	p.state = stateSync
	p.crc = 0
	p.count = 0
	p.length = 0
	p.hdrLen = 0
	p.remaining = 0
	p.frame = nil
}
