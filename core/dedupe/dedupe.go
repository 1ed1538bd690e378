// Package dedupe suppresses echoed UAVTalk frames on bridged links.
//
// MQTT 3.1.1 delivers a client's own publications back to it when it is
// subscribed to the same topic. A bridge marks every frame it publishes and
// consumes the mark when the echo arrives, so the echo is not forwarded back
// to the flight controller. Frames are identified by a truncated SHA256 of
// their type, object instance and data.
package dedupe

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/kabili207/uavtalk-go/core/codec"
)

const (
	// DefaultMaxFrameHashes is the default capacity of the hash table.
	DefaultMaxFrameHashes = 128
	// FrameHashSize is the truncated SHA256 hash size for frame identification.
	FrameHashSize = 8
)

// FrameDeduplicator remembers recently sent frames in a circular buffer.
// It is safe for concurrent use.
type FrameDeduplicator struct {
	mu        sync.Mutex
	hashes    [][FrameHashSize]byte
	used      []bool
	maxHashes int
	next      int
}

// New creates a FrameDeduplicator with the default capacity.
func New() *FrameDeduplicator {
	return NewWithCapacity(DefaultMaxFrameHashes)
}

// NewWithCapacity creates a FrameDeduplicator holding up to maxHashes marks.
// Once full, the oldest mark is overwritten.
func NewWithCapacity(maxHashes int) *FrameDeduplicator {
	if maxHashes <= 0 {
		maxHashes = DefaultMaxFrameHashes
	}
	return &FrameDeduplicator{
		hashes:    make([][FrameHashSize]byte, maxHashes),
		used:      make([]bool, maxHashes),
		maxHashes: maxHashes,
	}
}

// Mark records a frame that is about to be sent.
func (d *FrameDeduplicator) Mark(frame *codec.Frame) {
	hash := CalculateFrameHash(frame)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashes[d.next] = hash
	d.used[d.next] = true
	d.next = (d.next + 1) % d.maxHashes
}

// Consume reports whether frame was marked. A matching mark is removed, so
// each Mark suppresses exactly one echo.
func (d *FrameDeduplicator) Consume(frame *codec.Frame) bool {
	hash := CalculateFrameHash(frame)

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.maxHashes {
		if d.used[i] && d.hashes[i] == hash {
			d.used[i] = false
			return true
		}
	}
	return false
}

// Len returns the number of outstanding marks.
func (d *FrameDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, u := range d.used {
		if u {
			n++
		}
	}
	return n
}

// Clear forgets all marks.
func (d *FrameDeduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.hashes)
	clear(d.used)
	d.next = 0
}

// CalculateFrameHash computes the 8-byte identification hash for a frame.
// The hash is SHA256(type, object ID, instance ID, data) truncated to 8 bytes.
// The timestamp is left out so a re-stamped frame still matches.
func CalculateFrameHash(frame *codec.Frame) [FrameHashSize]byte {
	var hdr [7]byte
	hdr[0] = byte(frame.Type)
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(frame.ObjectID))
	binary.LittleEndian.PutUint16(hdr[5:7], uint16(frame.InstanceID))

	h := sha256.New()
	h.Write(hdr[:])
	h.Write(frame.Data)
	sum := h.Sum(nil)

	var result [FrameHashSize]byte
	copy(result[:], sum[:FrameHashSize])
	return result
}
