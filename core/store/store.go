// Package store keeps the latest known value of every UAVObject instance
// seen on a link.
package store

import (
	"errors"
	"time"

	"github.com/kabili207/uavtalk-go/core"
)

var (
	// ErrStoreFull is returned when the store is full and no entry could be
	// evicted (overwrite disabled or every entry is pinned).
	ErrStoreFull = errors.New("object store full")

	// ErrObjectNotFound is returned when a lookup fails.
	ErrObjectNotFound = errors.New("object not found")
)

// Object is a snapshot of one object instance.
type Object struct {
	Key  core.ObjectKey
	Data []byte
	// Timestamp is the link timestamp of the last update, if it carried one.
	Timestamp   uint16
	Timestamped bool
	// Updated is the local time of the last update.
	Updated time.Time
	// Updates counts how many times the instance has been written.
	Updates uint64
	// Pinned entries are never evicted.
	Pinned bool
}

// ObjectStore is the interface for object storage backends.
// The default in-memory implementation is MemoryStore.
//
// Implementations must return copies: callers may keep and modify what Get
// and ForEach hand them without affecting the store.
type ObjectStore interface {
	// Put records new data for an instance. isNew reports whether the
	// instance was not stored before. If the store is full and overwrite is
	// enabled, the least recently updated unpinned instance is evicted.
	// Returns ErrStoreFull if no slot is available.
	Put(obj Object) (isNew bool, err error)

	// Get returns the stored instance.
	Get(key core.ObjectKey) (Object, bool)

	// Remove deletes an instance. Returns ErrObjectNotFound if it is absent.
	Remove(key core.ObjectKey) error

	// Pin protects an instance from eviction. Returns ErrObjectNotFound if it
	// is absent.
	Pin(key core.ObjectKey, pinned bool) error

	// Count returns the number of stored instances.
	Count() int

	// ForEach calls fn for each instance. Return false from fn to stop.
	ForEach(fn func(obj Object) bool)
}
