package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/uavtalk-go/core"
	"github.com/kabili207/uavtalk-go/core/codec"
)

// DefaultMaxObjects is the default capacity of a MemoryStore.
const DefaultMaxObjects = 512

// Compile-time interface check.
var _ ObjectStore = (*MemoryStore)(nil)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// MaxObjects is the maximum number of instances to store.
	// Default: 512 (DefaultMaxObjects).
	MaxObjects int

	// OverwriteWhenFull evicts the least recently updated unpinned instance
	// when the store is full. When false, Put returns ErrStoreFull.
	OverwriteWhenFull bool

	// Logger for store events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// MemoryStore is a thread-safe in-memory ObjectStore.
type MemoryStore struct {
	cfg     MemoryConfig
	log     *slog.Logger
	mu      sync.RWMutex
	objects map[core.ObjectKey]*Object

	onUpdate func(obj Object, isNew bool)
	onEvict  func(key core.ObjectKey)

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewMemoryStore creates a MemoryStore with the given configuration.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = DefaultMaxObjects
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		cfg:     cfg,
		log:     logger.WithGroup("store"),
		objects: make(map[core.ObjectKey]*Object),
		nowFn:   time.Now,
	}
}

// SetOnUpdate sets the callback invoked after an instance is written.
func (s *MemoryStore) SetOnUpdate(fn func(obj Object, isNew bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// SetOnEvict sets the callback invoked when an instance is evicted to make
// room for a new one.
func (s *MemoryStore) SetOnEvict(fn func(key core.ObjectKey)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Put records new data for an instance. The data is copied.
func (s *MemoryStore) Put(obj Object) (bool, error) {
	s.mu.Lock()
	stored, found := s.objects[obj.Key]
	var evicted *core.ObjectKey
	if !found {
		if len(s.objects) >= s.cfg.MaxObjects {
			key, ok := s.evictOldest()
			if !ok {
				s.mu.Unlock()
				return false, ErrStoreFull
			}
			evicted = &key
		}
		stored = &Object{Key: obj.Key, Pinned: obj.Pinned}
		s.objects[obj.Key] = stored
	}

	stored.Data = append([]byte(nil), obj.Data...)
	stored.Timestamp = obj.Timestamp
	stored.Timestamped = obj.Timestamped
	stored.Updated = s.nowFn()
	stored.Updates++
	snapshot := stored.clone()
	onUpdate := s.onUpdate
	onEvict := s.onEvict
	s.mu.Unlock()

	if evicted != nil {
		s.log.Debug("evicted object", "object", evicted.String())
		if onEvict != nil {
			onEvict(*evicted)
		}
	}
	if onUpdate != nil {
		onUpdate(snapshot, !found)
	}
	return !found, nil
}

// Update records the data carried by an OBJ or OBJ_ACK frame. Other frame
// types carry no object data and are ignored.
func (s *MemoryStore) Update(frame *codec.Frame) (bool, error) {
	if frame.Type != codec.TypeObj && frame.Type != codec.TypeObjAck {
		return false, nil
	}
	return s.Put(Object{
		Key:         frame.Key(),
		Data:        frame.Data,
		Timestamp:   frame.Timestamp,
		Timestamped: frame.Timestamped,
	})
}

// Get returns a copy of the stored instance.
func (s *MemoryStore) Get(key core.ObjectKey) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, false
	}
	return obj.clone(), true
}

// Lookup returns the stored data of an instance. It has the shape of a
// router request handler, so a store can answer OBJ_REQ directly.
func (s *MemoryStore) Lookup(key core.ObjectKey) ([]byte, bool) {
	obj, ok := s.Get(key)
	return obj.Data, ok
}

// Remove deletes an instance.
func (s *MemoryStore) Remove(key core.ObjectKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

// Pin protects an instance from eviction, or releases it.
func (s *MemoryStore) Pin(key core.ObjectKey, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return ErrObjectNotFound
	}
	obj.Pinned = pinned
	return nil
}

// Count returns the number of stored instances.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ForEach calls fn with a copy of each instance, in no particular order.
// Holds a read lock for the duration of iteration, so fn must not write to
// the store.
func (s *MemoryStore) ForEach(fn func(obj Object) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obj := range s.objects {
		if !fn(obj.clone()) {
			return
		}
	}
}

// evictOldest removes the least recently updated unpinned instance.
//
// Must be called with s.mu held for writing.
func (s *MemoryStore) evictOldest() (core.ObjectKey, bool) {
	if !s.cfg.OverwriteWhenFull {
		return core.ObjectKey{}, false
	}

	var oldest *Object
	for _, obj := range s.objects {
		if obj.Pinned {
			continue
		}
		if oldest == nil || obj.Updated.Before(oldest.Updated) {
			oldest = obj
		}
	}
	if oldest == nil {
		// Every instance is pinned
		return core.ObjectKey{}, false
	}

	delete(s.objects, oldest.Key)
	return oldest.Key, true
}

func (o *Object) clone() Object {
	c := *o
	c.Data = append([]byte(nil), o.Data...)
	return c
}
