// Package ack tracks UAVTalk transactions that expect a reply.
//
// A TypeObjAck update expects a TypeAck and a TypeObjReq expects either the
// requested TypeObj or a TypeNack. The Tracker holds one pending transaction
// per object instance, resends on timeout and reports the outcome through
// callbacks.
package ack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/uavtalk-go/core"
)

const (
	// DefaultACKTimeout is the default time to wait for a reply before
	// resending or giving up.
	DefaultACKTimeout = 250 * time.Millisecond

	// DefaultMaxRetries is the default number of retry attempts after the
	// initial send (total attempts = 1 + MaxRetries).
	DefaultMaxRetries = 2

	// DefaultCheckInterval is the resolution of the timeout check loop.
	DefaultCheckInterval = 50 * time.Millisecond
)

// Pending represents an outbound transaction awaiting a reply.
type Pending struct {
	// OnACK is called when the transaction completes. May be nil.
	OnACK func()

	// OnNACK is called when the remote end rejects the request. May be nil.
	OnNACK func()

	// OnTimeout is called when all retry attempts are exhausted. May be nil.
	OnTimeout func()

	// Resend is called for each retry attempt. If it returns an error the
	// retry is counted but the error is logged. May be nil (no retries).
	Resend func() error

	sentAt  time.Time
	retries int
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// ACKTimeout is the maximum time to wait for a reply per attempt.
	// Default: 250ms.
	ACKTimeout time.Duration

	// MaxRetries is the number of retry attempts after the initial send.
	// Zero disables retries; negative selects the default of 2.
	MaxRetries int

	// CheckInterval is how often Start checks for timeouts. Default: 50ms.
	CheckInterval time.Duration

	// Logger for tracker events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Tracker tracks pending transactions and handles timeouts and retries.
type Tracker struct {
	cfg     TrackerConfig
	log     *slog.Logger
	mu      sync.Mutex
	pending map[core.ObjectKey]*Pending
	cancel  context.CancelFunc

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.ACKTimeout <= 0 {
		cfg.ACKTimeout = DefaultACKTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:     cfg,
		log:     logger.WithGroup("ack"),
		pending: make(map[core.ObjectKey]*Pending),
		nowFn:   time.Now,
	}
}

// Track registers a pending transaction. If one is already pending for the
// same object instance it is replaced and its callbacks are not called.
func (t *Tracker) Track(key core.ObjectKey, pending Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending.sentAt = t.nowFn()
	pending.retries = 0
	t.pending[key] = &pending
}

// Resolve completes a transaction. Returns true if the key was pending.
// If found, the entry's OnACK callback is called and the entry is removed.
func (t *Tracker) Resolve(key core.ObjectKey) bool {
	p := t.take(key)
	if p != nil && p.OnACK != nil {
		p.OnACK()
	}
	return p != nil
}

// Reject fails a transaction after a NACK. Returns true if the key was
// pending. If found, the entry's OnNACK callback is called and the entry is
// removed.
func (t *Tracker) Reject(key core.ObjectKey) bool {
	p := t.take(key)
	if p != nil && p.OnNACK != nil {
		p.OnNACK()
	}
	return p != nil
}

// Cancel removes a pending transaction without calling any callbacks.
func (t *Tracker) Cancel(key core.ObjectKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
}

// IsPending reports whether a transaction is pending for key.
func (t *Tracker) IsPending(key core.ObjectKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}

// PendingCount returns the number of pending transactions.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Start begins the timeout check loop. Blocks until the context is cancelled
// or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkTimeouts()
		}
	}
}

// Stop cancels the tracker's context, stopping the timeout check loop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Tracker) take(key core.ObjectKey) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[key]
	if !ok {
		return nil
	}
	delete(t.pending, key)
	return p
}

// checkTimeouts checks all pending transactions for timeout and triggers
// retries or timeout callbacks as appropriate.
func (t *Tracker) checkTimeouts() {
	t.mu.Lock()
	now := t.nowFn()

	retryEntries := make(map[core.ObjectKey]*Pending)
	timeoutEntries := make(map[core.ObjectKey]*Pending)

	for key, p := range t.pending {
		if now.Sub(p.sentAt) < t.cfg.ACKTimeout {
			continue
		}
		if p.retries < t.cfg.MaxRetries && p.Resend != nil {
			p.retries++
			p.sentAt = now
			retryEntries[key] = p
		} else {
			timeoutEntries[key] = p
			delete(t.pending, key)
		}
	}
	t.mu.Unlock()

	// Callbacks run outside the lock so they may call back into the tracker.
	for key, p := range retryEntries {
		if err := p.Resend(); err != nil {
			t.log.Warn("retry failed", "object", key.String(), "attempt", p.retries, "error", err)
		} else {
			t.log.Debug("retrying", "object", key.String(), "attempt", p.retries)
		}
	}

	for key, p := range timeoutEntries {
		t.log.Debug("transaction timed out", "object", key.String(), "retries", p.retries)
		if p.OnTimeout != nil {
			p.OnTimeout()
		}
	}
}
