// Package connection watches the transports of a UAVTalk link for silence.
//
// A flight controller streams telemetry continuously, so a link that stops
// delivering frames has almost certainly failed even if its transport still
// reports itself connected (a radio out of range, a stalled broker). The
// Monitor records when each frame source last delivered a frame and reports
// a source as lost once it has been silent for Interval × TimeoutMultiplier.
package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/uavtalk-go/transport"
)

const (
	// DefaultInterval is the expected maximum gap between frames on a healthy
	// link. Flight controllers send their telemetry statistics object at
	// least this often.
	DefaultInterval = 2 * time.Second

	// DefaultTimeoutMultiplier is applied to Interval to determine when a
	// source is considered lost.
	DefaultTimeoutMultiplier = 2.5

	// DefaultCheckInterval is the resolution of the monitor's check loop.
	DefaultCheckInterval = time.Second
)

// SourceState describes the activity of one frame source.
type SourceState struct {
	Source   transport.FrameSource
	LastSeen time.Time
	Frames   uint64
	Alive    bool
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Interval is the expected maximum gap between frames. Default: 2s.
	Interval time.Duration

	// TimeoutMultiplier is applied to Interval to determine when a source is
	// lost. Default: 2.5.
	TimeoutMultiplier float64

	// CheckInterval is how often Start checks for silent sources.
	// Default: 1s.
	CheckInterval time.Duration

	// Logger for link events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Monitor tracks per-source frame activity and detects silent links.
type Monitor struct {
	cfg     MonitorConfig
	log     *slog.Logger
	mu      sync.Mutex
	sources map[transport.FrameSource]*SourceState
	onAlive func(src transport.FrameSource)
	onLost  func(src transport.FrameSource, silence time.Duration)
	cancel  context.CancelFunc

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewMonitor creates a link monitor with the given configuration.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TimeoutMultiplier <= 0 {
		cfg.TimeoutMultiplier = DefaultTimeoutMultiplier
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		log:     logger.WithGroup("link"),
		sources: make(map[transport.FrameSource]*SourceState),
		nowFn:   time.Now,
	}
}

// Timeout returns the silence after which a source is reported lost.
func (m *Monitor) Timeout() time.Duration {
	return time.Duration(float64(m.cfg.Interval) * m.cfg.TimeoutMultiplier)
}

// SetOnAlive sets the callback invoked when a source delivers its first
// frame, or its first frame after being lost.
func (m *Monitor) SetOnAlive(fn func(src transport.FrameSource)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlive = fn
}

// SetOnLost sets the callback invoked when a source falls silent.
func (m *Monitor) SetOnLost(fn func(src transport.FrameSource, silence time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = fn
}

// Touch records a frame from src.
func (m *Monitor) Touch(src transport.FrameSource) {
	m.mu.Lock()
	s, ok := m.sources[src]
	if !ok {
		s = &SourceState{Source: src}
		m.sources[src] = s
	}
	s.LastSeen = m.nowFn()
	s.Frames++
	revived := !s.Alive
	s.Alive = true
	onAlive := m.onAlive
	m.mu.Unlock()

	if revived {
		m.log.Info("link active", "source", src.String())
		if onAlive != nil {
			onAlive(src)
		}
	}
}

// Forget stops tracking src. No callback is called.
func (m *Monitor) Forget(src transport.FrameSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, src)
}

// IsAlive reports whether src has delivered a frame within the timeout as of
// the last check.
func (m *Monitor) IsAlive(src transport.FrameSource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[src]
	return ok && s.Alive
}

// State returns a copy of the activity record for src.
func (m *Monitor) State(src transport.FrameSource) (SourceState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[src]
	if !ok {
		return SourceState{}, false
	}
	return *s, true
}

// CheckTimeouts marks every source that has been silent longer than the
// timeout as lost and fires the lost callback once per transition.
func (m *Monitor) CheckTimeouts() {
	m.mu.Lock()
	now := m.nowFn()
	timeout := m.Timeout()

	type lostSource struct {
		src     transport.FrameSource
		silence time.Duration
	}
	var lost []lostSource
	for src, s := range m.sources {
		if !s.Alive {
			continue
		}
		if silence := now.Sub(s.LastSeen); silence > timeout {
			s.Alive = false
			lost = append(lost, lostSource{src, silence})
		}
	}
	onLost := m.onLost
	m.mu.Unlock()

	for _, l := range lost {
		m.log.Warn("link silent", "source", l.src.String(), "silence", l.silence)
		if onLost != nil {
			onLost(l.src, l.silence)
		}
	}
}

// Start begins the periodic check loop. Blocks until the context is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckTimeouts()
		}
	}
}

// Stop cancels the monitor's context, stopping the check loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
