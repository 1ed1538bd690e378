// Package router connects UAVTalk transports to application logic.
//
// The Router sits between transports (serial, MQTT) and the application. For
// every received frame it:
//   - drops echoes of frames it published itself (MQTT has no no-local option)
//   - dispatches the frame to the application handler
//   - in bridge mode, relays the frame unchanged to every other transport
//   - otherwise acts as a UAVTalk endpoint: answers OBJ_ACK with ACK, serves
//     OBJ_REQ through the request handler (NACK when it cannot), and resolves
//     or rejects pending transactions on ACK, NACK and OBJ replies
//
// Outbound frames go through a priority send queue once Start is called.
// Replies are sent ahead of relayed traffic, which is sent ahead of locally
// originated updates.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/uavtalk-go/core"
	"github.com/kabili207/uavtalk-go/core/ack"
	"github.com/kabili207/uavtalk-go/core/clock"
	"github.com/kabili207/uavtalk-go/core/codec"
	"github.com/kabili207/uavtalk-go/core/dedupe"
	"github.com/kabili207/uavtalk-go/transport"
)

const (
	// DefaultDrainInterval is the default interval for the send queue drain loop.
	DefaultDrainInterval = 5 * time.Millisecond

	// Send priorities. Lower is sent first.
	PriorityReply   = 0 // ACK, NACK and OBJ replies to requests
	PriorityForward = 1 // Frames relayed in bridge mode
	PriorityLocal   = 2 // Updates and requests originated here
)

// ErrNoTransport is returned when a frame could not be handed to any
// connected transport.
var ErrNoTransport = errors.New("no connected transport")

// FrameHandler is called for every frame the router accepts, before any
// reply or forwarding decision is made.
type FrameHandler func(frame *codec.Frame, src transport.FrameSource)

// RequestHandler serves an OBJ_REQ. It returns the current data of the
// requested object instance, or false if the instance is unknown, in which
// case the router answers with a NACK.
type RequestHandler func(key core.ObjectKey) (data []byte, ok bool)

// Config configures a Router.
type Config struct {
	// ForwardFrames enables bridge mode. Received frames are relayed to every
	// other transport and transactions are left to the endpoints.
	ForwardFrames bool

	// Timestamp stamps locally originated frames with the link clock.
	Timestamp bool

	// Tracker configures retries for SendObjectAcked and RequestObject.
	Tracker ack.TrackerConfig

	// EchoCapacity is the number of published frames remembered for echo
	// suppression. Default: 128.
	EchoCapacity int

	// DrainInterval is how often the queue drain goroutine checks for ready
	// frames. Default: 5ms. Only used when Start() is called.
	DrainInterval time.Duration

	// Logger for routing events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Router routes UAVTalk frames between transports and the application.
type Router struct {
	Counters RouterCounters

	cfg     Config
	log     *slog.Logger
	dedup   *dedupe.FrameDeduplicator
	tracker *ack.Tracker
	clock   *clock.Clock
	queue   *SendQueue

	mu         sync.RWMutex
	transports []transportEntry
	onFrame    FrameHandler
	onRequest  RequestHandler

	cancel    context.CancelFunc
	drainDone chan struct{}
	started   bool
}

type transportEntry struct {
	transport transport.Transport
	source    transport.FrameSource
}

// New creates a Router with the given configuration.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tracker.Logger == nil {
		cfg.Tracker.Logger = logger
	}

	return &Router{
		cfg:     cfg,
		log:     logger.WithGroup("router"),
		dedup:   dedupe.NewWithCapacity(cfg.EchoCapacity),
		tracker: ack.NewTracker(cfg.Tracker),
		clock:   clock.New(),
		queue:   NewSendQueue(),
	}
}

// Start begins the queue drain goroutine and the transaction timeout loop.
// If Start is never called, frames are sent synchronously and pending
// transactions never time out. Calling Start on a running router does
// nothing.
func (r *Router) Start(ctx context.Context) {
	interval := r.cfg.DrainInterval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.drainDone = done
	r.started = true
	r.mu.Unlock()

	go r.tracker.Start(ctx)
	go r.drainLoop(ctx, interval, done)
}

// Stop cancels the background goroutines and waits for the drain loop to
// finish. Frames still queued are discarded.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.drainDone
	r.cancel = nil
	r.started = false
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	r.tracker.Stop()
	cancel()
	<-done
	if n := r.queue.Len(); n > 0 {
		r.log.Debug("discarding queued frames", "count", n)
		r.queue.Clear()
	}
}

// drainLoop pops ready frames from the send queue and sends them.
func (r *Router) drainLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for entry := r.queue.Pop(); entry != nil; entry = r.queue.Pop() {
				r.deliver(entry)
			}
		}
	}
}

// enqueue adds a frame to the send queue if the drain goroutine is running,
// otherwise sends synchronously.
func (r *Router) enqueue(frame *codec.Frame, priority uint8, src transport.FrameSource, scope Scope) error {
	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()

	if !started {
		return r.deliver(&QueueEntry{Frame: frame, Source: src, Scope: scope})
	}
	r.queue.Push(frame, priority, 0, src, scope)
	return nil
}

// SetFrameHandler sets the callback for frames accepted by the router.
func (r *Router) SetFrameHandler(fn FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFrame = fn
}

// SetRequestHandler sets the callback that serves OBJ_REQ frames when the
// router is not in bridge mode. Without one, every request is answered with
// a NACK.
func (r *Router) SetRequestHandler(fn RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRequest = fn
}

// AddTransport registers a transport with the router. The router installs
// itself as the transport's frame handler so that incoming frames are
// routed through HandleFrame.
func (r *Router) AddTransport(t transport.Transport, source transport.FrameSource) {
	r.mu.Lock()
	r.transports = append(r.transports, transportEntry{transport: t, source: source})
	r.mu.Unlock()

	t.SetFrameHandler(r.HandleFrame)
}

// HandleFrame is the routing entry point for a frame received on src.
func (r *Router) HandleFrame(frame *codec.Frame, src transport.FrameSource) {
	r.Counters.FramesRecv.Add(1)

	if src == transport.FrameSourceMQTT && r.dedup.Consume(frame) {
		r.Counters.Duplicates.Add(1)
		return
	}

	r.dispatchToApp(frame, src)

	if r.cfg.ForwardFrames {
		r.Counters.Forwarded.Add(1)
		if err := r.enqueue(frame, PriorityForward, src, ScopeOthers); err != nil {
			r.log.Debug("frame not forwarded", "object", frame.Key().String(), "error", err)
		}
		return
	}

	key := frame.Key()
	switch frame.Type {
	case codec.TypeObj:
		// An OBJ may be the reply to one of our requests.
		r.tracker.Resolve(key)

	case codec.TypeObjAck:
		r.reply(codec.NewAck(frame.ObjectID, frame.InstanceID), src)
		r.Counters.AcksSent.Add(1)

	case codec.TypeObjReq:
		r.serveRequest(key, src)

	case codec.TypeAck:
		r.Counters.AcksRecv.Add(1)
		if !r.tracker.Resolve(key) {
			r.log.Debug("unexpected ACK", "object", key.String())
		}

	case codec.TypeNack:
		r.Counters.NacksRecv.Add(1)
		if !r.tracker.Reject(key) {
			r.log.Debug("unexpected NACK", "object", key.String())
		}
	}
}

// serveRequest answers an OBJ_REQ with the object's data or a NACK.
func (r *Router) serveRequest(key core.ObjectKey, src transport.FrameSource) {
	r.mu.RLock()
	handler := r.onRequest
	r.mu.RUnlock()

	if handler != nil {
		if data, ok := handler(key); ok {
			r.reply(codec.NewObject(key.ObjectID, key.InstanceID, data), src)
			return
		}
	}
	r.reply(codec.NewNack(key.ObjectID, key.InstanceID), src)
	r.Counters.NacksSent.Add(1)
}

// reply sends a frame back on the transport identified by src only.
func (r *Router) reply(frame *codec.Frame, src transport.FrameSource) {
	r.stamp(frame)
	if err := r.enqueue(frame, PriorityReply, src, ScopeSource); err != nil {
		r.log.Debug("reply not sent", "type", frame.Type.String(), "object", frame.Key().String(), "error", err)
	}
}

// dispatchToApp calls the registered application frame handler.
func (r *Router) dispatchToApp(frame *codec.Frame, src transport.FrameSource) {
	r.mu.RLock()
	handler := r.onFrame
	r.mu.RUnlock()

	if handler != nil {
		handler(frame, src)
	}
}

// SendObject sends an OBJ update to every connected transport.
func (r *Router) SendObject(id core.ObjectID, inst core.InstanceID, data []byte) error {
	frame := codec.NewObject(id, inst, data)
	r.stamp(frame)
	return r.enqueue(frame, PriorityLocal, transport.FrameSourceLocal, ScopeAll)
}

// SendObjectAcked sends an OBJ_ACK update and tracks it until the remote end
// acknowledges it. The frame is resent on timeout up to the tracker's retry
// limit. Any pending transaction for the same object instance is replaced.
func (r *Router) SendObjectAcked(id core.ObjectID, inst core.InstanceID, data []byte, pending ack.Pending) error {
	frame := codec.NewObjectAck(id, inst, data)
	return r.sendTracked(frame, pending)
}

// RequestObject sends an OBJ_REQ and tracks it until the requested OBJ or a
// NACK arrives. The reply data is delivered through the frame handler.
func (r *Router) RequestObject(id core.ObjectID, inst core.InstanceID, pending ack.Pending) error {
	frame := codec.NewObjectRequest(id, inst)
	return r.sendTracked(frame, pending)
}

// PendingTransactions returns the number of transactions awaiting a reply.
func (r *Router) PendingTransactions() int {
	return r.tracker.PendingCount()
}

func (r *Router) sendTracked(frame *codec.Frame, pending ack.Pending) error {
	key := frame.Key()
	onTimeout := pending.OnTimeout
	pending.OnTimeout = func() {
		r.Counters.Timeouts.Add(1)
		r.log.Warn("transaction timed out", "type", frame.Type.String(), "object", key.String())
		if onTimeout != nil {
			onTimeout()
		}
	}
	if pending.Resend == nil {
		pending.Resend = func() error {
			retry := frame.Clone()
			r.stamp(retry)
			return r.enqueue(retry, PriorityLocal, transport.FrameSourceLocal, ScopeAll)
		}
	}

	r.stamp(frame)
	r.tracker.Track(key, pending)
	if err := r.enqueue(frame, PriorityLocal, transport.FrameSourceLocal, ScopeAll); err != nil {
		r.tracker.Cancel(key)
		return err
	}
	return nil
}

// stamp sets the link timestamp on a locally originated frame when enabled.
func (r *Router) stamp(frame *codec.Frame) {
	if r.cfg.Timestamp {
		frame.WithTimestamp(r.clock.Millis())
	}
}

// deliver sends a queue entry to its transports.
func (r *Router) deliver(entry *QueueEntry) error {
	r.mu.RLock()
	entries := make([]transportEntry, len(r.transports))
	copy(entries, r.transports)
	r.mu.RUnlock()

	var errs []error
	sent := 0
	for _, te := range entries {
		if !entry.includes(te.source) || !te.transport.IsConnected() {
			continue
		}
		if err := r.send(te, entry.Frame); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		errs = append(errs, ErrNoTransport)
	}
	return errors.Join(errs...)
}

func (r *Router) send(te transportEntry, frame *codec.Frame) error {
	// Mark before publishing: the broker may deliver the echo before
	// SendFrame returns.
	if te.source == transport.FrameSourceMQTT {
		r.dedup.Mark(frame)
	}
	if err := te.transport.SendFrame(frame); err != nil {
		if te.source == transport.FrameSourceMQTT {
			r.dedup.Consume(frame)
		}
		r.log.Warn("failed to send frame",
			"transport", te.source.String(), "type", frame.Type.String(), "error", err)
		return err
	}
	r.Counters.FramesSent.Add(1)
	return nil
}
