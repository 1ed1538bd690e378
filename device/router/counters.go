package router

import "sync/atomic"

// RouterCounters tracks frame routing statistics using atomic counters.
// All fields are safe for concurrent access.
type RouterCounters struct {
	FramesRecv atomic.Uint32 // Frames received from any transport
	FramesSent atomic.Uint32 // Frames handed to transports
	Forwarded  atomic.Uint32 // Frames relayed between transports
	Duplicates atomic.Uint32 // Echoes of our own publications dropped
	AcksSent   atomic.Uint32 // ACKs sent in reply to OBJ_ACK
	AcksRecv   atomic.Uint32 // ACKs received for our OBJ_ACK updates
	NacksSent  atomic.Uint32 // NACKs sent for unanswerable requests
	NacksRecv  atomic.Uint32 // NACKs received for our requests
	Timeouts   atomic.Uint32 // Transactions that exhausted their retries
}

// CountersSnapshot is a plain-value copy of RouterCounters for reading.
type CountersSnapshot struct {
	FramesRecv uint32
	FramesSent uint32
	Forwarded  uint32
	Duplicates uint32
	AcksSent   uint32
	AcksRecv   uint32
	NacksSent  uint32
	NacksRecv  uint32
	Timeouts   uint32
}

// Snapshot returns a point-in-time copy of all counters.
func (c *RouterCounters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		FramesRecv: c.FramesRecv.Load(),
		FramesSent: c.FramesSent.Load(),
		Forwarded:  c.Forwarded.Load(),
		Duplicates: c.Duplicates.Load(),
		AcksSent:   c.AcksSent.Load(),
		AcksRecv:   c.AcksRecv.Load(),
		NacksSent:  c.NacksSent.Load(),
		NacksRecv:  c.NacksRecv.Load(),
		Timeouts:   c.Timeouts.Load(),
	}
}

// Reset zeroes all counters.
func (c *RouterCounters) Reset() {
	c.FramesRecv.Store(0)
	c.FramesSent.Store(0)
	c.Forwarded.Store(0)
	c.Duplicates.Store(0)
	c.AcksSent.Store(0)
	c.AcksRecv.Store(0)
	c.NacksSent.Store(0)
	c.NacksRecv.Store(0)
	c.Timeouts.Store(0)
}
