package rcp

import "sync/atomic"

// Stats is a bag of transport counters, updated atomically from every socket
// and connection in the process.
type Stats struct {
	SegsIn       uint64 // segments decoded off the wire
	SegsOut      uint64 // segments transmitted, retransmissions included
	BytesIn      uint64 // wire bytes received in valid segments
	BytesOut     uint64 // wire bytes transmitted
	Retrans      uint64 // timer-driven retransmissions
	FastRetrans  uint64 // duplicate-ack-driven retransmissions
	DupAcks      uint64 // duplicate acknowledgments seen
	DecodeErrors uint64 // malformed datagrams dropped
	Resets       uint64 // connections killed by the retransmission ceiling
}

// DefaultStats is where the package accounts everything.
var DefaultStats = new(Stats)

// Copy takes an atomic-ish snapshot of the counters.
func (s *Stats) Copy() Stats {
	var out Stats
	out.SegsIn = atomic.LoadUint64(&s.SegsIn)
	out.SegsOut = atomic.LoadUint64(&s.SegsOut)
	out.BytesIn = atomic.LoadUint64(&s.BytesIn)
	out.BytesOut = atomic.LoadUint64(&s.BytesOut)
	out.Retrans = atomic.LoadUint64(&s.Retrans)
	out.FastRetrans = atomic.LoadUint64(&s.FastRetrans)
	out.DupAcks = atomic.LoadUint64(&s.DupAcks)
	out.DecodeErrors = atomic.LoadUint64(&s.DecodeErrors)
	out.Resets = atomic.LoadUint64(&s.Resets)
	return out
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.SegsIn, 0)
	atomic.StoreUint64(&s.SegsOut, 0)
	atomic.StoreUint64(&s.BytesIn, 0)
	atomic.StoreUint64(&s.BytesOut, 0)
	atomic.StoreUint64(&s.Retrans, 0)
	atomic.StoreUint64(&s.FastRetrans, 0)
	atomic.StoreUint64(&s.DupAcks, 0)
	atomic.StoreUint64(&s.DecodeErrors, 0)
	atomic.StoreUint64(&s.Resets, 0)
}
