package rcp

import (
	"log"

	"github.com/pkg/errors"
)

// CongestionControl is the pluggable policy behind a connection's window.
// The protocol layer invokes it, never the reverse, and it performs no I/O:
// CanSendPacket gates admission from buffered to pending, PacketSent and
// AckReceived keep its in-flight accounting current, and
// ShouldResendOldestUnacked is consulted by the timeout path before the head
// of the pending queue is retransmitted unchanged. ResetAckTimer tells the
// policy the retransmission timer was rearmed.
type CongestionControl interface {
	CanSendPacket() bool
	PacketSent()
	AckReceived(duplicate bool)
	ShouldResendOldestUnacked() bool
	ResetAckTimer()
}

// newCongestion builds the named strategy over the window whose pending
// queue it reads for in-flight accounting.
func newCongestion(name string, budget int, wnd *window) (CongestionControl, error) {
	switch name {
	case "stopandwait":
		return &stopAndWait{wnd: wnd}, nil
	case "sliding":
		return &slidingWindow{wnd: wnd, budget: budget}, nil
	case "reno":
		return &renoLike{wnd: wnd, cwnd: 2, ssthresh: float64(budget)}, nil
	default:
		return nil, errors.Errorf("unknown congestion control %q", name)
	}
}

// stopAndWait allows exactly one packet in flight.
type stopAndWait struct {
	wnd *window
}

func (s *stopAndWait) CanSendPacket() bool {
	return s.wnd.inFlight() == 0
}

func (s *stopAndWait) PacketSent()                     {}
func (s *stopAndWait) AckReceived(duplicate bool)      {}
func (s *stopAndWait) ShouldResendOldestUnacked() bool { return true }
func (s *stopAndWait) ResetAckTimer()                  {}

// slidingWindow allows a fixed number of packets in flight.
type slidingWindow struct {
	wnd    *window
	budget int
}

func (s *slidingWindow) CanSendPacket() bool {
	return s.wnd.inFlight() < s.budget
}

func (s *slidingWindow) PacketSent()                     {}
func (s *slidingWindow) AckReceived(duplicate bool)      {}
func (s *slidingWindow) ShouldResendOldestUnacked() bool { return true }
func (s *slidingWindow) ResetAckTimer()                  {}

// renoLike grows its window like TCP Reno: exponentially below the slow
// start threshold, by roughly one packet per round trip above it, halving
// on triple duplicate acks and collapsing to one on a retransmission
// timeout. The window never grows past maxWindowPkts because the sequence
// space cannot express more.
type renoLike struct {
	wnd      *window
	cwnd     float64
	ssthresh float64
	dupAcks  int
}

func (r *renoLike) CanSendPacket() bool {
	return float64(r.wnd.inFlight()) < r.cwnd
}

func (r *renoLike) PacketSent() {}

func (r *renoLike) AckReceived(duplicate bool) {
	if duplicate {
		r.dupAcks++
		if r.dupAcks == 3 {
			r.ssthresh = r.cwnd / 2
			if r.ssthresh < 2 {
				r.ssthresh = 2
			}
			r.cwnd = r.ssthresh
			if doLogging {
				log.Printf("RCP: reno dup-ack collapse cwnd=%.2f", r.cwnd)
			}
		}
		return
	}
	r.dupAcks = 0
	if r.cwnd < r.ssthresh {
		r.cwnd++
	} else {
		r.cwnd += 1 / r.cwnd
	}
	if r.cwnd > maxWindowPkts {
		r.cwnd = maxWindowPkts
	}
	if doLogging {
		log.Printf("RCP: reno cwnd=%.2f ssthresh=%.2f", r.cwnd, r.ssthresh)
	}
}

func (r *renoLike) ShouldResendOldestUnacked() bool {
	r.ssthresh = r.cwnd / 2
	if r.ssthresh < 2 {
		r.ssthresh = 2
	}
	r.cwnd = 1
	r.dupAcks = 0
	return true
}

func (r *renoLike) ResetAckTimer() {}
