package rcp

// pendingPacket is a sent-but-unacknowledged packet plus its retransmission
// count.
type pendingPacket struct {
	pkt     *Packet
	retrans int
}

// window is the per-connection reliability engine: the pending queue (sent,
// awaiting acknowledgment, oldest first), the buffered queue (accepted from
// the application, not yet admitted to the network, oldest first) and the
// congestion policy gating movement between them. A packet only ever moves
// buffered -> pending -> gone, and leaves pending only when an
// acknowledgment covers it.
//
// The window does no I/O and no locking; its owning connection serializes
// access and hands it a transmit callback.
type window struct {
	pending  []pendingPacket
	buffered []*Packet
	policy   CongestionControl
}

func newWindow(congestion string, budget int) (*window, error) {
	w := new(window)
	policy, err := newCongestion(congestion, budget, w)
	if err != nil {
		return nil, err
	}
	w.policy = policy
	return w, nil
}

// queue appends a packet to the buffered queue. Ownership of the packet
// passes to the window.
func (w *window) queue(pkt *Packet) {
	w.buffered = append(w.buffered, pkt)
}

// admit moves buffered packets to pending and transmits them, in order, for
// as long as the policy allows. Returns how many were admitted. Transmit
// errors do not stop admission; the retransmission timer covers the loss.
func (w *window) admit(transmit func(*Packet) error) int {
	n := 0
	for len(w.buffered) > 0 && w.policy.CanSendPacket() {
		pkt := w.buffered[0]
		w.buffered = w.buffered[1:]
		w.pending = append(w.pending, pendingPacket{pkt: pkt})
		transmit(pkt)
		w.policy.PacketSent()
		n++
	}
	return n
}

// ackTo removes every pending packet whose sequence number is before ackNo
// under wraparound-aware comparison, returning how many were removed.
func (w *window) ackTo(ackNo uint16) int {
	n := 0
	for len(w.pending) > 0 && seqBefore(w.pending[0].pkt.SequenceNumber(), ackNo) {
		w.pending = w.pending[1:]
		n++
	}
	return n
}

// oldestUnacked returns the head of the pending queue, or nil.
func (w *window) oldestUnacked() *pendingPacket {
	if len(w.pending) == 0 {
		return nil
	}
	return &w.pending[0]
}

func (w *window) inFlight() int {
	return len(w.pending)
}

func (w *window) queued() int {
	return len(w.buffered)
}

// drop discards both queues. Used when a peer FIN closes the connection and
// nothing unsent or unacknowledged matters anymore.
func (w *window) drop() {
	w.pending = nil
	w.buffered = nil
}
