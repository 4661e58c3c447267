package rcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func dataPacket(t *testing.T, seq uint16, body string) *Packet {
	p := NewPacket()
	require.NoError(t, p.SetSequenceNumber(seq))
	require.NoError(t, p.SetPayload([]byte(body)))
	return p
}

func TestWindowStopAndWaitCapacityOne(t *testing.T) {
	w, err := newWindow("stopandwait", 1)
	require.NoError(t, err)
	w.queue(dataPacket(t, 100, "x"))
	w.queue(dataPacket(t, 101, "y"))

	sent := 0
	transmit := func(*Packet) error { sent++; return nil }
	require.Equal(t, 1, w.admit(transmit))
	require.Equal(t, 1, sent)
	// one packet in flight exhausts the budget
	require.False(t, w.policy.CanSendPacket())
	require.Equal(t, 0, w.admit(transmit))

	// the matching acknowledgment frees the window
	require.Equal(t, 1, w.ackTo(101))
	w.policy.AckReceived(false)
	require.True(t, w.policy.CanSendPacket())
	require.Equal(t, 1, w.admit(transmit))
	require.Equal(t, 2, sent)
}

func TestWindowOrdering(t *testing.T) {
	w, err := newWindow("sliding", 2)
	require.NoError(t, err)
	w.queue(dataPacket(t, 10, "a"))
	w.queue(dataPacket(t, 11, "b"))
	w.queue(dataPacket(t, 12, "c"))
	var order []uint16
	w.admit(func(p *Packet) error {
		order = append(order, p.SequenceNumber())
		return nil
	})
	// buffered packets leave in arrival order, bounded by the budget
	require.Equal(t, []uint16{10, 11}, order)
	require.Equal(t, 2, w.inFlight())
	require.Equal(t, 1, w.queued())
}

func TestWindowAckTrimWraparound(t *testing.T) {
	w, err := newWindow("sliding", 4)
	require.NoError(t, err)
	w.queue(dataPacket(t, MaxSeqNum-3, "a"))
	w.queue(dataPacket(t, MaxSeqNum-2, "b"))
	w.queue(dataPacket(t, 1, "c"))
	w.admit(func(*Packet) error { return nil })
	// an ack of 5 covers all three despite the wraparound
	require.Equal(t, 3, w.ackTo(5))
	require.Equal(t, 0, w.inFlight())
}

func TestWindowPartialAck(t *testing.T) {
	w, err := newWindow("sliding", 4)
	require.NoError(t, err)
	w.queue(dataPacket(t, 100, "a"))
	w.queue(dataPacket(t, 101, "b"))
	w.admit(func(*Packet) error { return nil })
	require.Equal(t, 1, w.ackTo(101))
	require.Equal(t, 1, w.inFlight())
	require.Equal(t, uint16(101), w.oldestUnacked().pkt.SequenceNumber())
	// a duplicate of the same ack frees nothing
	require.Equal(t, 0, w.ackTo(101))
}
