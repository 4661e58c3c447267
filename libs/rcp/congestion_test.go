package rcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnknownCongestion(t *testing.T) {
	_, err := newWindow("vegas", 8)
	require.Error(t, err)
}

func TestSlidingBudget(t *testing.T) {
	w, err := newWindow("sliding", 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		w.queue(dataPacket(t, uint16(100+i), "x"))
	}
	require.Equal(t, 3, w.admit(func(*Packet) error { return nil }))
	require.False(t, w.policy.CanSendPacket())
	w.ackTo(101)
	w.policy.AckReceived(false)
	require.Equal(t, 1, w.admit(func(*Packet) error { return nil }))
}

func TestRenoSlowStartAndCollapse(t *testing.T) {
	w, err := newWindow("reno", 8)
	require.NoError(t, err)
	reno := w.policy.(*renoLike)
	require.Equal(t, float64(2), reno.cwnd)
	// below ssthresh the window doubles per round of acks
	reno.AckReceived(false)
	reno.AckReceived(false)
	require.Equal(t, float64(4), reno.cwnd)
	// above ssthresh growth turns additive
	for reno.cwnd < reno.ssthresh {
		reno.AckReceived(false)
	}
	before := reno.cwnd
	reno.AckReceived(false)
	require.True(t, reno.cwnd > before)
	require.True(t, reno.cwnd < before+1)
	// a retransmission timeout collapses to one packet
	require.True(t, reno.ShouldResendOldestUnacked())
	require.Equal(t, float64(1), reno.cwnd)
	require.True(t, reno.ssthresh >= 2)
}

func TestRenoDuplicateAckHalving(t *testing.T) {
	w, err := newWindow("reno", 8)
	require.NoError(t, err)
	reno := w.policy.(*renoLike)
	for i := 0; i < 10; i++ {
		reno.AckReceived(false)
	}
	before := reno.cwnd
	reno.AckReceived(true)
	reno.AckReceived(true)
	require.Equal(t, before, reno.cwnd)
	// the third duplicate halves the window
	reno.AckReceived(true)
	require.True(t, reno.cwnd < before)
	require.True(t, reno.cwnd >= 2)
}

func TestRenoNeverExceedsSeqSpace(t *testing.T) {
	w, err := newWindow("reno", 8)
	require.NoError(t, err)
	reno := w.policy.(*renoLike)
	for i := 0; i < 10000; i++ {
		reno.AckReceived(false)
	}
	require.True(t, reno.cwnd <= maxWindowPkts)
}
