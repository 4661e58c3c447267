package rcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcceptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AcceptTimeout = 100 * time.Millisecond
	lsnr, err := Listen(0, cfg)
	require.NoError(t, err)
	defer lsnr.Close()
	_, err = lsnr.Accept()
	require.Equal(t, ErrAcceptTimeout, err)
	// the timeout is non-fatal; the listener still works afterwards
	go func() {
		conn, err := Dial(dialString(lsnr), testConfig())
		if err == nil {
			defer conn.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()
	conn, err := lsnr.Accept()
	require.NoError(t, err)
	conn.Close()
}

func TestHandshakeTimeout(t *testing.T) {
	// a plain UDP endpoint that never answers
	sink, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sink.Close()
	cfg := testConfig()
	cfg.AckTimeout = 20 * time.Millisecond
	cfg.MaxRetransmissions = 3
	_, err = Dial(sink.LocalAddr().String(), cfg)
	require.Equal(t, ErrHandshakeTimeout, err)
}

func TestBindTwice(t *testing.T) {
	sock, err := OpenSocket(0, testConfig())
	require.NoError(t, err)
	defer sock.Close()
	_, err = sock.Bind(0)
	require.NoError(t, err)
	_, err = sock.Bind(0)
	require.Error(t, err)
	_, ok := err.(*BindError)
	require.True(t, ok)
}

func TestBindPortTaken(t *testing.T) {
	first, err := OpenSocket(0, testConfig())
	require.NoError(t, err)
	defer first.Close()
	port := uint16(first.LocalAddr().(*net.UDPAddr).Port)
	_, err = OpenSocket(port, testConfig())
	require.Error(t, err)
	be, ok := err.(*BindError)
	require.True(t, ok)
	require.Equal(t, port, be.Port)
	require.Error(t, be.Cause())
}

func TestListenerClose(t *testing.T) {
	lsnr, err := Listen(0, testConfig())
	require.NoError(t, err)
	require.NoError(t, lsnr.Close())
	_, err = lsnr.Accept()
	require.Error(t, err)
}

func TestDuplicateSynYieldsOneConnection(t *testing.T) {
	lsnr, err := Listen(0, testConfig())
	require.NoError(t, err)
	defer lsnr.Close()

	// hand-drive the client side over raw UDP so the SYN can be repeated
	raw, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()
	dest, err := net.ResolveUDPAddr("udp", dialString(lsnr))
	require.NoError(t, err)

	syn := NewPacket()
	syn.SetSequenceNumber(1000)
	syn.SetSyn()
	wire := make([]byte, PacketSize)
	n, err := syn.Encode(wire)
	require.NoError(t, err)

	readSynAck := func() *Packet {
		raw.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, PacketSize)
		for {
			rn, _, err := raw.ReadFrom(buf)
			require.NoError(t, err)
			pkt, ok := DecodePacket(buf[:rn])
			require.True(t, ok)
			if pkt.IsSyn() && pkt.IsAck() {
				return pkt
			}
		}
	}

	_, err = raw.WriteTo(wire[:n], dest)
	require.NoError(t, err)
	first := readSynAck()
	require.Equal(t, uint16(1001), first.AcknowledgmentNumber())

	// a retransmitted SYN reaches the existing half-open connection, so the
	// reply must carry the same server ISN instead of opening a second one
	_, err = raw.WriteTo(wire[:n], dest)
	require.NoError(t, err)
	second := readSynAck()
	require.Equal(t, first.SequenceNumber(), second.SequenceNumber())
}
