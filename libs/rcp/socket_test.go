package rcp

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xtaci/lossyconn"
)

func TestConnectDuplicate(t *testing.T) {
	sock, err := OpenSocket(0, testConfig())
	require.NoError(t, err)
	defer sock.Close()
	raddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9")
	require.NoError(t, err)
	_, err = sock.Connect(raddr)
	require.NoError(t, err)
	_, err = sock.Connect(raddr)
	require.Error(t, err)
}

func TestMalformedDatagramsDropped(t *testing.T) {
	lsnr, err := Listen(0, testConfig())
	require.NoError(t, err)
	defer lsnr.Close()
	raw, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()
	dest, err := net.ResolveUDPAddr("udp", dialString(lsnr))
	require.NoError(t, err)

	before := DefaultStats.Copy().DecodeErrors
	raw.WriteTo([]byte{1, 2, 3}, dest) // truncated header
	bad := make([]byte, HeaderSize)
	bad[0] = 0xFF // sequence number way out of range
	bad[1] = 0xFF
	raw.WriteTo(bad, dest)
	deadline := time.Now().Add(2 * time.Second)
	for DefaultStats.Copy().DecodeErrors < before+2 {
		if time.Now().After(deadline) {
			t.Fatal("malformed datagrams were not counted as decode errors")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// the socket survives garbage: a real handshake still works
	conn, err := Dial(dialString(lsnr), testConfig())
	require.NoError(t, err)
	conn.Close()
}

func TestSocketCloseKillsChildren(t *testing.T) {
	lsnr, err := Listen(0, testConfig())
	require.NoError(t, err)
	conn, err := Dial(dialString(lsnr), testConfig())
	require.NoError(t, err)
	server, err := lsnr.Accept()
	require.NoError(t, err)
	server.sock.Close()
	_, err = server.Recv(make([]byte, MaxPayloadSize))
	require.Error(t, err)
	conn.Close()
}

func TestLossyTransfer(t *testing.T) {
	if testing.Short() {
		t.Skip("lossy link simulation")
	}
	// 10% loss, 5ms latency in each direction
	client, err := lossyconn.NewLossyConn(0.1, 5)
	require.NoError(t, err)
	server, err := lossyconn.NewLossyConn(0.1, 5)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.MaxRetransmissions = 30
	sockC := NewSocket(client, cfg)
	defer sockC.Close()
	sockS := NewSocket(server, cfg)
	defer sockS.Close()
	lsnr, err := sockS.Bind(0)
	require.NoError(t, err)

	conn, err := sockC.Connect(server.LocalAddr())
	require.NoError(t, err)
	require.NoError(t, conn.Handshake())
	accepted, err := lsnr.Accept()
	require.NoError(t, err)

	const count = 40
	go func() {
		for i := 0; i < count; i++ {
			conn.Send([]byte(fmt.Sprintf("lossy-%v", i)))
		}
	}()
	buf := make([]byte, MaxPayloadSize)
	for i := 0; i < count; i++ {
		n, err := accepted.Recv(buf)
		require.NoError(t, err)
		// retransmission must restore both completeness and order
		require.Equal(t, fmt.Sprintf("lossy-%v", i), string(buf[:n]))
	}
}

// tempError reports itself as transient.
type tempError struct{}

func (tempError) Error() string   { return "transient glitch" }
func (tempError) Timeout() bool   { return false }
func (tempError) Temporary() bool { return true }

// glitchConn fails the first read with a transient error.
type glitchConn struct {
	net.PacketConn
	glitched bool
}

func (g *glitchConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if !g.glitched {
		g.glitched = true
		return 0, nil, tempError{}
	}
	return g.PacketConn.ReadFrom(p)
}

func TestTransientRecvErrorNonFatal(t *testing.T) {
	raw, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	sock := NewSocket(&glitchConn{PacketConn: raw}, testConfig())
	defer sock.Close()
	_, err = sock.Bind(0)
	require.NoError(t, err)
	// the receive loop hit the glitch before the handshake; the socket must
	// still be serving
	conn, err := Dial(raw.LocalAddr().String(), testConfig())
	require.NoError(t, err)
	conn.Close()
}

func TestTimeWaitReack(t *testing.T) {
	lsnr, err := Listen(0, testConfig())
	require.NoError(t, err)
	defer lsnr.Close()
	conn, err := Dial(dialString(lsnr), testConfig())
	require.NoError(t, err)
	server, err := lsnr.Accept()
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	// the key under which the server saw the client
	clientKey := server.RemoteAddr().String()
	// the server side saw the FIN and fully forgot the connection, but the
	// peer entry lingers so a retransmitted FIN is still acknowledged
	deadline := time.Now().Add(2 * time.Second)
	for {
		server.sock.lock.Lock()
		_, stillThere := server.sock.conns[clientKey]
		server.sock.lock.Unlock()
		if !stillThere {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never forgot the closed connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, ok := server.sock.timewait.Get(clientKey)
	require.True(t, ok)
}
