// Package fastudp wraps a UDP endpoint with batched reads and writes, so a
// high-rate RCP socket spends fewer syscalls per datagram. Batching uses the
// sendmmsg/recvmmsg path and is only available on Linux; everywhere else the
// plain endpoint is returned unchanged.
package fastudp

import (
	"io"
	"net"
	"runtime"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
	"golang.org/x/net/ipv4"
	"gopkg.in/tomb.v1"
)

const batchSize = 16

// Conn is a net.PacketConn whose writes are coalesced into batches by a
// background loop and whose reads drain a batch at a time.
type Conn struct {
	sock  *net.UDPConn
	pconn *ipv4.PacketConn
	mtu   int
	death *tomb.Tomb

	writeBuf chan ipv4.Message
	readBuf  []ipv4.Message
	readPtr  int
}

// NewConn wraps the given endpoint. mtu bounds the datagram size the read
// path can deliver.
func NewConn(conn *net.UDPConn, mtu int) net.PacketConn {
	conn.SetWriteBuffer(262144)
	conn.SetReadBuffer(262144)
	if runtime.GOOS != "linux" {
		return conn
	}
	c := &Conn{
		sock:     conn,
		pconn:    ipv4.NewPacketConn(conn),
		mtu:      mtu,
		death:    new(tomb.Tomb),
		writeBuf: make(chan ipv4.Message, batchSize*2),
		readPtr:  -1,
	}
	for i := 0; i < batchSize; i++ {
		c.readBuf = append(c.readBuf, ipv4.Message{
			Buffers: [][]byte{make([]byte, mtu)},
		})
	}
	go c.bkgWrite()
	return c
}

func (conn *Conn) bkgWrite() {
	defer conn.pconn.Close()
	defer conn.sock.Close()
	var towrite []ipv4.Message
	for {
		select {
		case first := <-conn.writeBuf:
			towrite = append(towrite, first)
			for len(towrite) < batchSize {
				select {
				case next := <-conn.writeBuf:
					towrite = append(towrite, next)
				default:
					goto out
				}
			}
		out:
			ptr := towrite
			for len(ptr) > 0 {
				n, err := conn.pconn.WriteBatch(ptr, 0)
				if err != nil {
					conn.death.Kill(err)
					return
				}
				for i := 0; i < n; i++ {
					pool.Put(ptr[i].Buffers[0])
					ptr[i].Buffers = nil
				}
				ptr = ptr[n:]
			}
			towrite = towrite[:0]
		case <-conn.death.Dying():
			return
		}
	}
}

// ReadFrom reads one datagram, pulling a fresh batch off the wire when the
// previous one is drained.
func (conn *Conn) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	if conn.readPtr >= len(conn.readBuf) {
		conn.readPtr = -1
	}
	for conn.readPtr < 0 {
		conn.readBuf = conn.readBuf[:batchSize]
		fillCnt, e := conn.pconn.ReadBatch(conn.readBuf, 0)
		if e != nil {
			conn.death.Kill(e)
			err = e
			return
		}
		if fillCnt > 0 {
			conn.readBuf = conn.readBuf[:fillCnt]
			conn.readPtr = 0
		}
	}
	msg := conn.readBuf[conn.readPtr]
	conn.readPtr++
	copy(p, msg.Buffers[0][:msg.N])
	n = msg.N
	addr = msg.Addr
	return
}

// WriteTo queues one datagram for the batching loop. A full queue drops the
// datagram; the caller's reliability layer covers the loss.
func (conn *Conn) WriteTo(p []byte, addr net.Addr) (n int, err error) {
	pCopy := pool.Get(len(p))
	copy(pCopy, p)
	msg := ipv4.Message{
		Buffers: [][]byte{pCopy},
		Addr:    addr,
	}
	select {
	case conn.writeBuf <- msg:
	default:
		pool.Put(pCopy)
	}
	return len(p), nil
}

// Close closes the endpoint and stops the batching loop.
func (conn *Conn) Close() error {
	err := conn.sock.Close()
	conn.death.Kill(io.ErrClosedPipe)
	return err
}

func (conn *Conn) SetDeadline(t time.Time) error {
	return conn.sock.SetDeadline(t)
}

func (conn *Conn) SetReadDeadline(t time.Time) error {
	return conn.sock.SetReadDeadline(t)
}

func (conn *Conn) SetWriteDeadline(t time.Time) error {
	return conn.sock.SetWriteDeadline(t)
}

func (conn *Conn) LocalAddr() net.Addr {
	return conn.sock.LocalAddr()
}
