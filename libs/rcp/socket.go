package rcp

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v1"
)

// Socket owns one datagram endpoint and multiplexes it between the
// connections and the listener it creates. One goroutine owns the receive
// loop: it pulls datagrams into pooled buffers, decodes them and routes each
// packet to the connection matching the sender, or to the listener when the
// packet opens a connection. Malformed datagrams are dropped silently.
type Socket struct {
	wire net.PacketConn
	cfg  *Config

	lock     sync.Mutex
	pool     bufferPool
	conns    map[string]*Conn
	listener *Listener

	// timewait remembers just-closed peers so a retransmitted FIN still
	// gets acknowledged after the connection itself is gone
	timewait *cache.Cache

	death tomb.Tomb
}

// NewSocket wraps an already-open datagram endpoint. The socket takes
// exclusive ownership of wire and closes it when the socket is closed. A nil
// cfg means DefaultConfig.
func NewSocket(wire net.PacketConn, cfg *Config) *Socket {
	s := &Socket{
		wire:     wire,
		cfg:      cfg.withDefaults(),
		conns:    make(map[string]*Conn),
		timewait: cache.New(30*time.Second, 10*time.Second),
	}
	go s.recvLoop()
	go func() {
		<-s.death.Dying()
		s.wire.Close()
		s.lock.Lock()
		conns := make([]*Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		lsnr := s.listener
		s.lock.Unlock()
		for _, c := range conns {
			c.death.Kill(ErrClosed)
		}
		if lsnr != nil {
			lsnr.death.Kill(ErrClosed)
		}
	}()
	return s
}

// OpenSocket opens a fresh UDP endpoint on the given local port (zero for an
// ephemeral one) and wraps it. Failure to reserve the port surfaces as a
// BindError carrying the substrate's error.
func OpenSocket(port uint16, cfg *Config) (*Socket, error) {
	wire, err := net.ListenPacket("udp", fmt.Sprintf(":%v", port))
	if err != nil {
		return nil, &BindError{Port: port, Err: err}
	}
	return NewSocket(wire, cfg), nil
}

// LocalAddr returns the address of the underlying endpoint.
func (s *Socket) LocalAddr() net.Addr {
	return s.wire.LocalAddr()
}

// Bind reserves the socket's port for incoming connection attempts and
// returns the listener. A socket carries at most one listener, and the port
// must be the one the endpoint is bound to (or zero for "whatever it is").
func (s *Socket) Bind(port uint16) (*Listener, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener != nil {
		return nil, &BindError{Port: port, Err: errors.New("port already bound")}
	}
	if udp, ok := s.wire.LocalAddr().(*net.UDPAddr); ok && port != 0 && int(port) != udp.Port {
		return nil, &BindError{Port: port, Err: errors.New("endpoint bound to a different port")}
	}
	lsnr := newListener(s, port)
	s.listener = lsnr
	return lsnr, nil
}

// Connect builds a connection to the given peer. It does not run the
// handshake; the caller must call Handshake before steady-state sending.
func (s *Socket) Connect(raddr net.Addr) (*Conn, error) {
	c, err := newConn(s, raddr, s.cfg)
	if err != nil {
		return nil, err
	}
	s.lock.Lock()
	if _, ok := s.conns[raddr.String()]; ok {
		s.lock.Unlock()
		c.death.Kill(ErrClosed)
		return nil, errors.Errorf("connection to %v already exists", raddr)
	}
	s.conns[raddr.String()] = c
	s.lock.Unlock()
	return c, nil
}

// Close releases the endpoint. Every connection and listener this socket
// spawned dies with ErrClosed.
func (s *Socket) Close() error {
	s.death.Kill(ErrClosed)
	return nil
}

func (s *Socket) recvLoop() {
	for {
		pkt, addr, err := s.recvPacket()
		if err != nil {
			// a timeout or a transient substrate hiccup just means no
			// datagram this round; only permanent failures are fatal
			if ne, ok := errors.Cause(err).(net.Error); ok && (ne.Timeout() || ne.Temporary()) {
				if doLogging {
					log.Println("RCP: transient recv error:", ne)
				}
				continue
			}
			s.death.Kill(err)
			return
		}
		if pkt == nil {
			continue // malformed datagram, dropped
		}
		s.dispatch(pkt, addr)
	}
}

// recvPacket reads one datagram into a pooled buffer and decodes it. The
// buffer goes back to the pool before the packet is returned, malformed or
// not; bad input never leaks a buffer.
func (s *Socket) recvPacket() (*Packet, net.Addr, error) {
	s.lock.Lock()
	buf := s.pool.acquire()
	s.lock.Unlock()
	n, addr, err := s.wire.ReadFrom(buf)
	if err != nil {
		s.lock.Lock()
		s.pool.release(buf)
		s.lock.Unlock()
		if err == io.EOF {
			err = io.ErrClosedPipe
		}
		return nil, nil, errors.WithStack(err)
	}
	pkt, ok := DecodePacket(buf[:n])
	s.lock.Lock()
	s.pool.release(buf)
	s.lock.Unlock()
	if !ok {
		atomic.AddUint64(&DefaultStats.DecodeErrors, 1)
		if doLogging {
			log.Println("RCP: dropping malformed datagram from", addr)
		}
		return nil, addr, nil
	}
	atomic.AddUint64(&DefaultStats.SegsIn, 1)
	atomic.AddUint64(&DefaultStats.BytesIn, uint64(n))
	return pkt, addr, nil
}

func (s *Socket) dispatch(pkt *Packet, addr net.Addr) {
	s.lock.Lock()
	c := s.conns[addr.String()]
	lsnr := s.listener
	s.lock.Unlock()
	if c != nil {
		c.input(pkt)
		return
	}
	if pkt.IsSyn() && !pkt.IsAck() && lsnr != nil {
		lsnr.handleSyn(pkt, addr)
		return
	}
	if pkt.IsFin() {
		if v, ok := s.timewait.Get(addr.String()); ok {
			// the peer is retransmitting the FIN of a connection we
			// already tore down; re-acknowledge so its close converges
			reack := NewPacket()
			reack.SetAcknowledgmentNumber(v.(uint16))
			reack.SetAck()
			s.sendPacket(reack, addr)
			if doLogging {
				log.Println("RCP: re-acked lingering FIN from", addr)
			}
			return
		}
	}
	if doLogging {
		log.Println("RCP: dropping", pkt, "from unknown sender", addr)
	}
}

// sendPacket encodes pkt through a pooled buffer and transmits it. No
// queueing and no retries happen here; retransmission policy lives in each
// connection's window engine.
func (s *Socket) sendPacket(pkt *Packet, addr net.Addr) error {
	s.lock.Lock()
	buf := s.pool.acquire()
	s.lock.Unlock()
	n, _ := pkt.Encode(buf)
	_, err := s.wire.WriteTo(buf[:n], addr)
	s.lock.Lock()
	s.pool.release(buf)
	s.lock.Unlock()
	if err != nil {
		return errors.WithStack(err)
	}
	atomic.AddUint64(&DefaultStats.SegsOut, 1)
	atomic.AddUint64(&DefaultStats.BytesOut, uint64(n))
	return nil
}

// forget drops a connection from the dispatch table, but only if it still
// owns its slot; a connection that lost an adoption race must not evict the
// winner.
func (s *Socket) forget(c *Conn) {
	s.lock.Lock()
	if s.conns[c.remote.String()] == c {
		delete(s.conns, c.remote.String())
	}
	s.lock.Unlock()
}

// adopt registers a passively-opened connection. Fails when a connection to
// that peer raced into existence.
func (s *Socket) adopt(addr net.Addr, c *Conn) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.conns[addr.String()]; ok {
		return false
	}
	s.conns[addr.String()] = c
	return true
}

// rememberClosed records the final acknowledgment number for a peer whose
// FIN we just acknowledged.
func (s *Socket) rememberClosed(addr net.Addr, ackNo uint16) {
	s.timewait.SetDefault(addr.String(), ackNo)
}

// dropListener detaches the listener from the socket.
func (s *Socket) dropListener(lsnr *Listener) {
	s.lock.Lock()
	if s.listener == lsnr {
		s.listener = nil
	}
	s.lock.Unlock()
}
