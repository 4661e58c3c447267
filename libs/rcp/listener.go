package rcp

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/pkg/errors"
	"github.com/rcp-official/rcp/libs/erand"
	"golang.org/x/time/rate"
	"gopkg.in/tomb.v1"
)

const halfOpenCap = 512

// Listener accepts incoming connection attempts on its socket's port and
// yields established connections. It borrows the socket; it must not outlive
// it.
type Listener struct {
	sock *Socket
	port uint16
	cfg  *Config

	estq chan *Conn

	// halfOpen tracks connections still mid-handshake; a flood of SYNs
	// evicts the stalest attempt rather than growing without bound
	hlock    sync.Mutex
	halfOpen *simplelru.LRU

	synRL *rate.Limiter

	death      tomb.Tomb
	ownsSocket bool
}

func newListener(s *Socket, port uint16) *Listener {
	l := &Listener{
		sock:  s,
		port:  port,
		cfg:   s.cfg,
		estq:  make(chan *Conn, 128),
		synRL: rate.NewLimiter(1000, 1000),
	}
	l.halfOpen, _ = simplelru.NewLRU(halfOpenCap, func(key interface{}, value interface{}) {
		// removal fires this too, so spare connections that made it
		c := value.(*Conn)
		select {
		case <-c.established:
		default:
			c.death.Kill(ErrHandshakeTimeout)
		}
	})
	go func() {
		<-l.death.Dying()
		l.sock.dropListener(l)
		l.hlock.Lock()
		l.halfOpen.Purge()
		l.hlock.Unlock()
		for {
			select {
			case c := <-l.estq:
				c.death.Kill(ErrClosed)
			default:
				if l.ownsSocket {
					l.sock.Close()
				}
				return
			}
		}
	}()
	return l
}

// Addr returns the address of the underlying endpoint.
func (l *Listener) Addr() net.Addr {
	return l.sock.LocalAddr()
}

// Accept blocks until an incoming handshake completes and returns the new
// connection. With a configured AcceptTimeout it fails with ErrAcceptTimeout
// instead; the listener stays usable.
func (l *Listener) Accept() (*Conn, error) {
	var timeout <-chan time.Time
	if l.cfg.AcceptTimeout > 0 {
		t := time.NewTimer(l.cfg.AcceptTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case c := <-l.estq:
		return c, nil
	case <-timeout:
		return nil, ErrAcceptTimeout
	case <-l.death.Dying():
		return nil, errors.WithStack(l.death.Err())
	}
}

// Close stops accepting and kills every half-open handshake. Connections
// already returned by Accept are unaffected.
func (l *Listener) Close() error {
	l.death.Kill(ErrClosed)
	return nil
}

// handleSyn runs on the socket's receive loop for every SYN from a sender
// with no existing connection: it sets up the passive side of the handshake
// and replies SYN+ACK. Retransmitted SYNs from the same sender reach the
// half-open connection through normal dispatch, not here.
func (l *Listener) handleSyn(pkt *Packet, addr net.Addr) {
	if !l.synRL.Allow() {
		return
	}
	select {
	case <-l.death.Dying():
		return
	default:
	}
	c, err := newConn(l.sock, addr, l.cfg)
	if err != nil {
		return
	}
	c.onEstablished = l.deliver
	c.lock.Lock()
	c.isn = uint16(erand.Int(MaxSeqNum))
	c.nextSeq = seqAdd(c.isn, 1)
	c.nextAck = seqAdd(pkt.SequenceNumber(), 1)
	c.state = stateSynReceived
	c.lock.Unlock()
	if !l.sock.adopt(addr, c) {
		c.death.Kill(ErrClosed)
		return
	}
	l.hlock.Lock()
	l.halfOpen.Add(addr.String(), c)
	l.hlock.Unlock()
	synack := NewPacket()
	synack.SetSequenceNumber(c.isn)
	synack.SetAcknowledgmentNumber(c.nextAck)
	synack.SetSyn()
	synack.SetAck()
	c.lock.Lock()
	// the connection may have been killed between adopt and here, by a
	// closing socket or a purged half-open table; a dead window must not
	// be pumped
	if c.deatherr == nil {
		c.wnd.queue(synack)
		c.pump()
	}
	c.lock.Unlock()
	if doLogging {
		log.Println("RCP: SYN from", addr, "isn", pkt.SequenceNumber())
	}
}

// deliver hands a freshly established connection to Accept.
func (l *Listener) deliver(c *Conn) {
	l.hlock.Lock()
	l.halfOpen.Remove(c.remote.String())
	l.hlock.Unlock()
	select {
	case l.estq <- c:
	case <-l.death.Dying():
		c.death.Kill(ErrClosed)
	}
}
