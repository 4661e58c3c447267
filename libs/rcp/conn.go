package rcp

import (
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
	"github.com/rcp-official/rcp/libs/erand"
	"golang.org/x/time/rate"
	"gopkg.in/tomb.v1"
)

type connState int

const (
	stateClosed connState = iota
	stateSynSent
	stateSynReceived
	stateEstablished
	stateFinWait
)

// maxFlightSpan bounds how far nextSeq may run ahead of the oldest
// unacknowledged sequence number; beyond half the sequence space the
// wraparound comparison stops working.
const maxFlightSpan = MaxSeqNum/2 - MaxPayloadSize

// Conn is one RCP connection: one peer address, one window engine, and a
// non-owning reference to the socket that created it. A Conn must not
// outlive its socket.
//
// Sends from multiple goroutines on the same Conn must be externally
// serialized; receives likewise.
type Conn struct {
	sock   *Socket
	remote net.Addr
	cfg    *Config

	lock sync.Mutex
	cvar *sync.Cond

	state   connState
	isn     uint16
	nextSeq uint16 // next sequence number to assign to outgoing bytes
	nextAck uint16 // next sequence number expected from the peer
	wnd     *window
	rtx     *resettableTimer

	seenAck   bool
	lastAckNo uint16
	dupAcks   int

	recvq     [][]byte // in-order payloads awaiting Recv, pool-managed
	readEOF   bool     // peer sent FIN
	finQueued bool
	finAcked  bool

	established   chan struct{}
	estOnce       sync.Once
	onEstablished func(*Conn) // set by the listener on passive opens

	synAckRL *rate.Limiter // governs SYN+ACK resends to impatient peers

	death      tomb.Tomb
	deatherr   error
	ownsSocket bool
}

func newConn(sock *Socket, remote net.Addr, cfg *Config) (*Conn, error) {
	wnd, err := newWindow(cfg.Congestion, cfg.Window)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		sock:        sock,
		remote:      remote,
		cfg:         cfg,
		wnd:         wnd,
		established: make(chan struct{}),
		synAckRL:    rate.NewLimiter(5, 3),
	}
	c.cvar = sync.NewCond(&c.lock)
	c.rtx = newTimer(c.onRtxTimeout)
	go func() {
		<-c.death.Dying()
		c.lock.Lock()
		c.deatherr = c.death.Err()
		c.state = stateClosed
		c.lock.Unlock()
		c.cvar.Broadcast()
		c.rtx.kill()
		c.sock.forget(c)
	}()
	return c, nil
}

// LocalAddr returns the address of the underlying datagram endpoint.
func (c *Conn) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// Handshake runs the active open: it picks an ISN, sends SYN and blocks
// until the peer's SYN+ACK arrives or the retransmission ceiling is hit, in
// which case it fails with ErrHandshakeTimeout.
func (c *Conn) Handshake() error {
	c.lock.Lock()
	if c.deatherr != nil {
		err := c.deatherr
		c.lock.Unlock()
		return err
	}
	if c.state != stateClosed {
		c.lock.Unlock()
		return ErrNotEstablished
	}
	c.isn = uint16(erand.Int(MaxSeqNum))
	c.nextSeq = seqAdd(c.isn, 1)
	c.state = stateSynSent
	syn := NewPacket()
	syn.SetSequenceNumber(c.isn)
	syn.SetSyn()
	c.wnd.queue(syn)
	c.pump()
	if doLogging {
		log.Println("RCP: handshake to", c.remote, "isn", c.isn)
	}
	c.lock.Unlock()
	select {
	case <-c.established:
		return nil
	case <-c.death.Dying():
		return c.death.Err()
	}
}

// Send queues one payload of at most MaxPayloadSize bytes for ordered,
// acknowledged delivery. It blocks while the unacknowledged sequence span is
// at capacity. A substrate transmit error is returned but does not tear the
// connection down; the packet stays queued for retransmission.
func (c *Conn) Send(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrInvalidPayloadLength
	}
	if len(payload) == 0 {
		return nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	for {
		if c.deatherr != nil {
			return c.deatherr
		}
		if c.readEOF || c.state == stateFinWait {
			return ErrClosed
		}
		if c.state != stateEstablished {
			return ErrNotEstablished
		}
		if c.unackedSpan()+len(payload)+1 <= maxFlightSpan {
			break
		}
		c.cvar.Wait()
	}
	pkt := NewPacket()
	pkt.SetSequenceNumber(c.nextSeq)
	pkt.SetAcknowledgmentNumber(c.nextAck)
	pkt.SetAck()
	pkt.SetPayload(payload)
	c.nextSeq = seqAdd(c.nextSeq, len(payload))
	c.wnd.queue(pkt)
	return c.pump()
}

// Recv blocks until one payload is deliverable and copies it into buf,
// returning its length. buf should be MaxPayloadSize bytes; a shorter buffer
// truncates. After the peer closes, Recv drains what arrived in order and
// then returns io.EOF.
func (c *Conn) Recv(buf []byte) (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for len(c.recvq) == 0 {
		if c.readEOF {
			return 0, io.EOF
		}
		if c.deatherr != nil {
			return 0, c.deatherr
		}
		if c.state != stateEstablished && c.state != stateFinWait {
			return 0, ErrNotEstablished
		}
		c.cvar.Wait()
	}
	head := c.recvq[0]
	c.recvq = c.recvq[1:]
	n := copy(buf, head)
	pool.Put(head)
	return n, nil
}

// Close sends FIN after any still-buffered data, waits for the peer to
// acknowledge it (bounded by the retransmission ceiling) and releases the
// connection.
func (c *Conn) Close() error {
	c.lock.Lock()
	if c.deatherr != nil || c.state != stateEstablished {
		c.lock.Unlock()
		c.death.Kill(ErrClosed)
		c.finishClose()
		return nil
	}
	fin := NewPacket()
	fin.SetSequenceNumber(c.nextSeq)
	fin.SetAcknowledgmentNumber(c.nextAck)
	fin.SetAck()
	fin.SetFin()
	c.nextSeq = seqAdd(c.nextSeq, 1)
	c.finQueued = true
	c.state = stateFinWait
	c.wnd.queue(fin)
	c.pump()
	for !c.finAcked && c.deatherr == nil {
		c.cvar.Wait()
	}
	clean := c.finAcked
	err := c.deatherr
	c.lock.Unlock()
	c.death.Kill(ErrClosed)
	c.finishClose()
	if clean || err == nil {
		return nil
	}
	return err
}

func (c *Conn) finishClose() {
	if c.ownsSocket {
		c.sock.Close()
	}
}

// input feeds one decoded packet from the socket's receive loop into the
// state machine.
func (c *Conn) input(pkt *Packet) {
	c.lock.Lock()
	defer c.cvar.Broadcast()
	defer c.lock.Unlock()
	if c.deatherr != nil {
		return
	}
	switch c.state {
	case stateSynSent:
		if pkt.IsSyn() && pkt.IsAck() && pkt.AcknowledgmentNumber() == seqAdd(c.isn, 1) {
			c.wnd.ackTo(pkt.AcknowledgmentNumber())
			c.wnd.policy.AckReceived(false)
			c.rtx.stop()
			c.nextAck = seqAdd(pkt.SequenceNumber(), 1)
			c.seenAck = true
			c.lastAckNo = pkt.AcknowledgmentNumber()
			c.becomeEstablished()
			c.sendControlAck()
		}
	case stateSynReceived:
		if pkt.IsSyn() && !pkt.IsAck() {
			// the peer retransmitted its SYN; our SYN+ACK got lost
			if c.synAckRL.Allow() {
				if head := c.wnd.oldestUnacked(); head != nil {
					c.sendRaw(head.pkt)
				}
			}
			return
		}
		if pkt.IsAck() && pkt.AcknowledgmentNumber() == seqAdd(c.isn, 1) {
			c.wnd.ackTo(pkt.AcknowledgmentNumber())
			c.wnd.policy.AckReceived(false)
			c.rtx.stop()
			c.seenAck = true
			c.lastAckNo = pkt.AcknowledgmentNumber()
			c.becomeEstablished()
			if pkt.Length() > 0 || pkt.IsFin() {
				c.inputSteady(pkt)
			}
		}
	case stateEstablished, stateFinWait:
		c.inputSteady(pkt)
	}
}

// inputSteady handles acknowledgment, payload and FIN processing once the
// handshake is done. Caller holds the lock.
func (c *Conn) inputSteady(pkt *Packet) {
	if pkt.IsSyn() {
		// a retransmitted SYN+ACK means the peer never saw our final ACK
		c.sendControlAck()
		return
	}
	if pkt.IsAck() {
		ackNo := pkt.AcknowledgmentNumber()
		pureAck := pkt.Length() == 0 && !pkt.IsFin()
		if pureAck && c.seenAck && ackNo == c.lastAckNo && c.wnd.inFlight() > 0 {
			c.dupAcks++
			atomic.AddUint64(&DefaultStats.DupAcks, 1)
			c.wnd.policy.AckReceived(true)
			if c.cfg.FastResendThresh > 0 && c.dupAcks == c.cfg.FastResendThresh {
				head := c.wnd.oldestUnacked()
				c.sendRaw(head.pkt)
				atomic.AddUint64(&DefaultStats.FastRetrans, 1)
				if doLogging {
					log.Println("RCP: fast retransmit", head.pkt)
				}
			}
		} else if n := c.wnd.ackTo(ackNo); n > 0 {
			c.seenAck = true
			c.lastAckNo = ackNo
			c.dupAcks = 0
			c.wnd.policy.AckReceived(false)
			if c.wnd.inFlight() == 0 {
				c.rtx.stop()
			} else {
				c.armRtx(0)
			}
			c.pump()
		} else if !c.seenAck || ackNo != c.lastAckNo {
			c.seenAck = true
			c.lastAckNo = ackNo
		}
		if c.state == stateFinWait && c.finQueued && !c.finAcked &&
			c.wnd.inFlight() == 0 && c.wnd.queued() == 0 {
			c.finAcked = true
			c.rtx.stop()
		}
	}
	if pkt.Length() > 0 {
		seq := pkt.SequenceNumber()
		if seq == c.nextAck {
			body := pool.Get(pkt.Length())
			copy(body, pkt.Payload())
			c.recvq = append(c.recvq, body)
			c.nextAck = seqAdd(c.nextAck, pkt.Length())
		}
		// out-of-order and duplicate data both provoke a re-ACK: the
		// former so the peer fast-retransmits the gap, the latter so it
		// stops resending
		c.sendControlAck()
	}
	if pkt.IsFin() {
		finSeq := seqAdd(pkt.SequenceNumber(), pkt.Length())
		if finSeq == c.nextAck {
			c.nextAck = seqAdd(c.nextAck, 1)
			c.sendControlAck()
			c.readEOF = true
			c.sock.rememberClosed(c.remote, c.nextAck)
			if doLogging {
				log.Println("RCP: peer FIN from", c.remote)
			}
			if c.state == stateEstablished {
				// no half-close: the peer's FIN finishes the connection
				c.wnd.drop()
				c.rtx.stop()
				c.state = stateClosed
				c.death.Kill(ErrClosed)
			}
		} else if seqBefore(finSeq, c.nextAck) {
			// retransmitted FIN; our ACK got lost
			c.sendControlAck()
		}
	}
}

func (c *Conn) becomeEstablished() {
	c.state = stateEstablished
	c.estOnce.Do(func() {
		close(c.established)
	})
	if f := c.onEstablished; f != nil {
		go f(c)
	}
	if doLogging {
		log.Println("RCP: established with", c.remote)
	}
}

// pump admits as many buffered packets as the policy allows and arms the
// retransmission timer when the pending queue goes from empty to nonempty.
// Caller holds the lock.
func (c *Conn) pump() error {
	var sendErr error
	idle := c.wnd.inFlight() == 0
	n := c.wnd.admit(func(pkt *Packet) error {
		if err := c.sendRaw(pkt); err != nil && sendErr == nil {
			sendErr = err
		}
		return nil
	})
	if idle && n > 0 {
		c.armRtx(0)
	}
	return sendErr
}

// sendControlAck emits an empty ACK carrying the current receive state. Pure
// acknowledgments consume no sequence numbers.
func (c *Conn) sendControlAck() {
	pkt := NewPacket()
	pkt.SetSequenceNumber(c.nextSeq)
	pkt.SetAcknowledgmentNumber(c.nextAck)
	pkt.SetAck()
	c.sendRaw(pkt)
}

func (c *Conn) sendRaw(pkt *Packet) error {
	return c.sock.sendPacket(pkt, c.remote)
}

// armRtx rearms the retransmission timer with exponential backoff and a bit
// of jitter, and tells the policy about it.
func (c *Conn) armRtx(retrans int) {
	d := c.cfg.AckTimeout << uint(retrans)
	if d <= 0 || d > 10*time.Second {
		d = 10 * time.Second
	}
	c.rtx.reset(erand.Jitter(d, 0.1))
	c.wnd.policy.ResetAckTimer()
}

// onRtxTimeout runs on the timer goroutine when the oldest unacknowledged
// packet has gone unacknowledged for a full timeout.
func (c *Conn) onRtxTimeout() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.deatherr != nil {
		return
	}
	head := c.wnd.oldestUnacked()
	if head == nil {
		return
	}
	if head.retrans >= c.cfg.MaxRetransmissions {
		atomic.AddUint64(&DefaultStats.Resets, 1)
		if c.state == stateSynSent || c.state == stateSynReceived {
			c.death.Kill(ErrHandshakeTimeout)
		} else {
			c.death.Kill(ErrRetransmitLimit)
		}
		return
	}
	if c.wnd.policy.ShouldResendOldestUnacked() {
		head.retrans++
		c.sendRaw(head.pkt)
		atomic.AddUint64(&DefaultStats.Retrans, 1)
		if doLogging {
			log.Println("RCP: retransmit", head.pkt, "try", head.retrans)
		}
	}
	c.armRtx(head.retrans)
}

// unackedSpan is how many sequence numbers separate the oldest queued or
// pending packet from nextSeq. Caller holds the lock.
func (c *Conn) unackedSpan() int {
	base := c.nextSeq
	if head := c.wnd.oldestUnacked(); head != nil {
		base = head.pkt.SequenceNumber()
	} else if c.wnd.queued() > 0 {
		base = c.wnd.buffered[0].SequenceNumber()
	}
	return seqDist(base, c.nextSeq)
}
