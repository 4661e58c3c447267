package rcp

import (
	"encoding/binary"
	"fmt"
)

// Wire-format limits. A packet is an 8-byte header followed by at most 1024
// bytes of payload, and sequence numbers live in [0, MaxSeqNum).
const (
	MaxPayloadSize = 1024
	HeaderSize     = 8
	PacketSize     = HeaderSize + MaxPayloadSize
	MaxSeqNum      = 30720
)

const (
	flagFIN = 1 << 0
	flagSYN = 1 << 1
	flagACK = 1 << 2
)

// Packet is a single RCP segment: sequence and acknowledgment numbers, the
// ACK/SYN/FIN flags and a bounded payload. It does no I/O; sockets and
// connections own encoding it onto and off the wire.
//
// When SYN is set the sequence number field carries the ISN; the first
// payload byte of the connection then has sequence number ISN+1.
type Packet struct {
	seq     uint16
	ack     uint16
	flags   byte
	length  int
	payload [MaxPayloadSize]byte
}

// NewPacket returns an empty packet: zero numbers, no flags, no payload.
func NewPacket() *Packet {
	return new(Packet)
}

// DecodePacket parses one datagram into a freshly allocated packet. It
// returns false for anything malformed: truncated headers, oversized
// datagrams, or out-of-range sequence/acknowledgment numbers. The input
// buffer is copied, never aliased.
func DecodePacket(buf []byte) (*Packet, bool) {
	p := NewPacket()
	if !p.DecodeFrom(buf) {
		return nil, false
	}
	return p, true
}

// DecodeFrom parses one datagram into an existing packet, for receive paths
// that want to avoid allocation. On failure the packet is left untouched.
func (p *Packet) DecodeFrom(buf []byte) bool {
	if len(buf) < HeaderSize || len(buf) > PacketSize {
		return false
	}
	seq := binary.BigEndian.Uint16(buf[0:2])
	ack := binary.BigEndian.Uint16(buf[2:4])
	if seq >= MaxSeqNum || ack >= MaxSeqNum {
		return false
	}
	p.seq = seq
	p.ack = ack
	p.flags = buf[7] & (flagFIN | flagSYN | flagACK)
	p.length = len(buf) - HeaderSize
	copy(p.payload[:p.length], buf[HeaderSize:])
	return true
}

// Encode writes the wire form of the packet into dst and returns the number
// of bytes written, exactly HeaderSize plus the payload length.
func (p *Packet) Encode(dst []byte) (int, error) {
	total := p.EncodedSize()
	if len(dst) < total {
		return 0, ErrShortBuffer
	}
	binary.BigEndian.PutUint16(dst[0:2], p.seq)
	binary.BigEndian.PutUint16(dst[2:4], p.ack)
	dst[4] = 0
	dst[5] = 0
	dst[6] = 0
	dst[7] = p.flags
	copy(dst[HeaderSize:total], p.payload[:p.length])
	return total, nil
}

// EncodedSize returns the number of bytes Encode will produce.
func (p *Packet) EncodedSize() int {
	return HeaderSize + p.length
}

// SequenceNumber returns the sequence number (the ISN when SYN is set).
func (p *Packet) SequenceNumber() uint16 {
	return p.seq
}

// SetSequenceNumber fails without modifying the packet when v is outside
// [0, MaxSeqNum).
func (p *Packet) SetSequenceNumber(v uint16) error {
	if v >= MaxSeqNum {
		return ErrInvalidSequenceNumber
	}
	p.seq = v
	return nil
}

// AcknowledgmentNumber returns the next sequence number the sender of this
// packet expects to receive.
func (p *Packet) AcknowledgmentNumber() uint16 {
	return p.ack
}

// SetAcknowledgmentNumber fails without modifying the packet when v is
// outside [0, MaxSeqNum).
func (p *Packet) SetAcknowledgmentNumber(v uint16) error {
	if v >= MaxSeqNum {
		return ErrInvalidAcknowledgmentNumber
	}
	p.ack = v
	return nil
}

func (p *Packet) IsAck() bool { return p.flags&flagACK != 0 }
func (p *Packet) IsSyn() bool { return p.flags&flagSYN != 0 }
func (p *Packet) IsFin() bool { return p.flags&flagFIN != 0 }

func (p *Packet) SetAck() { p.flags |= flagACK }
func (p *Packet) SetSyn() { p.flags |= flagSYN }
func (p *Packet) SetFin() { p.flags |= flagFIN }

func (p *Packet) ClearAck() { p.flags &^= flagACK }
func (p *Packet) ClearSyn() { p.flags &^= flagSYN }
func (p *Packet) ClearFin() { p.flags &^= flagFIN }

// Length returns the payload length in bytes.
func (p *Packet) Length() int {
	return p.length
}

// SetLength fails without modifying the packet when n is outside
// [0, MaxPayloadSize]. Payload bytes beyond the previous length are whatever
// was last written there.
func (p *Packet) SetLength(n int) error {
	if n < 0 || n > MaxPayloadSize {
		return ErrInvalidPayloadLength
	}
	p.length = n
	return nil
}

// Payload returns the live payload slice. Callers that queue the packet must
// not hold onto it.
func (p *Packet) Payload() []byte {
	return p.payload[:p.length]
}

// SetPayload copies b into the packet and sets the length accordingly.
func (p *Packet) SetPayload(b []byte) error {
	if len(b) > MaxPayloadSize {
		return ErrInvalidPayloadLength
	}
	copy(p.payload[:], b)
	p.length = len(b)
	return nil
}

// Clear resets length, flags, sequence and acknowledgment numbers to zero.
// Payload bytes beyond the new length are not zeroed; only bytes within
// [0, length) are ever meaningful.
func (p *Packet) Clear() {
	p.seq = 0
	p.ack = 0
	p.flags = 0
	p.length = 0
}

func (p *Packet) String() string {
	fl := ""
	if p.IsSyn() {
		fl += "S"
	}
	if p.IsAck() {
		fl += "A"
	}
	if p.IsFin() {
		fl += "F"
	}
	return fmt.Sprintf("[seq=%v ack=%v flags=%v len=%v]", p.seq, p.ack, fl, p.length)
}
