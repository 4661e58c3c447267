package rcp

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidSequenceNumber means a sequence number >= MaxSeqNum.
	ErrInvalidSequenceNumber = errors.New("sequence number out of range")
	// ErrInvalidAcknowledgmentNumber means an acknowledgment number >= MaxSeqNum.
	ErrInvalidAcknowledgmentNumber = errors.New("acknowledgment number out of range")
	// ErrInvalidPayloadLength means a payload length > MaxPayloadSize.
	ErrInvalidPayloadLength = errors.New("payload length out of range")
	// ErrShortBuffer means the destination buffer cannot hold the encoded packet.
	ErrShortBuffer = errors.New("buffer too short for encoded packet")
	// ErrHandshakeTimeout means the handshake exhausted its retransmissions.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrAcceptTimeout means Accept gave up waiting; the listener stays usable.
	ErrAcceptTimeout = errors.New("accept timed out")
	// ErrRetransmitLimit means an established connection gave up on a segment.
	ErrRetransmitLimit = errors.New("retransmission limit exceeded")
	// ErrClosed means the connection, listener or socket was closed.
	ErrClosed = errors.New("closed")
	// ErrNotEstablished means I/O was attempted before the handshake completed.
	ErrNotEstablished = errors.New("connection not established")
)

// BindError is returned when a local port cannot be reserved. It carries the
// substrate's underlying error.
type BindError struct {
	Port uint16
	Err  error
}

func (be *BindError) Error() string {
	return fmt.Sprintf("cannot bind port %v: %v", be.Port, be.Err)
}

// Cause lets errors.Cause reach the substrate error.
func (be *BindError) Cause() error {
	return be.Err
}
