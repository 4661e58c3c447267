package rcp

// bufferPool is a free-list of PacketSize receive/transmit buffers owned by
// one socket. A buffer is either in the free-list or exclusively held by the
// operation that acquired it; the socket's lock serializes pop and push.
type bufferPool struct {
	free [][]byte
}

// acquire pops a buffer from the free-list, allocating a fresh one when the
// list is empty. The returned slice is always PacketSize long.
func (bp *bufferPool) acquire() []byte {
	if n := len(bp.free); n > 0 {
		buf := bp.free[n-1]
		bp.free = bp.free[:n-1]
		return buf
	}
	return make([]byte, PacketSize)
}

// release pushes a buffer back. Buffers only ever come from acquire, so
// restoring the full PacketSize extent is always in capacity.
func (bp *bufferPool) release(buf []byte) {
	bp.free = append(bp.free, buf[:PacketSize])
}
