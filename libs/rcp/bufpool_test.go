package rcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferPoolReuse(t *testing.T) {
	var bp bufferPool
	buf := bp.acquire()
	require.Len(t, buf, PacketSize)
	for i := range buf {
		buf[i] = 0xAA
	}
	bp.release(buf)
	again := bp.acquire()
	require.Len(t, again, PacketSize)
	// a reacquired buffer must serve exactly like a fresh one: same extent,
	// fully writable
	for i := range again {
		again[i] = 0x55
	}
	fresh := bp.acquire()
	require.Len(t, fresh, PacketSize)
}

func TestBufferPoolExclusive(t *testing.T) {
	var bp bufferPool
	a := bp.acquire()
	b := bp.acquire()
	// two live buffers never alias
	a[0] = 1
	b[0] = 2
	require.Equal(t, byte(1), a[0])
	bp.release(a)
	bp.release(b)
	require.Len(t, bp.free, 2)
}
