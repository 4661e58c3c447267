package rcp

// Sequence numbers wrap at MaxSeqNum, so ordering is a forward-distance test
// over the modulus rather than plain integer comparison.

// seqDist returns the forward distance from a to b modulo MaxSeqNum.
func seqDist(a, b uint16) int {
	return (int(b) - int(a) + MaxSeqNum) % MaxSeqNum
}

// seqBefore reports whether a comes strictly before b: the forward distance
// from a to b is nonzero and less than half the sequence space.
func seqBefore(a, b uint16) bool {
	d := seqDist(a, b)
	return d != 0 && d < MaxSeqNum/2
}

// seqAdd advances a by n modulo MaxSeqNum.
func seqAdd(a uint16, n int) uint16 {
	return uint16((int(a) + n) % MaxSeqNum)
}
