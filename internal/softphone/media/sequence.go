package media

// lossTracker counts received and missing RTP packets from the 16-bit
// sequence numbers, extending them across wrap-around.
type lossTracker struct {
	started  bool
	highest  uint16
	cycles   uint32
	received uint64
	lost     uint64
}

// observe records seq and returns the number of packets skipped since
// the highest sequence seen so far.
func (t *lossTracker) observe(seq uint16) int {
	t.received++
	if !t.started {
		t.started = true
		t.highest = seq
		return 0
	}

	delta := int16(seq - t.highest)
	if delta <= 0 {
		// Duplicate or reordered.
		return 0
	}
	if seq < t.highest {
		t.cycles++
	}
	t.highest = seq

	gap := int(delta) - 1
	t.lost += uint64(gap)
	return gap
}

// extended returns the highest sequence number including wrap count.
func (t *lossTracker) extended() uint32 {
	return t.cycles<<16 | uint32(t.highest)
}
