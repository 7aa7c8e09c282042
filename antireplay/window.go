package antireplay

// Sliding window over packet counters, as in RFC 6479 and
// https://git.zx2c4.com/wireguard-go/tree/replay/replay.go
//
// The bitmap is a ring of 64 bit blocks. The block holding the highest
// counter is the head; moving the head forward clears the blocks it passes.
const (
	blockBitsLog = 6
	blockBits    = 1 << blockBitsLog
	// total number of bits in the ring, must be a power of 2
	ringBits  = 1024
	numBlocks = ringBits / blockBits

	// WindowSize is how far behind the highest counter a counter may be and
	// still be accepted. One block is kept free for the head.
	WindowSize = uint64(ringBits - blockBits)
)

// Window records which counters have been seen. The zero value is ready to
// use. It is not safe for concurrent use.
type Window struct {
	highest uint64
	blocks  [numBlocks]uint64
}

// Reset forgets every counter
func (w *Window) Reset() {
	w.highest = 0
	w.blocks = [numBlocks]uint64{}
}

// Highest returns the highest counter accepted so far
func (w *Window) Highest() uint64 {
	return w.highest
}

// Check marks counter as seen. It returns false when counter fell behind
// the window or was seen before.
func (w *Window) Check(counter uint64) bool {
	if counter+WindowSize < w.highest {
		return false
	}

	block := counter >> blockBitsLog
	if counter > w.highest {
		head := w.highest >> blockBitsLog
		// past a full turn every block is stale
		advance := min(block-head, numBlocks)
		for i := uint64(1); i <= advance; i++ {
			w.blocks[(head+i)%numBlocks] = 0
		}
		w.highest = counter
	}

	slot := &w.blocks[block%numBlocks]
	bit := uint64(1) << (counter & (blockBits - 1))
	if *slot&bit != 0 {
		return false
	}
	*slot |= bit
	return true
}
