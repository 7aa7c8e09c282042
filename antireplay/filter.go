package antireplay

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrReplay occurs when a counter was already seen or fell behind the window
	ErrReplay = errors.New("nhp/antireplay: replayed counter")
	// ErrStale occurs when a timestamp is too far from the local clock
	ErrStale = errors.New("nhp/antireplay: timestamp outside allowed skew")
)

// DefaultMaxSkew is used when a Filter is created with a zero skew
const DefaultMaxSkew = 30 * time.Second

type peerState struct {
	window        Window
	lastTimestamp int64
}

// Filter keeps one Window per sender key and rejects packets whose
// timestamp is too far from now. It is safe for concurrent use.
type Filter struct {
	maxSkew time.Duration

	mu    sync.Mutex
	peers map[string]*peerState
}

// NewFilter creates a Filter accepting timestamps within maxSkew of now
func NewFilter(maxSkew time.Duration) *Filter {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Filter{
		maxSkew: maxSkew,
		peers:   make(map[string]*peerState),
	}
}

// MaxSkew returns the accepted clock difference
func (f *Filter) MaxSkew() time.Duration {
	return f.maxSkew
}

// Check accepts the packet numbered counter from peer, sent at timestamp
// (unix nanoseconds). Nothing is recorded when it returns an error.
func (f *Filter) Check(peer []byte, counter uint64, timestamp int64, now time.Time) error {
	skew := now.Sub(time.Unix(0, timestamp))
	if skew > f.maxSkew || skew < -f.maxSkew {
		return ErrStale
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.peers[string(peer)]
	if !ok {
		st = new(peerState)
	}
	if !st.window.Check(counter) {
		return ErrReplay
	}
	if !ok {
		f.peers[string(peer)] = st
	}
	if timestamp > st.lastTimestamp {
		st.lastTimestamp = timestamp
	}
	return nil
}

// Prune drops peers that sent nothing within the skew. Any packet of theirs
// that could still be replayed is already stale.
func (f *Filter) Prune(now time.Time) int {
	cutoff := now.Add(-f.maxSkew).UnixNano()

	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, st := range f.peers {
		if st.lastTimestamp < cutoff {
			delete(f.peers, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked peers
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}
