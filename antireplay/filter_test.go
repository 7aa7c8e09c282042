package antireplay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilter(t *testing.T) {
	require := require.New(t)
	now := time.Unix(1700000000, 0)
	f := NewFilter(10 * time.Second)
	alice, bob := []byte("alice"), []byte("bob")
	ts := now.UnixNano()

	require.NoError(f.Check(alice, 100, ts, now))
	require.ErrorIs(f.Check(alice, 100, ts, now), ErrReplay)
	// windows are per peer
	require.NoError(f.Check(bob, 100, ts, now))
	require.NoError(f.Check(alice, 99, ts, now))
	require.Equal(2, f.Len())

	require.ErrorIs(f.Check(alice, 101, now.Add(-11*time.Second).UnixNano(), now), ErrStale)
	require.ErrorIs(f.Check(alice, 101, now.Add(11*time.Second).UnixNano(), now), ErrStale)
	// stale packets leave no trace
	require.NoError(f.Check(alice, 101, ts, now))
}

func TestFilterStaleNewPeerNotTracked(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilter(0)
	require.Equal(t, DefaultMaxSkew, f.MaxSkew())
	require.ErrorIs(t, f.Check([]byte("p"), 1, 0, now), ErrStale)
	require.Zero(t, f.Len())
}

func TestFilterPrune(t *testing.T) {
	require := require.New(t)
	now := time.Unix(1700000000, 0)
	f := NewFilter(10 * time.Second)

	require.NoError(f.Check([]byte("old"), 1, now.Add(-5*time.Second).UnixNano(), now))
	require.NoError(f.Check([]byte("new"), 1, now.UnixNano(), now))

	require.Zero(f.Prune(now))
	later := now.Add(7 * time.Second)
	require.Equal(1, f.Prune(later))
	require.Equal(1, f.Len())

	// the pruned peer's packet is rejected by the clock instead
	require.ErrorIs(f.Check([]byte("old"), 1, now.Add(-5*time.Second).UnixNano(), later), ErrStale)
}

func TestFilterConcurrent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilter(time.Minute)
	peer := []byte("peer")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := uint64(1); c <= 100; c++ {
				if f.Check(peer, c, now.UnixNano(), now) == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, accepted)
}
