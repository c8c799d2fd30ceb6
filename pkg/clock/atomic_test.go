package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicClock_NextIsUnique(t *testing.T) {
	c := NewAtomic(0)

	const (
		workers = 8
		perW    = 1000
	)

	var (
		mu   sync.Mutex
		seen = make(map[uint64]struct{}, workers*perW)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, perW)
			for i := 0; i < perW; i++ {
				local = append(local, c.Next())
			}
			mu.Lock()
			for _, v := range local {
				seen[v] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perW)
	require.Equal(t, uint64(workers*perW), c.Val())
}

func TestAtomicClock_SetNeverGoesBack(t *testing.T) {
	c := NewAtomic(10)
	c.Set(5)
	require.Equal(t, uint64(10), c.Val())

	c.Set(42)
	require.Equal(t, uint64(42), c.Val())
	require.Equal(t, uint64(43), c.Next())
}
