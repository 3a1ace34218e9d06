package serial_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcabin.ai/internal/sim/cabin/serial"
)

func TestSQLiteCounter(t *testing.T) {
	ctx := context.Background()
	c, err := serial.OpenSQLiteCounter(filepath.Join(t.TempDir(), "serials.sqlite"), "")
	require.NoError(t, err)
	defer c.Close()

	cur, err := c.Peek(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, cur)

	for want := uint64(1); want <= 3; want++ {
		v, err := c.Allocate(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	require.NoError(t, c.Set(ctx, 100))
	v, err := c.Allocate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 101, v)
}

func TestSQLiteCounter_ConcurrentAllocationsAreDistinct(t *testing.T) {
	ctx := context.Background()
	c, err := serial.OpenSQLiteCounter(filepath.Join(t.TempDir(), "serials.sqlite"), "ship_serial")
	require.NoError(t, err)
	defer c.Close()

	const n = 32
	seen := make(map[uint64]bool, n)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for j := 0; j < n; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Allocate(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[v], "serial %d handed out twice", v)
			seen[v] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
