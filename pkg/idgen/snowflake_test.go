package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsWorkerIDOutOfRange(t *testing.T) {
	_, err := New(-1)
	assert.Error(t, err)

	_, err = New(maxWorkerID + 1)
	assert.Error(t, err)

	g, err := New(maxWorkerID)
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestGenerate_MonotonicAndUnique(t *testing.T) {
	g, err := New(7)
	require.NoError(t, err)

	prev := g.Generate()
	for i := 0; i < 10000; i++ {
		id := g.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestTransactionNo_ConcurrentUnique(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.TransactionNo())
			}
			mu.Lock()
			for _, no := range local {
				seen[no] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	for no := range seen {
		assert.True(t, strings.HasPrefix(no, "TXN"))
		assert.Len(t, no, 22)
		break
	}
}
