package util_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nspcc-dev/js5cache/pkg/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWorkerPool(t *testing.T) {
	for _, size := range []int{0, 4} {
		p, err := util.NewWorkerPool(size)
		require.NoError(t, err)

		var (
			wg sync.WaitGroup
			n  atomic.Int64
		)
		for range 100 {
			wg.Add(1)
			require.NoError(t, p.Submit(func() {
				defer wg.Done()
				n.Inc()
			}))
		}
		wg.Wait()
		require.EqualValues(t, 100, n.Load())

		p.Release()
		require.ErrorIs(t, p.Submit(func() {}), util.ErrPoolClosed)
	}
}

func TestMkdirAllX(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, util.MkdirAllX(dir, 0o600))

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
	require.EqualValues(t, 0o710, fi.Mode().Perm()&0o710)
}
