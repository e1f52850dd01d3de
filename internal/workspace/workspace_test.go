package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "solution.py", "input.txt")
	require.NoError(t, err)
	return m
}

func TestAcquireWriteRelease(t *testing.T) {
	m := newTestManager(t)

	ws, err := m.Acquire()
	require.NoError(t, err)

	entries, err := os.ReadDir(ws.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, ws.WriteSource("print(1)"))
	require.NoError(t, ws.WriteInput("2 3"))
	assert.True(t, ws.HasInput())

	src, err := os.ReadFile(filepath.Join(ws.Dir(), ws.SourceFile()))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(src))

	in, err := os.ReadFile(filepath.Join(ws.Dir(), "input.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2 3", string(in))

	require.NoError(t, ws.Release())
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))

	// second release is harmless, writes after release are refused
	require.NoError(t, ws.Release())
	assert.ErrorIs(t, ws.WriteSource("x"), ErrReleased)

	rest, err := os.ReadDir(m.Root())
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestConcurrentAcquireIsDistinct(t *testing.T) {
	m := newTestManager(t)

	const n = 32
	var (
		mu   sync.Mutex
		dirs = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := m.Acquire()
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			dirs[ws.Dir()] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, dirs, n)
}

func TestNewManagerRejectsBadNames(t *testing.T) {
	_, err := NewManager(t.TempDir(), "a.py", "a.py")
	assert.Error(t, err)

	_, err = NewManager(t.TempDir(), "", "input.txt")
	assert.Error(t, err)
}

func TestAcquireFailsWhenRootRemoved(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.RemoveAll(m.Root()))

	_, err := m.Acquire()
	assert.Error(t, err)
}
