package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestStaticNeverRereads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.toml")
	writeConfig(t, path, "[main]\nperiod = 1\n")

	src, err := NewStatic(path, nil)
	require.NoError(t, err)

	writeConfig(t, path, "[main]\nperiod = 99\n")

	doc, err := src.Global()
	require.NoError(t, err)
	period, err := doc[MainKey].Float("period")
	require.NoError(t, err)
	assert.Equal(t, 1.0, period)

	_, ok := src.ModTime()
	assert.False(t, ok)
}

func TestStaticMissingFile(t *testing.T) {
	_, err := NewStatic(filepath.Join(t.TempDir(), "nope.toml"), nil)
	require.Error(t, err)
}

func TestDynamicRereadsOnlyOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.toml")
	writeConfig(t, path, "[main]\nperiod = 1\n")

	src := NewDynamic(path, nil, NewLockSet())

	doc, err := src.Global()
	require.NoError(t, err)
	period, _ := doc[MainKey].Float("period")
	assert.Equal(t, 1.0, period)

	first, ok := src.ModTime()
	require.True(t, ok)

	// Rewrite with a strictly newer mtime.
	writeConfig(t, path, "[main]\nperiod = 2\n")
	require.NoError(t, os.Chtimes(path, time.Time{}, first.Add(time.Second)))

	doc, err = src.Global()
	require.NoError(t, err)
	period, _ = doc[MainKey].Float("period")
	assert.Equal(t, 2.0, period)

	second, _ := src.ModTime()
	assert.True(t, second.After(first))

	// Unchanged mtime serves the cache even if the bytes changed.
	writeConfig(t, path, "[main]\nperiod = 3\n")
	require.NoError(t, os.Chtimes(path, time.Time{}, second))

	doc, err = src.Global()
	require.NoError(t, err)
	period, _ = doc[MainKey].Float("period")
	assert.Equal(t, 2.0, period)
}

func TestDynamicSuffixSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.toml")
	writeConfig(t, path, "[main]\nperiod = 1\n\n[workers.heartbeat]\nupdate_every = 5\n")

	src := NewDynamic(path, nil, NewLockSet())
	sec, err := src.Section("heartbeat")
	require.NoError(t, err)
	every, err := sec.Duration("update_every")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, every)
}

// A Dynamic source must never observe a write in progress: reads and the
// distributor's adoption both run under the shared file lock.
func TestDynamicMidWriteIsolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.toml")
	writeConfig(t, path, "[main]\nperiod = 1\n")

	locks := NewLockSet()
	src := NewDynamic(path, nil, locks)

	lock := locks.FileLock()
	lock.MustLock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Simulate a slow, torn write while holding the lock.
		writeConfig(t, path, "[main\n") // invalid half-written state
		time.Sleep(50 * time.Millisecond)
		writeConfig(t, path, "[main]\nperiod = 2\n")
		now := time.Now().Add(time.Second)
		_ = os.Chtimes(path, now, now)
		lock.Unlock()
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := src.Global()
			if !assert.NoError(t, err) {
				return
			}
			period, err := doc[MainKey].Float("period")
			if !assert.NoError(t, err) {
				return
			}
			// Old complete document or new complete document, never the
			// torn intermediate state.
			assert.Contains(t, []float64{1.0, 2.0}, period)
		}()
	}

	wg.Wait()
	<-writerDone
}

func TestMemoryReplace(t *testing.T) {
	src := NewMemory(Document{"main": {"period": int64(1)}})

	doc, err := src.Global()
	require.NoError(t, err)
	doc[MainKey]["period"] = int64(42) // mutating the copy is inert

	doc, err = src.Global()
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc[MainKey]["period"])

	src.Replace(Document{"main": {"period": int64(2)}})
	doc, err = src.Global()
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc[MainKey]["period"])
}
