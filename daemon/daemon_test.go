package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronRuleFiresTrigger(t *testing.T) {
	var mu sync.Mutex
	var reasons []string

	d, err := New(Config{
		Cron: []CronRule{
			{
				Schedule: "* * * * * *",
				Seconds:  true,
				Trigger: func(reason string) {
					mu.Lock()
					reasons = append(reasons, reason)
					mu.Unlock()
				},
			},
		},
	})
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reasons) > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatchRuleFiresOnFileWrite(t *testing.T) {
	dir := t.TempDir()

	fired := make(chan string, 8)
	d, err := New(Config{
		Watch: []WatchRule{
			{
				Path: dir,
				Trigger: func(reason string) {
					fired <- reason
				},
			},
		},
	})
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	path := filepath.Join(dir, "trigger.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	select {
	case reason := <-fired:
		assert.Contains(t, reason, "fs:")
	case <-time.After(3 * time.Second):
		t.Fatal("watch rule never fired for file write")
	}
}

func TestNewRejectsMissingWatchPath(t *testing.T) {
	_, err := New(Config{
		Watch: []WatchRule{{Path: "/does/not/exist/at/all", Trigger: func(string) {}}},
	})
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	d, err := New(Config{})
	require.NoError(t, err)
	d.Start()
	d.Stop()
	assert.NotPanics(t, func() { d.Stop() })
}
