package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProvidenceIT/ride-sensors/internal/config"
)

func TestNewWritesToFileAndExtraWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.log")
	lines := NewLineWriter(4)
	logger, closer := New(&config.Config{LogFile: path, LogMaxSizeMB: 1}, lines)

	logger.Printf("ChannelManager: Channel %d -> %s", 2, "Open")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ChannelManager: Channel 2 -> Open")

	got := <-lines.Lines()
	assert.Contains(t, got, "ChannelManager: Channel 2 -> Open")
}

func TestLineWriterSplitsLines(t *testing.T) {
	w := NewLineWriter(8)

	_, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ond\nthird"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var got []string
	for line := range w.Lines() {
		got = append(got, line)
	}
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestLineWriterDropsWhenFull(t *testing.T) {
	w := NewLineWriter(1)
	n, err := w.Write([]byte("a\nb\nc\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "a", <-w.Lines())
}

func TestLineWriterAfterClose(t *testing.T) {
	w := NewLineWriter(1)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	n, err := w.Write([]byte("late\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
