package ant

import (
	"bytes"
	"context"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "no dongles", Summary(nil, nil))

	r, dongles := newTestRadio(&fakeLink{}, 8)
	assert.Equal(t, "dongle-1 Detected 0/0", Summary(dongles.Dongles(), Radios{r}))

	require.NoError(t, r.Initialize())
	hr, err := r.OpenSearch(ChannelConfig{DeviceType: device.DeviceTypeHeartRate})
	require.NoError(t, err)
	require.NoError(t, r.Channels().MarkOpen(hr, 5, 1))
	_, err = r.OpenSearch(ChannelConfig{DeviceType: device.DeviceTypePower})
	require.NoError(t, err)

	assert.Equal(t, "dongle-1 Ready 2/8 (Heart Rate Open, Power Meter Searching)", Summary(dongles.Dongles(), Radios{r}))
}

func TestWatchStatusLogsChanges(t *testing.T) {
	r, dongles := newTestRadio(&fakeLink{}, 8)
	require.NoError(t, r.Initialize())
	_, err := r.OpenSearch(ChannelConfig{DeviceType: device.DeviceTypeHeartRate})
	require.NoError(t, err)

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchStatus(ctx, log.New(out, "", 0), dongles, Radios{r})
		close(done)
	}()

	// closing a free channel changes nothing but still emits an event
	require.Eventually(t, func() bool {
		_ = r.Channels().CloseChannel(7)
		return strings.Contains(out.String(), "ANT: dongle-1 Ready 1/8 (Heart Rate Searching)")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, dongles.Disconnect(r.dongleID))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "ANT: dongle-1 Disconnected 0/8")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, strings.Count(out.String(), "Ready 1/8"), "unchanged summaries are logged once")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchStatus did not stop")
	}
}
