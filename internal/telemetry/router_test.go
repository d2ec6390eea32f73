package telemetry

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProvidenceIT/ride-sensors/internal/ant"
	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
)

type fixture struct {
	devices *device.Manager
	router  *Router
	events  <-chan device.Event
}

func newFixture(t *testing.T) *fixture {
	logger := log.New(io.Discard, "", 0)
	devices := device.NewManager(logger, nil)
	ch, cancel := devices.Subscribe(50)
	t.Cleanup(cancel)
	return &fixture{devices: devices, router: NewRouter(logger, devices, true), events: ch}
}

func (f *fixture) drain() []device.Event {
	var out []device.Event
	for len(f.events) > 0 {
		out = append(out, <-f.events)
	}
	return out
}

func kinds(events []device.Event) []device.EventKind {
	out := make([]device.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestHandleGATTHeartRate(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.router.HandleGATT("ble:hr", gatt.StreamHeartRate, []byte{0x06, 0x78}))

	events := f.drain()
	require.Len(t, events, 1)
	assert.Equal(t, device.EventDataReceived, events[0].Kind)
	assert.Equal(t, "ble:hr", events[0].DeviceID)
	assert.Equal(t, device.DeviceTypeHeartRate, events[0].DeviceType)
	hr, ok := events[0].Data.(gatt.HeartRateMeasurement)
	require.True(t, ok)
	assert.Equal(t, uint16(120), hr.HeartRateBpm)
	assert.True(t, hr.SensorContact)
}

func TestHandleGATTDropsMalformedFrames(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.router.HandleGATT("ble:pm", gatt.StreamCyclingPower, []byte{0x00, 0x00, 0x10}))
	assert.False(t, f.router.HandleGATT("ble:hr", gatt.StreamHeartRate, nil))
	assert.False(t, f.router.HandleGATT("ble:x", gatt.StreamID("unknown"), []byte{1, 2, 3}))

	assert.Empty(t, f.drain())
	assert.Equal(t, uint64(3), f.router.Dropped())
}

func TestHandleGATTPowerFeedsDynamicsInOrder(t *testing.T) {
	f := newFixture(t)
	tracker := NewDynamicsTracker()
	detach := tracker.Attach(f.router)
	defer detach()

	var seen []float64
	f.router.OnDynamics(func(s DynamicsSample) {
		seen = append(seen, s.Data.Balance.LeftPercent)
	})

	// flags: balance present, left reference; balance in 0.5% units
	require.True(t, f.router.HandleGATT("ble:pm", gatt.StreamCyclingPower, []byte{0x03, 0x00, 0xFA, 0x00, 104}))
	require.True(t, f.router.HandleGATT("ble:pm", gatt.StreamCyclingPower, []byte{0x03, 0x00, 0xF0, 0x00, 100}))

	assert.Equal(t, []float64{52, 50}, seen)
	avg, ok := tracker.Averages("ble:pm")
	require.True(t, ok)
	assert.Equal(t, uint64(2), avg.SampleCount)
	assert.InDelta(t, 51.0, avg.AvgLeftBalance, 1e-9)
	assert.Equal(t, []string{"ble:pm"}, tracker.DeviceIDs())

	// power without dynamics publishes data but no sample
	require.True(t, f.router.HandleGATT("ble:pm", gatt.StreamCyclingPower, []byte{0x00, 0x00, 0xF0, 0x00}))
	assert.Len(t, seen, 2)
	assert.Len(t, f.drain(), 3)
}

func TestHandleGATTCrankCadence(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.router.HandleGATT("ble:csc", gatt.StreamCSC, []byte{0x02, 10, 0, 0x00, 0x04}))
	require.True(t, f.router.HandleGATT("ble:csc", gatt.StreamCSC, []byte{0x02, 11, 0, 0x00, 0x08}))

	events := f.drain()
	require.Len(t, events, 3)
	_, ok := events[1].Data.(gatt.CSCMeasurement)
	assert.True(t, ok, "the frame is published before the cadence derived from it")
	c, ok := events[2].Data.(Cadence)
	require.True(t, ok)
	assert.InDelta(t, 60.0, c.Rpm, 1e-9)

	f.router.ResetDevice("ble:csc")
	require.True(t, f.router.HandleGATT("ble:csc", gatt.StreamCSC, []byte{0x02, 12, 0, 0x00, 0x0C}))
	assert.Len(t, f.drain(), 1, "first reading after reset yields no cadence")
}

func TestHandleGATTControlPointResponse(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.router.HandleGATT("ble:trainer", gatt.StreamControlPoint, []byte{0x80, 0x05, 0x01}))

	events := f.drain()
	require.Len(t, events, 1)
	resp := events[0].Data.(gatt.ControlPointResponse)
	assert.True(t, resp.Succeeded())
}

func newSearchingChannel(t *testing.T, dt device.DeviceType) (*ant.ChannelManager, uint8) {
	channels := ant.NewChannelManager(log.New(io.Discard, "", 0), 8)
	n, err := channels.AllocateChannel(ant.ChannelConfig{DeviceType: dt})
	require.NoError(t, err)
	require.NoError(t, channels.StartSearch(n))
	return channels, n
}

func broadcast(channel uint8, data [8]byte, ext ...byte) ant.Message {
	payload := append([]byte{channel}, data[:]...)
	return ant.Message{ID: ant.MsgIDBroadcastData, Payload: append(payload, ext...)}
}

func TestHandleANTPairsSearchingChannel(t *testing.T) {
	f := newFixture(t)
	channels, n := newSearchingChannel(t, device.DeviceTypeHeartRate)

	// device number 12345, type 120, transmission type 1
	msg := broadcast(n, [8]byte{0x04, 0, 0, 0, 0, 0x04, 3, 130}, 0x80, 0x39, 0x30, 0x78, 0x01)
	require.True(t, f.router.HandleANT(context.Background(), channels, msg))

	ch, _ := channels.GetChannel(n)
	assert.Equal(t, ant.ChannelOpen, ch.State)
	assert.Equal(t, uint16(12345), ch.DeviceNumber)

	assert.True(t, f.devices.IsOpen("ant:120:12345"))
	d, ok := f.devices.GetDevice("ant:120:12345")
	require.True(t, ok)
	assert.Equal(t, device.TransportANT, d.Transport)
	assert.Equal(t, "Heart Rate 12345", d.Name)

	events := f.drain()
	assert.Equal(t, []device.EventKind{
		device.EventDeviceConnected, device.EventDeviceOpened, device.EventDataReceived,
	}, kinds(events))
	page := events[2].Data.(ant.HeartRatePage)
	assert.Equal(t, uint8(130), page.HeartRateBpm)

	// later broadcasts without extended data are still routed
	require.True(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x04, 0, 0, 0, 0, 0x08, 4, 131})))
	assert.Equal(t, []device.EventKind{device.EventDataReceived}, kinds(f.drain()))
}

func TestHandleANTIgnoresUnpairedChannels(t *testing.T) {
	f := newFixture(t)
	channels, n := newSearchingChannel(t, device.DeviceTypeHeartRate)

	assert.False(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x04})))
	assert.False(t, f.router.HandleANT(context.Background(), channels, broadcast(7, [8]byte{0x04})))
	assert.False(t, f.router.HandleANT(context.Background(), channels, broadcast(200, [8]byte{0x04})))
	assert.False(t, f.router.HandleANT(context.Background(), channels, ant.Message{ID: ant.MsgIDChannelEvent, Payload: []byte{n, 1, 7}}))
	assert.Empty(t, f.drain())
}

func TestHandleANTPowerDynamics(t *testing.T) {
	f := newFixture(t)
	channels, n := newSearchingChannel(t, device.DeviceTypePower)
	require.NoError(t, channels.MarkOpen(n, 77, 5))

	tracker := NewDynamicsTracker()
	tracker.Attach(f.router)

	require.True(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x10, 1, 0x80 | 48, 90, 0, 0, 0xC8, 0})))
	require.True(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x13, 1, 140, 150, 50, 60, 0xFF, 0xFF})))
	assert.False(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x52})))

	avg, ok := tracker.Averages("ant:11:77")
	require.True(t, ok)
	assert.Equal(t, uint64(2), avg.SampleCount)
	assert.InDelta(t, 52.0, avg.AvgLeftBalance, 1e-9)
	assert.InDelta(t, 72.5, avg.AvgCombinedTorqueEffectiveness, 1e-9)
	assert.Equal(t, uint64(1), f.router.Dropped())
}

func TestHandleANTSpeedCadence(t *testing.T) {
	f := newFixture(t)
	channels, n := newSearchingChannel(t, device.DeviceTypeSpeedCadence)
	require.NoError(t, channels.MarkOpen(n, 5, 1))

	require.True(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x00, 0x04, 10, 0})))
	require.True(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x00, 0x08, 12, 0})))

	events := f.drain()
	require.Len(t, events, 3)
	_, ok := events[1].Data.(ant.SpeedCadencePage)
	assert.True(t, ok, "the page is published before the cadence derived from it")
	c, ok := events[2].Data.(Cadence)
	require.True(t, ok)
	assert.InDelta(t, 120.0, c.Rpm, 1e-9)
}

func TestDeviceLostMapsToDeviceState(t *testing.T) {
	f := newFixture(t)
	f.devices.Discover("ant:120:1", "Heart Rate 1", device.TransportANT, device.DeviceTypeHeartRate)
	f.devices.Discover("ant:11:2", "Power 2", device.TransportANT, device.DeviceTypePower)
	require.NoError(t, f.devices.OpenDevice(context.Background(), "ant:120:1"))
	require.NoError(t, f.devices.OpenDevice(context.Background(), "ant:11:2"))
	f.drain()

	f.router.DeviceLost("ant:120:1", nil)
	f.router.DeviceLost("ant:11:2", errors.New("read failed"))
	f.router.DeviceLost("ant:120:404", nil)

	hr, _ := f.devices.GetDevice("ant:120:1")
	assert.Equal(t, device.StateDisconnected, hr.Status.State)
	pm, _ := f.devices.GetDevice("ant:11:2")
	assert.Equal(t, device.Status{State: device.StateError, Message: "read failed"}, pm.Status)
	assert.Equal(t, []device.EventKind{device.EventDeviceDisconnected, device.EventError}, kinds(f.drain()))
}

func TestHandleANTKeepsUserClosedDeviceClosed(t *testing.T) {
	f := newFixture(t)
	channels, n := newSearchingChannel(t, device.DeviceTypeHeartRate)
	pairing := broadcast(n, [8]byte{0x04, 0, 0, 0, 0, 0x04, 3, 130}, 0x80, 0x39, 0x30, 0x78, 0x01)
	require.True(t, f.router.HandleANT(context.Background(), channels, pairing))
	require.NoError(t, f.devices.CloseDevice("ant:120:12345"))

	// the stick searches again and locks onto the same strap
	require.NoError(t, channels.CloseChannel(n))
	channels, n = newSearchingChannel(t, device.DeviceTypeHeartRate)
	f.drain()

	assert.False(t, f.router.HandleANT(context.Background(), channels, pairing))
	ch, _ := channels.GetChannel(n)
	assert.Equal(t, ant.ChannelOpen, ch.State)
	assert.False(t, f.devices.IsOpen("ant:120:12345"))
	assert.Empty(t, f.drain())

	require.NoError(t, f.devices.OpenDevice(context.Background(), "ant:120:12345"))
	f.drain()
	assert.True(t, f.router.HandleANT(context.Background(), channels, broadcast(n, [8]byte{0x04, 0, 0, 0, 0, 0x08, 4, 131})))
	assert.Equal(t, []device.EventKind{device.EventDataReceived}, kinds(f.drain()))
}
