package device

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpener struct {
	openErr error
	opened  []string
	closed  []string
	block   chan struct{}
}

func (f *fakeOpener) Open(ctx context.Context, d Device) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.opened = append(f.opened, d.ID)
	return f.openErr
}

func (f *fakeOpener) Close(d Device) error {
	f.closed = append(f.closed, d.ID)
	return nil
}

func newTestManager(opener Opener) *Manager {
	return NewManager(log.New(io.Discard, "", 0), opener)
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestNewManager_NilLogger(t *testing.T) {
	assert.Panics(t, func() { NewManager(nil, nil) })
}

func TestManager_OpenUnknownDevice(t *testing.T) {
	m := newTestManager(nil)
	err := m.OpenDevice(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, m.CloseDevice("missing"), ErrDeviceNotFound)
}

func TestManager_Lifecycle(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(opener)
	ch, cancel := m.Subscribe(10)
	defer cancel()

	d := m.Discover("hr-1", "Strap", TransportBLE, DeviceTypeHeartRate)
	assert.Equal(t, StateDetected, d.Status.State)
	e := nextEvent(t, ch)
	assert.Equal(t, EventDeviceConnected, e.Kind)
	assert.Equal(t, DeviceTypeHeartRate, e.DeviceType)

	require.NoError(t, m.OpenDevice(context.Background(), "hr-1"))
	assert.True(t, m.IsOpen("hr-1"))
	assert.Equal(t, []string{"hr-1"}, opener.opened)
	assert.Equal(t, EventDeviceOpened, nextEvent(t, ch).Kind)

	// opening again is a no-op
	require.NoError(t, m.OpenDevice(context.Background(), "hr-1"))
	assert.Len(t, opener.opened, 1)

	require.NoError(t, m.CloseDevice("hr-1"))
	assert.False(t, m.IsOpen("hr-1"))
	assert.Equal(t, []string{"hr-1"}, opener.closed)
	got, ok := m.GetDevice("hr-1")
	require.True(t, ok)
	assert.Equal(t, StateDetected, got.Status.State)
	assert.Equal(t, EventDeviceClosed, nextEvent(t, ch).Kind)
}

func TestManager_OpenFailureMovesToError(t *testing.T) {
	opener := &fakeOpener{openErr: errors.New("gatt discovery failed")}
	m := newTestManager(opener)
	ch, cancel := m.Subscribe(10)
	defer cancel()

	m.Discover("pm-1", "", TransportBLE, DeviceTypePower)
	nextEvent(t, ch)

	err := m.OpenDevice(context.Background(), "pm-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, opener.openErr)

	d, ok := m.GetDevice("pm-1")
	require.True(t, ok)
	assert.Equal(t, StateError, d.Status.State)
	assert.Equal(t, "Error(gatt discovery failed)", d.Status.String())

	e := nextEvent(t, ch)
	assert.Equal(t, EventError, e.Kind)
	assert.Equal(t, "gatt discovery failed", e.Err)

	// an errored device may be opened again
	opener.openErr = nil
	require.NoError(t, m.OpenDevice(context.Background(), "pm-1"))
	assert.True(t, m.IsOpen("pm-1"))
}

func TestManager_DisconnectAndRediscover(t *testing.T) {
	m := newTestManager(nil)
	ch, cancel := m.Subscribe(10)
	defer cancel()

	m.Discover("fe-1", "Trainer", TransportANT, DeviceTypeFitnessEquipment)
	require.NoError(t, m.OpenDevice(context.Background(), "fe-1"))
	require.NoError(t, m.MarkDisconnected("fe-1"))

	err := m.OpenDevice(context.Background(), "fe-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, m.MarkError("fe-1", "usb"), ErrInvalidTransition)

	d := m.Discover("fe-1", "", TransportANT, DeviceTypeUnknown)
	assert.Equal(t, StateDetected, d.Status.State)
	assert.Equal(t, "Trainer", d.Name)
	assert.Equal(t, DeviceTypeFitnessEquipment, d.Type)

	kinds := []EventKind{}
	for len(kinds) < 4 {
		kinds = append(kinds, nextEvent(t, ch).Kind)
	}
	assert.Equal(t, []EventKind{
		EventDeviceConnected,
		EventDeviceOpened,
		EventDeviceDisconnected,
		EventDeviceConnected,
	}, kinds)
}

func TestManager_CloseDuringOpenHandshake(t *testing.T) {
	opener := &fakeOpener{block: make(chan struct{})}
	m := newTestManager(opener)
	m.Discover("csc-1", "", TransportBLE, DeviceTypeSpeedCadence)

	done := make(chan error, 1)
	go func() { done <- m.OpenDevice(context.Background(), "csc-1") }()

	require.Eventually(t, func() bool {
		d, ok := m.GetDevice("csc-1")
		return ok && d.Status.State == StateOpening
	}, time.Second, time.Millisecond)

	require.NoError(t, m.CloseDevice("csc-1"))
	close(opener.block)

	err := <-done
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, m.IsOpen("csc-1"))
}

func TestManager_BestEffortReadsUnderContention(t *testing.T) {
	m := newTestManager(nil)
	m.Discover("hr-1", "", TransportBLE, DeviceTypeHeartRate)
	require.NoError(t, m.OpenDevice(context.Background(), "hr-1"))
	require.True(t, m.IsOpen("hr-1"))

	m.mu.Lock()
	assert.False(t, m.IsOpen("hr-1"))
	_, ok := m.GetDevice("hr-1")
	assert.False(t, ok)
	m.mu.Unlock()

	assert.True(t, m.IsOpen("hr-1"))
}

func TestManager_PublishDataAndDevices(t *testing.T) {
	m := newTestManager(nil)
	ch, cancel := m.Subscribe(0)
	defer cancel()

	m.Discover("b", "", TransportBLE, DeviceTypePower)
	m.Discover("a", "", TransportHID, DeviceTypeUnknown)
	nextEvent(t, ch)
	nextEvent(t, ch)

	m.PublishData("b", DeviceTypePower, testMeasurement{})
	e := nextEvent(t, ch)
	assert.Equal(t, EventDataReceived, e.Kind)
	assert.Equal(t, "test", e.Data.MeasurementKind())

	devices := m.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "a", devices[0].ID)
	assert.Equal(t, "b", devices[1].ID)
}

type testMeasurement struct{}

func (testMeasurement) MeasurementKind() string { return "test" }
