package ant

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDongles() *DongleManager {
	m := NewDongleManager(testLogger())
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("dongle-%d", n)
	}
	return m
}

var stick = USBDeviceInfo{VendorID: DynastreamVendorID, ProductID: ProductANTUSB2, Bus: 2, Address: 7}

func TestDongleLifecycle(t *testing.T) {
	m := newTestDongles()
	events, cancel := m.Subscribe(10)
	defer cancel()

	d := m.Detect(stick)
	assert.Equal(t, "dongle-1", d.ID)
	assert.Equal(t, DongleDetected, d.State)

	assert.ErrorIs(t, m.MarkReady(d.ID, 8), ErrInvalidDongleState)
	require.NoError(t, m.BeginInitialize(d.ID))
	assert.ErrorIs(t, m.BeginInitialize(d.ID), ErrInvalidDongleState)
	require.NoError(t, m.MarkReady(d.ID, 8))

	got, ok := m.GetDongle(d.ID)
	require.True(t, ok)
	assert.Equal(t, DongleReady, got.State)
	assert.Equal(t, 8, got.AvailableChannels())

	require.NoError(t, m.MarkError(d.ID, "pipe error"))
	got, _ = m.GetDongle(d.ID)
	assert.Equal(t, "pipe error", got.ErrorMessage)

	// an errored stick can be initialized again
	require.NoError(t, m.BeginInitialize(d.ID))

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []EventKind{
		EventDongleDetected, EventDongleInitializing, EventDongleReady, EventDongleError, EventDongleInitializing,
	}, kinds)
}

func TestDetectSameStickTwice(t *testing.T) {
	m := newTestDongles()
	a := m.Detect(stick)
	b := m.Detect(stick)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, m.Dongles(), 1)

	other := stick
	other.Address = 9
	c := m.Detect(other)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Len(t, m.Dongles(), 2)
}

func TestDisconnectedStickReturnsUnderSameID(t *testing.T) {
	m := newTestDongles()
	d := m.Detect(stick)
	require.NoError(t, m.BeginInitialize(d.ID))
	require.NoError(t, m.MarkReady(d.ID, 8))
	require.NoError(t, m.SetUsedChannels(d.ID, 3))

	require.NoError(t, m.Disconnect(d.ID))
	got, _ := m.GetDongle(d.ID)
	assert.Equal(t, DongleDisconnected, got.State)
	assert.Equal(t, 0, got.UsedChannels)

	back := m.Detect(stick)
	assert.Equal(t, d.ID, back.ID)
	assert.Equal(t, DongleDetected, back.State)
}

func TestSetUsedChannelsClamps(t *testing.T) {
	m := newTestDongles()
	d := m.Detect(stick)
	require.NoError(t, m.BeginInitialize(d.ID))
	require.NoError(t, m.MarkReady(d.ID, 4))

	require.NoError(t, m.SetUsedChannels(d.ID, 9))
	assert.Equal(t, 0, m.AvailableChannels(d.ID))
	require.NoError(t, m.SetUsedChannels(d.ID, -1))
	assert.Equal(t, 4, m.AvailableChannels(d.ID))

	assert.ErrorIs(t, m.SetUsedChannels("nope", 1), ErrDongleNotFound)
	assert.Equal(t, 0, m.AvailableChannels("nope"))
}

func TestDonglesOrderedByBusAddress(t *testing.T) {
	m := newTestDongles()
	m.Detect(USBDeviceInfo{VendorID: DynastreamVendorID, ProductID: ProductANTUSB2, Bus: 3, Address: 1})
	m.Detect(USBDeviceInfo{VendorID: DynastreamVendorID, ProductID: ProductANTUSB2, Bus: 1, Address: 9})
	m.Detect(USBDeviceInfo{VendorID: DynastreamVendorID, ProductID: ProductANTUSB2, Bus: 1, Address: 2})

	got := m.Dongles()
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 1, 3}, []int{got[0].Bus, got[1].Bus, got[2].Bus})
	assert.Equal(t, 2, got[0].Address)
}
