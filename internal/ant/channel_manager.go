package ant

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/events"
)

var (
	ErrChannelAllocationFailed = errors.New("no free ANT channel")
	ErrChannelNotFound         = errors.New("ANT channel not found")
	ErrInvalidChannelState     = errors.New("invalid ANT channel state")
)

// ChannelState is the lifecycle state of one radio channel
type ChannelState int

const (
	ChannelUnassigned ChannelState = iota
	ChannelAssigned
	ChannelSearching
	ChannelOpen
	ChannelClosed
	ChannelError
)

func (s ChannelState) String() string {
	switch s {
	case ChannelUnassigned:
		return "Unassigned"
	case ChannelAssigned:
		return "Assigned"
	case ChannelSearching:
		return "Searching"
	case ChannelOpen:
		return "Open"
	case ChannelClosed:
		return "Closed"
	case ChannelError:
		return "Error"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// Channel is a snapshot of one radio channel. DeviceNumber 0 means the
// channel pairs with any device of its type.
type Channel struct {
	Number           uint8
	State            ChannelState
	ErrorMessage     string
	DeviceType       device.DeviceType
	DeviceNumber     uint16
	TransmissionType uint8
	Period           uint16
	RFFrequency      uint8
}

// Free reports whether the channel can be allocated
func (c Channel) Free() bool {
	return c.State == ChannelUnassigned || c.State == ChannelClosed
}

// DeviceID names the paired sensor the way the device manager keys ANT
// devices
func (c Channel) DeviceID() string {
	return fmt.Sprintf("ant:%d:%d", c.DeviceType.ANTDeviceType(), c.DeviceNumber)
}

// ChannelConfig is what a caller asks for when allocating a channel
type ChannelConfig struct {
	DeviceType       device.DeviceType
	DeviceNumber     uint16 // 0 pairs with the first device found
	TransmissionType uint8  // 0 is the wildcard
}

// ChannelManager owns the radio channels of one dongle. It is the single
// source of truth for channel usage; when attached to a DongleManager it
// pushes the used count there after each allocation or release.
type ChannelManager struct {
	mu       sync.RWMutex
	channels []Channel
	events   *events.ChannelEvent[Event]
	logger   *log.Logger
	now      func() time.Time

	dongles  *DongleManager
	dongleID string
}

func NewChannelManager(logger *log.Logger, totalChannels int) *ChannelManager {
	if logger == nil {
		panic("ChannelManager: logger cannot be nil")
	}
	if totalChannels < 0 || totalChannels > 255 {
		panic(fmt.Sprintf("ChannelManager: invalid channel count %d", totalChannels))
	}
	channels := make([]Channel, totalChannels)
	for i := range channels {
		channels[i] = Channel{Number: uint8(i), State: ChannelUnassigned}
	}
	return &ChannelManager{
		channels: channels,
		events:   events.NewChannelEvent[Event](false),
		logger:   logger,
		now:      time.Now,
	}
}

// AttachDongle links the manager to the dongle whose channels it allocates
func (m *ChannelManager) AttachDongle(dongles *DongleManager, dongleID string) {
	m.mu.Lock()
	m.dongles = dongles
	m.dongleID = dongleID
	used := m.usedLocked()
	m.mu.Unlock()
	m.syncDongle(dongles, dongleID, used)
}

func (m *ChannelManager) Subscribe(capacity int) (<-chan Event, func()) {
	return m.events.Subscribe(capacity)
}

// Listen registers a caller owned channel, see events.ChannelEvent.Listen
func (m *ChannelManager) Listen(ch chan<- Event) func() {
	return m.events.Listen(ch)
}

func (m *ChannelManager) Close() {
	m.events.Close()
}

// AllocateChannel assigns the first Unassigned or Closed channel to cfg and
// returns its number
func (m *ChannelManager) AllocateChannel(cfg ChannelConfig) (uint8, error) {
	m.mu.Lock()
	idx := -1
	for i := range m.channels {
		if m.channels[i].Free() {
			idx = i
			break
		}
	}
	if idx < 0 {
		total := len(m.channels)
		m.mu.Unlock()
		return 0, fmt.Errorf("allocate %s channel (%d in use): %w", cfg.DeviceType, total, ErrChannelAllocationFailed)
	}
	ch := &m.channels[idx]
	*ch = Channel{
		Number:           ch.Number,
		State:            ChannelAssigned,
		DeviceType:       cfg.DeviceType,
		DeviceNumber:     cfg.DeviceNumber,
		TransmissionType: cfg.TransmissionType,
		Period:           cfg.DeviceType.ChannelPeriod(),
		RFFrequency:      ANTPlusRFFrequency,
	}
	snapshot := *ch
	dongles, dongleID, used := m.dongles, m.dongleID, m.usedLocked()
	m.mu.Unlock()

	m.logger.Printf("ChannelManager: Assigned channel %d to %s (period %d)", snapshot.Number, snapshot.DeviceType, snapshot.Period)
	m.syncDongle(dongles, dongleID, used)
	m.emit(EventChannelAssigned, dongleID, snapshot)
	return snapshot.Number, nil
}

// StartSearch moves an Assigned channel to Searching
func (m *ChannelManager) StartSearch(number uint8) error {
	return m.transition(number, EventChannelSearching, func(ch *Channel) error {
		if ch.State != ChannelAssigned {
			return fmt.Errorf("start search on channel %d in state %s: %w", number, ch.State, ErrInvalidChannelState)
		}
		ch.State = ChannelSearching
		return nil
	})
}

// MarkOpen records that a Searching channel paired with a device
func (m *ChannelManager) MarkOpen(number uint8, deviceNumber uint16, transmissionType uint8) error {
	return m.transition(number, EventChannelOpened, func(ch *Channel) error {
		if ch.State != ChannelSearching {
			return fmt.Errorf("open channel %d in state %s: %w", number, ch.State, ErrInvalidChannelState)
		}
		ch.State = ChannelOpen
		ch.DeviceNumber = deviceNumber
		ch.TransmissionType = transmissionType
		return nil
	})
}

// CloseChannel moves a channel to Closed from any state and clears its
// device identity. Closing a Closed channel is a no-op apart from the event.
func (m *ChannelManager) CloseChannel(number uint8) error {
	return m.transition(number, EventChannelClosed, func(ch *Channel) error {
		*ch = Channel{Number: ch.Number, State: ChannelClosed}
		return nil
	})
}

// SetChannelError records a radio failure on a channel
func (m *ChannelManager) SetChannelError(number uint8, reason string) error {
	return m.transition(number, EventChannelError, func(ch *Channel) error {
		ch.State = ChannelError
		ch.ErrorMessage = reason
		return nil
	})
}

func (m *ChannelManager) transition(number uint8, kind EventKind, apply func(ch *Channel) error) error {
	m.mu.Lock()
	if int(number) >= len(m.channels) {
		m.mu.Unlock()
		return fmt.Errorf("channel %d: %w", number, ErrChannelNotFound)
	}
	ch := &m.channels[number]
	if err := apply(ch); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := *ch
	dongles, dongleID, used := m.dongles, m.dongleID, m.usedLocked()
	m.mu.Unlock()

	m.logger.Printf("ChannelManager: Channel %d -> %s", number, snapshot.State)
	m.syncDongle(dongles, dongleID, used)
	m.emit(kind, dongleID, snapshot)
	return nil
}

func (m *ChannelManager) usedLocked() int {
	used := 0
	for _, ch := range m.channels {
		if !ch.Free() {
			used++
		}
	}
	return used
}

// syncDongle runs without m.mu held so the two managers never nest locks
func (m *ChannelManager) syncDongle(dongles *DongleManager, dongleID string, used int) {
	if dongles == nil {
		return
	}
	if err := dongles.SetUsedChannels(dongleID, used); err != nil {
		m.logger.Printf("ChannelManager: Failed to update dongle %s: %v", dongleID, err)
	}
}

func (m *ChannelManager) emit(kind EventKind, dongleID string, ch Channel) {
	m.events.Notify(Event{
		Kind:     kind,
		DongleID: dongleID,
		Channel:  ch.Number,
		Err:      ch.ErrorMessage,
		At:       m.now(),
	})
}

// GetChannel returns a snapshot of a channel. Returns false when the number
// is out of range or the lock is contended.
func (m *ChannelManager) GetChannel(number uint8) (Channel, bool) {
	if !m.mu.TryRLock() {
		return Channel{}, false
	}
	defer m.mu.RUnlock()
	if int(number) >= len(m.channels) {
		return Channel{}, false
	}
	return m.channels[number], true
}

// Channels returns a snapshot of every channel in number order
func (m *ChannelManager) Channels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Channel, len(m.channels))
	copy(result, m.channels)
	return result
}

// AvailableChannels returns how many channels can still be allocated
func (m *ChannelManager) AvailableChannels() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels) - m.usedLocked()
}

// TotalChannels returns the number of channels managed
func (m *ChannelManager) TotalChannels() int {
	return len(m.channels)
}
