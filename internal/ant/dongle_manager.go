package ant

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ProvidenceIT/ride-sensors/internal/events"
)

var (
	ErrDongleNotFound     = errors.New("ANT dongle not found")
	ErrInvalidDongleState = errors.New("invalid ANT dongle state")
)

// DongleState is the lifecycle state of a USB stick
type DongleState int

const (
	DongleDetected DongleState = iota
	DongleInitializing
	DongleReady
	DongleError
	DongleDisconnected
)

func (s DongleState) String() string {
	switch s {
	case DongleDetected:
		return "Detected"
	case DongleInitializing:
		return "Initializing"
	case DongleReady:
		return "Ready"
	case DongleError:
		return "Error"
	case DongleDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("DongleState(%d)", int(s))
	}
}

// Dongle is a snapshot of one ANT USB stick
type Dongle struct {
	ID            string
	VendorID      uint16
	ProductID     uint16
	Bus           int
	Address       int
	State         DongleState
	ErrorMessage  string
	TotalChannels int
	UsedChannels  int
}

// AvailableChannels is TotalChannels - UsedChannels
func (d Dongle) AvailableChannels() int {
	return d.TotalChannels - d.UsedChannels
}

// DongleManager tracks every ANT stick seen on the USB bus
type DongleManager struct {
	mu      sync.RWMutex
	dongles map[string]*Dongle
	events  *events.ChannelEvent[Event]
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
}

func NewDongleManager(logger *log.Logger) *DongleManager {
	if logger == nil {
		panic("DongleManager: logger cannot be nil")
	}
	return &DongleManager{
		dongles: make(map[string]*Dongle),
		events:  events.NewChannelEvent[Event](false),
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (m *DongleManager) Subscribe(capacity int) (<-chan Event, func()) {
	return m.events.Subscribe(capacity)
}

// Listen registers a caller owned channel, see events.ChannelEvent.Listen
func (m *DongleManager) Listen(ch chan<- Event) func() {
	return m.events.Listen(ch)
}

func (m *DongleManager) Close() {
	m.events.Close()
}

// Detect registers a stick found by USB enumeration. A stick that reappears
// at the same bus address after being Disconnected returns to Detected under
// its old ID; a stick already tracked there is returned unchanged.
func (m *DongleManager) Detect(info USBDeviceInfo) Dongle {
	m.mu.Lock()
	for _, d := range m.dongles {
		if d.Bus != info.Bus || d.Address != info.Address || d.VendorID != info.VendorID || d.ProductID != info.ProductID {
			continue
		}
		if d.State != DongleDisconnected {
			snapshot := *d
			m.mu.Unlock()
			return snapshot
		}
		d.State = DongleDetected
		d.ErrorMessage = ""
		d.UsedChannels = 0
		snapshot := *d
		m.mu.Unlock()
		m.logger.Printf("DongleManager: Rediscovered %s at %d:%d", snapshot.ID, snapshot.Bus, snapshot.Address)
		m.emit(EventDongleDetected, snapshot)
		return snapshot
	}

	d := &Dongle{
		ID:        m.newID(),
		VendorID:  info.VendorID,
		ProductID: info.ProductID,
		Bus:       info.Bus,
		Address:   info.Address,
		State:     DongleDetected,
	}
	m.dongles[d.ID] = d
	snapshot := *d
	m.mu.Unlock()

	m.logger.Printf("DongleManager: Detected %04x:%04x at %d:%d as %s", info.VendorID, info.ProductID, info.Bus, info.Address, snapshot.ID)
	m.emit(EventDongleDetected, snapshot)
	return snapshot
}

// BeginInitialize moves a Detected (or errored) dongle to Initializing
func (m *DongleManager) BeginInitialize(id string) error {
	return m.transition(id, EventDongleInitializing, func(d *Dongle) error {
		if d.State != DongleDetected && d.State != DongleError {
			return fmt.Errorf("initialize dongle %s in state %s: %w", id, d.State, ErrInvalidDongleState)
		}
		d.State = DongleInitializing
		d.ErrorMessage = ""
		return nil
	})
}

// MarkReady completes initialization with the channel count the stick
// reported
func (m *DongleManager) MarkReady(id string, totalChannels int) error {
	return m.transition(id, EventDongleReady, func(d *Dongle) error {
		if d.State != DongleInitializing {
			return fmt.Errorf("ready dongle %s in state %s: %w", id, d.State, ErrInvalidDongleState)
		}
		if totalChannels < 0 {
			return fmt.Errorf("ready dongle %s with %d channels: %w", id, totalChannels, ErrInvalidDongleState)
		}
		d.State = DongleReady
		d.TotalChannels = totalChannels
		if d.UsedChannels > totalChannels {
			d.UsedChannels = totalChannels
		}
		return nil
	})
}

// MarkError records a USB failure from any state
func (m *DongleManager) MarkError(id, reason string) error {
	return m.transition(id, EventDongleError, func(d *Dongle) error {
		d.State = DongleError
		d.ErrorMessage = reason
		return nil
	})
}

// Disconnect records that the stick was unplugged. Its channels are gone
// with it.
func (m *DongleManager) Disconnect(id string) error {
	return m.transition(id, EventDongleDisconnected, func(d *Dongle) error {
		d.State = DongleDisconnected
		d.UsedChannels = 0
		return nil
	})
}

// SetUsedChannels is called by the ChannelManager that owns this dongle's
// channels. The count is clamped to 0..TotalChannels. No event is emitted.
func (m *DongleManager) SetUsedChannels(id string, used int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dongles[id]
	if !ok {
		return fmt.Errorf("dongle %s: %w", id, ErrDongleNotFound)
	}
	if used < 0 {
		used = 0
	}
	if used > d.TotalChannels {
		used = d.TotalChannels
	}
	d.UsedChannels = used
	return nil
}

func (m *DongleManager) transition(id string, kind EventKind, apply func(d *Dongle) error) error {
	m.mu.Lock()
	d, ok := m.dongles[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("dongle %s: %w", id, ErrDongleNotFound)
	}
	if err := apply(d); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := *d
	m.mu.Unlock()

	m.logger.Printf("DongleManager: Dongle %s -> %s", id, snapshot.State)
	m.emit(kind, snapshot)
	return nil
}

func (m *DongleManager) emit(kind EventKind, d Dongle) {
	m.events.Notify(Event{Kind: kind, DongleID: d.ID, Err: d.ErrorMessage, At: m.now()})
}

// GetDongle returns a snapshot of id. Returns false when unknown or when
// the lock is contended.
func (m *DongleManager) GetDongle(id string) (Dongle, bool) {
	if !m.mu.TryRLock() {
		return Dongle{}, false
	}
	defer m.mu.RUnlock()
	d, ok := m.dongles[id]
	if !ok {
		return Dongle{}, false
	}
	return *d, true
}

// AvailableChannels returns TotalChannels - UsedChannels for id, 0 when
// unknown
func (m *DongleManager) AvailableChannels(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dongles[id]
	if !ok {
		return 0
	}
	return d.AvailableChannels()
}

// Dongles returns a snapshot of every dongle ordered by bus address
func (m *DongleManager) Dongles() []Dongle {
	m.mu.RLock()
	result := make([]Dongle, 0, len(m.dongles))
	for _, d := range m.dongles {
		result = append(result, *d)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Bus != result[j].Bus {
			return result[i].Bus < result[j].Bus
		}
		return result[i].Address < result[j].Address
	})
	return result
}
