package device

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ProvidenceIT/ride-sensors/internal/events"
)

// Opener performs the transport handshake for a device. OpenDevice calls Open
// between the Opening and Open states; CloseDevice calls Close when leaving
// Open.
type Opener interface {
	Open(ctx context.Context, d Device) error
	Close(d Device) error
}

// Manager owns every known device and its connection state.
//
// Queries (IsOpen, GetDevice) are best effort: when a writer holds the lock
// they return the conservative default instead of blocking, so a render loop
// never stalls behind a transition.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*Device
	opener  Opener
	events  *events.ChannelEvent[Event]
	logger  *log.Logger
	now     func() time.Time
}

// NewManager creates a Manager. opener may be nil, in which case opening is
// a pure state transition.
func NewManager(logger *log.Logger, opener Opener) *Manager {
	if logger == nil {
		panic("DeviceManager: logger cannot be nil")
	}
	return &Manager{
		devices: make(map[string]*Device),
		opener:  opener,
		events:  events.NewChannelEvent[Event](false),
		logger:  logger,
		now:     time.Now,
	}
}

// SetOpener replaces the transport handshake. Used when the transport is
// constructed after the manager.
func (m *Manager) SetOpener(opener Opener) {
	m.mu.Lock()
	m.opener = opener
	m.mu.Unlock()
}

// Subscribe returns a bounded event stream. A subscriber that falls behind
// loses its oldest events.
func (m *Manager) Subscribe(capacity int) (<-chan Event, func()) {
	return m.events.Subscribe(capacity)
}

// Listen registers a caller owned channel, see events.ChannelEvent.Listen
func (m *Manager) Listen(ch chan<- Event) func() {
	return m.events.Listen(ch)
}

// Close closes every subscription channel
func (m *Manager) Close() {
	m.events.Close()
}

func (m *Manager) emit(kind EventKind, d Device, errMsg string) {
	m.events.Notify(Event{
		Kind:       kind,
		DeviceID:   d.ID,
		DeviceType: d.Type,
		Err:        errMsg,
		At:         m.now(),
	})
}

// Discover registers a newly seen device, or brings a Disconnected one back
// to Detected. Both emit DeviceConnected. Seeing an already known device
// only refreshes its name and LastSeen.
func (m *Manager) Discover(id, name string, transport Transport, deviceType DeviceType) Device {
	m.mu.Lock()
	d, ok := m.devices[id]
	emit := false
	if !ok {
		d = &Device{ID: id, Transport: transport, Type: deviceType, Status: Status{State: StateDetected}}
		m.devices[id] = d
		emit = true
	} else if d.Status.State == StateDisconnected {
		d.Status = Status{State: StateDetected}
		emit = true
	}
	if name != "" {
		d.Name = name
	}
	if deviceType != DeviceTypeUnknown {
		d.Type = deviceType
	}
	d.LastSeen = m.now()
	snapshot := *d
	m.mu.Unlock()

	if emit {
		m.logger.Printf("DeviceManager: Detected %s %s (%s)", snapshot.Type, snapshot.ID, snapshot.Name)
		m.emit(EventDeviceConnected, snapshot, "")
	}
	return snapshot
}

// OpenDevice moves a Detected (or Error) device through Opening to Open,
// running the Opener handshake in between without holding the lock. Opening
// an Open device is a no-op.
func (m *Manager) OpenDevice(ctx context.Context, id string) error {
	m.mu.Lock()
	d, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("open %s: %w", id, ErrDeviceNotFound)
	}
	switch d.Status.State {
	case StateOpen:
		m.mu.Unlock()
		return nil
	case StateOpening, StateDisconnected:
		state := d.Status.State
		m.mu.Unlock()
		return fmt.Errorf("open %s from %s: %w", id, state, ErrInvalidTransition)
	}
	d.Status = Status{State: StateOpening}
	opener := m.opener
	snapshot := *d
	m.mu.Unlock()

	m.logger.Printf("DeviceManager: Opening %s", id)
	if opener != nil {
		if err := opener.Open(ctx, snapshot); err != nil {
			m.logger.Printf("DeviceManager: Open %s failed: %v", id, err)
			m.fail(id, err.Error(), StateOpening)
			return fmt.Errorf("open %s: %w", id, err)
		}
	}

	m.mu.Lock()
	if d.Status.State != StateOpening {
		state := d.Status.State
		m.mu.Unlock()
		return fmt.Errorf("open %s: device moved to %s during handshake: %w", id, state, ErrInvalidTransition)
	}
	d.Status = Status{State: StateOpen}
	snapshot = *d
	m.mu.Unlock()

	m.logger.Printf("DeviceManager: Opened %s", id)
	m.emit(EventDeviceOpened, snapshot, "")
	return nil
}

// CloseDevice returns a known device to Detected from any state and emits
// DeviceClosed. Transport close errors are logged, not returned.
func (m *Manager) CloseDevice(id string) error {
	m.mu.Lock()
	d, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("close %s: %w", id, ErrDeviceNotFound)
	}
	wasOpen := d.Status.State == StateOpen || d.Status.State == StateOpening
	d.Status = Status{State: StateDetected}
	opener := m.opener
	snapshot := *d
	m.mu.Unlock()

	if wasOpen && opener != nil {
		if err := opener.Close(snapshot); err != nil {
			m.logger.Printf("DeviceManager: Close %s: %v", id, err)
		}
	}
	m.logger.Printf("DeviceManager: Closed %s", id)
	m.emit(EventDeviceClosed, snapshot, "")
	return nil
}

// MarkError records a transport failure. A Disconnected device stays
// Disconnected.
func (m *Manager) MarkError(id, reason string) error {
	m.mu.Lock()
	d, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mark error %s: %w", id, ErrDeviceNotFound)
	}
	if d.Status.State == StateDisconnected {
		m.mu.Unlock()
		return fmt.Errorf("mark error %s from %s: %w", id, StateDisconnected, ErrInvalidTransition)
	}
	m.mu.Unlock()
	m.fail(id, reason)
	return nil
}

// fail moves id to Error and emits an Error event. When onlyFrom is given the
// transition only happens if the device is still in one of those states.
func (m *Manager) fail(id, reason string, onlyFrom ...State) {
	m.mu.Lock()
	d, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if len(onlyFrom) > 0 {
		allowed := false
		for _, s := range onlyFrom {
			if d.Status.State == s {
				allowed = true
			}
		}
		if !allowed {
			m.mu.Unlock()
			return
		}
	}
	d.Status = Status{State: StateError, Message: reason}
	snapshot := *d
	m.mu.Unlock()

	m.emit(EventError, snapshot, reason)
}

// MarkDisconnected records that the transport lost the device
func (m *Manager) MarkDisconnected(id string) error {
	m.mu.Lock()
	d, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("disconnect %s: %w", id, ErrDeviceNotFound)
	}
	if d.Status.State == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	d.Status = Status{State: StateDisconnected}
	snapshot := *d
	m.mu.Unlock()

	m.logger.Printf("DeviceManager: Disconnected %s", id)
	m.emit(EventDeviceDisconnected, snapshot, "")
	return nil
}

// PublishData emits a DataReceived event. The device's state is not checked:
// consumers drop frames for devices they consider closed.
func (m *Manager) PublishData(id string, deviceType DeviceType, data Measurement) {
	m.events.Notify(Event{
		Kind:       EventDataReceived,
		DeviceID:   id,
		DeviceType: deviceType,
		Data:       data,
		At:         m.now(),
	})
}

// IsOpen reports whether id is Open. Returns false when the lock is
// contended.
func (m *Manager) IsOpen(id string) bool {
	if !m.mu.TryRLock() {
		return false
	}
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return ok && d.Status.State == StateOpen
}

// GetDevice returns a snapshot of id. Returns false when unknown or when the
// lock is contended.
func (m *Manager) GetDevice(id string) (Device, bool) {
	if !m.mu.TryRLock() {
		return Device{}, false
	}
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Devices returns a snapshot of every device ordered by ID
func (m *Manager) Devices() []Device {
	m.mu.RLock()
	result := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		result = append(result, *d)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
