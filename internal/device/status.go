package device

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrInvalidTransition = errors.New("invalid device state transition")
)

// State is the connection state of a generic (BLE, ANT+ or HID) device
type State int

const (
	StateDetected State = iota
	StateOpening
	StateOpen
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDetected:
		return "Detected"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateError:
		return "Error"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a State plus the reason when the State is StateError
type Status struct {
	State   State
	Message string
}

func (s Status) String() string {
	if s.State == StateError && s.Message != "" {
		return fmt.Sprintf("Error(%s)", s.Message)
	}
	return s.State.String()
}

// Transport names how a device is reached
type Transport string

const (
	TransportBLE       Transport = "ble"
	TransportANT       Transport = "ant"
	TransportHID       Transport = "hid"
	TransportSimulated Transport = "sim"
)

// Device is a snapshot of one managed device. The Manager owns the live
// record; callers only ever see copies.
type Device struct {
	ID        string
	Name      string
	Transport Transport
	Type      DeviceType
	Status    Status
	LastSeen  time.Time
}

// IsOpen reports whether the device is ready to deliver data
func (d Device) IsOpen() bool {
	return d.Status.State == StateOpen
}

// Measurement is any decoded frame carried by a DataReceived event
type Measurement interface {
	MeasurementKind() string
}

// EventKind enumerates device events
type EventKind int

const (
	EventDeviceConnected EventKind = iota
	EventDeviceDisconnected
	EventDeviceOpened
	EventDeviceClosed
	EventDataReceived
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDeviceConnected:
		return "DeviceConnected"
	case EventDeviceDisconnected:
		return "DeviceDisconnected"
	case EventDeviceOpened:
		return "DeviceOpened"
	case EventDeviceClosed:
		return "DeviceClosed"
	case EventDataReceived:
		return "DataReceived"
	case EventError:
		return "Error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is published by the Manager for every lifecycle transition and every
// decoded data frame
type Event struct {
	Kind       EventKind
	DeviceID   string
	DeviceType DeviceType
	Data       Measurement // EventDataReceived only
	Err        string      // EventError only
	At         time.Time
}
