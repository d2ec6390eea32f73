package bt

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
)

var (
	ErrNotConnected      = errors.New("peripheral not connected")
	ErrNoStreams         = errors.New("peripheral exposes no supported characteristic")
	ErrNoControlPoint    = errors.New("peripheral has no FTMS control point")
	ErrUnknownPeripheral = errors.New("unknown peripheral")
)

// typePriority decides which type a multi-service peripheral is listed as.
// A trainer usually also advertises power and cadence.
var typePriority = []device.DeviceType{
	device.DeviceTypeFitnessEquipment,
	device.DeviceTypePower,
	device.DeviceTypeSpeedCadence,
	device.DeviceTypeHeartRate,
}

// DeviceID is how BLE peripherals are keyed in the device manager
func DeviceID(address string) string {
	return "ble:" + address
}

// PrimaryType returns the device type a peripheral advertising services is
// registered as
func PrimaryType(services []string) device.DeviceType {
	for _, t := range typePriority {
		want := device.LookupDeviceType(t).ServiceUUID
		for _, s := range services {
			if s == want {
				return t
			}
		}
	}
	return device.DeviceTypeUnknown
}

// peripheral is one scanned BLE device and, while open, its connection and
// characteristic cache
type peripheral struct {
	address  bluetooth.Address
	name     string
	services []string

	mu         sync.Mutex // serializes GATT operations
	conn       *bluetooth.Device
	chars      map[gatt.StreamID]*bluetooth.DeviceCharacteristic
	powerRange *gatt.SupportedPowerRange
	inControl  bool
	logger     *log.Logger
}

func newPeripheral(logger *log.Logger, address bluetooth.Address) *peripheral {
	return &peripheral{
		address: address,
		name:    "Unknown",
		chars:   make(map[gatt.StreamID]*bluetooth.DeviceCharacteristic),
		logger:  logger,
	}
}

func (p *peripheral) id() string {
	return DeviceID(p.address.String())
}

// subscribe discovers every service once, then enables notifications on each
// supported characteristic found. Supported power range is read instead.
func (p *peripheral) subscribe(conn *bluetooth.Device, handle func(gatt.StreamID, []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.inControl = false
	p.powerRange = nil
	clear(p.chars)

	services, err := conn.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("discover services on %s: %w", p.id(), err)
	}
	for i := range services {
		svc := &services[i]
		streams := gatt.GetStreamsByServiceUUID(svc.UUID().String())
		if len(streams) == 0 {
			continue
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			p.logger.Printf("BTDevice: %s: discover characteristics of %s: %v", p.id(), svc.UUID(), err)
			continue
		}
		for j := range chars {
			char := &chars[j]
			for _, s := range streams {
				if char.UUID().String() == s.CharacteristicUUID {
					p.chars[s.ID] = char
				}
			}
		}
	}

	enabled := 0
	for id, char := range p.chars {
		stream, _ := gatt.GetStreamByID(id)
		if !stream.Notify {
			continue
		}
		if err := char.EnableNotifications(func(buf []byte) { handle(id, buf) }); err != nil {
			p.logger.Printf("BTDevice: %s: enable notifications for %s: %v", p.id(), stream.DisplayName, err)
			continue
		}
		p.logger.Printf("BTDevice: %s: notifications enabled for %s", p.id(), stream.DisplayName)
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("%s: %w", p.id(), ErrNoStreams)
	}

	if char, ok := p.chars[gatt.StreamSupportedPowerRange]; ok {
		buf := make([]byte, 16)
		if n, err := char.Read(buf); err != nil {
			p.logger.Printf("BTDevice: %s: read power range: %v", p.id(), err)
		} else {
			handle(gatt.StreamSupportedPowerRange, buf[:n])
			if r, ok := gatt.ParseSupportedPowerRange(buf[:n]); ok {
				p.powerRange = &r
			}
		}
	}
	return nil
}

// release forgets the connection and returns it so the caller can
// disconnect outside the lock
func (p *peripheral) release() *bluetooth.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn := p.conn
	p.conn = nil
	p.inControl = false
	clear(p.chars)
	return conn
}

// writeControl sends FTMS control point commands, requesting control first
// if this connection has not done so yet
func (p *peripheral) writeControl(cmds ...[]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("%s: %w", p.id(), ErrNotConnected)
	}
	char, ok := p.chars[gatt.StreamControlPoint]
	if !ok {
		return fmt.Errorf("%s: %w", p.id(), ErrNoControlPoint)
	}
	if !p.inControl {
		cmds = append([][]byte{gatt.BuildRequestControl()}, cmds...)
	}
	for _, cmd := range cmds {
		if _, err := char.Write(cmd); err != nil {
			return fmt.Errorf("write control point on %s: %w", p.id(), err)
		}
	}
	p.inControl = true
	return nil
}

func (p *peripheral) releaseControl() {
	p.mu.Lock()
	p.inControl = false
	p.mu.Unlock()
}

const (
	simulationCrr = 0.004
	simulationCw  = 0.51 // kg/m
)

func simulationCommand(gradePercent float64) []byte {
	return gatt.BuildSetIndoorBikeSimulation(0, gradePercent, simulationCrr, simulationCw)
}

// resistanceCommand encodes level, 0..100, in the control point's 0.1 units
func resistanceCommand(level float64) []byte {
	level = min(max(level, 0), 100)
	return gatt.BuildSetTargetResistance(int16(math.Round(level * 10)))
}

func (p *peripheral) clampPower(watts float64) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.powerRange != nil {
		return p.powerRange.Clamp(int(watts))
	}
	switch {
	case watts < 0:
		return 0
	case watts > 0xFFFF:
		return 0xFFFF
	}
	return uint16(watts)
}
