// Package bt is the Bluetooth LE side of the sensor monitor. It scans for
// peripherals advertising a supported fitness service, registers them with
// the device manager and, as the device manager's BLE Opener, connects and
// forwards characteristic notifications to the telemetry router.
package bt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
	"github.com/ProvidenceIT/ride-sensors/internal/go_func_utils"
	"github.com/ProvidenceIT/ride-sensors/internal/telemetry"
)

// Verify Transport implements device.Opener
var _ device.Opener = (*Transport)(nil)

type Transport struct {
	adapter *bluetooth.Adapter
	devices *device.Manager
	router  *telemetry.Router
	logger  *log.Logger
	group   *go_func_utils.Group
	filter  map[string]struct{}

	mu          sync.RWMutex
	peripherals map[string]*peripheral // by device ID
	scanning    bool
	scanCancel  context.CancelFunc
}

func NewTransport(logger *log.Logger, adapter *bluetooth.Adapter, devices *device.Manager, router *telemetry.Router) *Transport {
	if logger == nil {
		panic("BLE: logger cannot be nil")
	}
	filter := make(map[string]struct{})
	for _, s := range gatt.GetUniqueServiceUUIDs() {
		filter[s] = struct{}{}
	}
	return &Transport{
		adapter:     adapter,
		devices:     devices,
		router:      router,
		logger:      logger,
		group:       go_func_utils.NewGroup(logger),
		filter:      filter,
		peripherals: make(map[string]*peripheral),
	}
}

// Enable powers the adapter and starts tracking connection drops
func (t *Transport) Enable() error {
	t.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		id := DeviceID(dev.Address.String())
		if connected {
			t.logger.Printf("BLE: Connected %s", id)
			return
		}
		p, ok := t.peripheral(id)
		if !ok || p.release() == nil {
			// closed on request, the device manager already knows
			return
		}
		t.logger.Printf("BLE: Lost %s", id)
		t.router.ResetDevice(id)
		if err := t.devices.MarkDisconnected(id); err != nil {
			t.logger.Printf("BLE: %v", err)
		}
	})
	return t.adapter.Enable()
}

// Scan looks for supported peripherals until ctx is done or timeout passes.
// A zero timeout scans until ctx is done or StopScan is called.
func (t *Transport) Scan(ctx context.Context, timeout time.Duration) {
	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		t.logger.Printf("BLE: A scan is already running")
		return
	}
	var scanCtx context.Context
	if timeout > 0 {
		scanCtx, t.scanCancel = context.WithTimeout(ctx, timeout)
	} else {
		scanCtx, t.scanCancel = context.WithCancel(ctx)
	}
	t.scanning = true
	t.mu.Unlock()

	t.logger.Printf("BLE: Starting scan (timeout %v)", timeout)
	t.group.Go("ble scan", func() {
		defer t.logger.Printf("BLE: Exiting scan loop")
		if err := t.adapter.Scan(t.onScanResult); err != nil {
			t.logger.Printf("BLE: Scan error: %v", err)
		}
	})
	t.group.Go("ble scan timeout", func() {
		<-scanCtx.Done()
		if err := t.StopScan(); err != nil {
			t.logger.Printf("BLE: Stop scan: %v", err)
		}
	})
}

func (t *Transport) StopScan() error {
	t.mu.Lock()
	if !t.scanning {
		t.mu.Unlock()
		return nil
	}
	t.scanning = false
	t.scanCancel()
	t.mu.Unlock()
	t.logger.Printf("BLE: Stopping scan")
	return t.adapter.StopScan()
}

func (t *Transport) IsScanning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scanning
}

func (t *Transport) onScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	var services []string
	for _, u := range result.ServiceUUIDs() {
		if _, ok := t.filter[u.String()]; ok {
			services = append(services, u.String())
		}
	}
	if len(services) == 0 {
		return
	}

	id := DeviceID(result.Address.String())
	t.mu.Lock()
	p, ok := t.peripherals[id]
	if !ok {
		p = newPeripheral(t.logger, result.Address)
		t.peripherals[id] = p
	}
	if name := result.LocalName(); name != "" {
		p.name = name
	}
	p.services = services
	name := p.name
	t.mu.Unlock()

	if !ok {
		t.logger.Printf("BLE: Found %s (%s) [RSSI: %d]", name, id, result.RSSI)
	}
	t.devices.Discover(id, name, device.TransportBLE, PrimaryType(services))
}

func (t *Transport) peripheral(id string) (*peripheral, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peripherals[id]
	return p, ok
}

// Open connects to a scanned peripheral and subscribes to its supported
// characteristics
func (t *Transport) Open(ctx context.Context, d device.Device) error {
	p, ok := t.peripheral(d.ID)
	if !ok {
		return fmt.Errorf("open %s: %w", d.ID, ErrUnknownPeripheral)
	}
	t.logger.Printf("BLE: Connecting to %s", d.ID)
	conn, err := t.adapter.Connect(p.address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", d.ID, err)
	}
	if err := ctx.Err(); err != nil {
		t.disconnect(d.ID, &conn)
		return err
	}

	t.router.ResetDevice(d.ID)
	err = p.subscribe(&conn, func(stream gatt.StreamID, buf []byte) {
		t.router.HandleGATT(d.ID, stream, buf)
	})
	if err != nil {
		p.release()
		t.disconnect(d.ID, &conn)
		return err
	}
	return nil
}

// Close drops the connection. The disconnect callback that follows is
// ignored because the peripheral no longer holds a connection.
func (t *Transport) Close(d device.Device) error {
	p, ok := t.peripheral(d.ID)
	if !ok {
		return fmt.Errorf("close %s: %w", d.ID, ErrUnknownPeripheral)
	}
	if conn := p.release(); conn != nil {
		return conn.Disconnect()
	}
	return nil
}

func (t *Transport) disconnect(id string, conn *bluetooth.Device) {
	if err := conn.Disconnect(); err != nil {
		t.logger.Printf("BLE: Disconnect %s: %v", id, err)
	}
}

// SetTargetPower switches an FTMS trainer to ERG mode at watts, clamped to
// the trainer's supported power range when it published one
func (t *Transport) SetTargetPower(deviceID string, watts float64) error {
	p, ok := t.peripheral(deviceID)
	if !ok {
		return fmt.Errorf("target power for %s: %w", deviceID, ErrUnknownPeripheral)
	}
	return p.writeControl(gatt.BuildSetTargetPower(p.clampPower(watts)))
}

// StartTraining starts or resumes an FTMS trainer
func (t *Transport) StartTraining(deviceID string) error {
	p, ok := t.peripheral(deviceID)
	if !ok {
		return fmt.Errorf("start training on %s: %w", deviceID, ErrUnknownPeripheral)
	}
	return p.writeControl(gatt.BuildStartTraining())
}

// StopTraining stops an FTMS trainer, or pauses it when pause is set
func (t *Transport) StopTraining(deviceID string, pause bool) error {
	p, ok := t.peripheral(deviceID)
	if !ok {
		return fmt.Errorf("stop training on %s: %w", deviceID, ErrUnknownPeripheral)
	}
	return p.writeControl(gatt.BuildStopTraining(pause))
}

// ResetTrainer resets an FTMS trainer. The trainer drops control, so the
// next command requests it again.
func (t *Transport) ResetTrainer(deviceID string) error {
	p, ok := t.peripheral(deviceID)
	if !ok {
		return fmt.Errorf("reset %s: %w", deviceID, ErrUnknownPeripheral)
	}
	if err := p.writeControl(gatt.BuildReset()); err != nil {
		return err
	}
	p.releaseControl()
	return nil
}

// SetSimulation switches an FTMS trainer to simulation mode at gradePercent
// with still air and typical road coefficients
func (t *Transport) SetSimulation(deviceID string, gradePercent float64) error {
	p, ok := t.peripheral(deviceID)
	if !ok {
		return fmt.Errorf("simulation for %s: %w", deviceID, ErrUnknownPeripheral)
	}
	return p.writeControl(simulationCommand(gradePercent))
}

// SetTargetResistance holds an FTMS trainer at a fixed resistance level
func (t *Transport) SetTargetResistance(deviceID string, level float64) error {
	p, ok := t.peripheral(deviceID)
	if !ok {
		return fmt.Errorf("target resistance for %s: %w", deviceID, ErrUnknownPeripheral)
	}
	return p.writeControl(resistanceCommand(level))
}

// Shutdown stops scanning, disconnects every peripheral and waits for the
// scan goroutines
func (t *Transport) Shutdown() {
	t.logger.Println("BLE: Shutting down")
	if err := t.StopScan(); err != nil {
		t.logger.Printf("BLE: Stop scan: %v", err)
	}
	t.mu.RLock()
	peripherals := make([]*peripheral, 0, len(t.peripherals))
	for _, p := range t.peripherals {
		peripherals = append(peripherals, p)
	}
	t.mu.RUnlock()

	for _, p := range peripherals {
		if conn := p.release(); conn != nil {
			t.disconnect(p.id(), conn)
		}
	}
	t.group.Wait()
	t.logger.Println("BLE: Shutdown complete")
}
