// Package telemetry turns raw transport bytes into DataReceived events. BLE
// notifications are decoded per characteristic; ANT broadcasts per the
// device type of the channel they arrive on. Dynamics samples are handed to
// synchronous callbacks in arrival order.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ProvidenceIT/ride-sensors/internal/ant"
	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/dynamics"
	"github.com/ProvidenceIT/ride-sensors/internal/events"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
)

// Cadence is derived from two consecutive cumulative crank readings
type Cadence struct {
	Rpm float64
}

func (Cadence) MeasurementKind() string { return "cadence" }

// DynamicsSample is one decoded power frame that carried dynamics fields
type DynamicsSample struct {
	DeviceID string
	Data     dynamics.CyclingDynamicsData
	At       time.Time
}

type Router struct {
	devices  *device.Manager
	logger   *log.Logger
	debug    bool
	now      func() time.Time
	dynamics *events.CallbackEvent[DynamicsSample]

	mu      sync.Mutex
	cadence map[string]*gatt.CrankCadence

	dropped atomic.Uint64
}

func NewRouter(logger *log.Logger, devices *device.Manager, debug bool) *Router {
	if logger == nil {
		panic("Router: logger cannot be nil")
	}
	if devices == nil {
		panic("Router: device manager cannot be nil")
	}
	return &Router{
		devices:  devices,
		logger:   logger,
		debug:    debug,
		now:      time.Now,
		dynamics: events.NewCallbackEvent[DynamicsSample](false),
		cadence:  make(map[string]*gatt.CrankCadence),
	}
}

// OnDynamics registers fn for every dynamics sample. fn runs on the
// transport's goroutine before the frame's DataReceived event is published.
func (r *Router) OnDynamics(fn func(DynamicsSample)) func() {
	return r.dynamics.Listen(fn)
}

// Dropped returns how many frames failed to decode
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// HandleGATT decodes one notification from a BLE device and publishes it.
// Returns false when the frame was dropped.
func (r *Router) HandleGATT(deviceID string, stream gatt.StreamID, buf []byte) bool {
	var (
		m          device.Measurement
		ok         bool
		deviceType device.DeviceType
		derived    func()
	)
	switch stream {
	case gatt.StreamHeartRate:
		deviceType = device.DeviceTypeHeartRate
		m, ok = decode(gatt.ParseHeartRateMeasurement, buf)
	case gatt.StreamCyclingPower:
		deviceType = device.DeviceTypePower
		var cp gatt.CyclingPowerMeasurement
		if cp, ok = gatt.ParseCyclingPowerMeasurement(buf); ok {
			m = cp
			if d, has := cp.Dynamics(); has {
				r.emitDynamics(deviceID, d)
			}
		}
	case gatt.StreamCSC:
		deviceType = device.DeviceTypeSpeedCadence
		var csc gatt.CSCMeasurement
		if csc, ok = gatt.ParseCSCMeasurement(buf); ok {
			m = csc
			if csc.HasCrankRevolutions {
				derived = func() {
					r.publishCadence(deviceID, device.DeviceTypeSpeedCadence, csc.CrankRevolutions, csc.LastCrankEventTime)
				}
			}
		}
	case gatt.StreamIndoorBikeData:
		deviceType = device.DeviceTypeFitnessEquipment
		m, ok = decode(gatt.ParseIndoorBikeData, buf)
	case gatt.StreamControlPoint:
		deviceType = device.DeviceTypeFitnessEquipment
		var resp gatt.ControlPointResponse
		if resp, ok = gatt.ParseControlPointResponse(buf); ok {
			m = resp
			if !resp.Succeeded() {
				r.logger.Printf("Router: %s rejected command: %s", deviceID, resp)
			}
		}
	case gatt.StreamSupportedPowerRange:
		deviceType = device.DeviceTypeFitnessEquipment
		m, ok = decode(gatt.ParseSupportedPowerRange, buf)
	}

	if !ok {
		r.drop(deviceID, string(stream), buf)
		return false
	}
	r.devices.PublishData(deviceID, deviceType, m)
	if derived != nil {
		derived()
	}
	return true
}

func decode[T device.Measurement](parse func([]byte) (T, bool), buf []byte) (device.Measurement, bool) {
	v, ok := parse(buf)
	if !ok {
		return nil, false
	}
	return v, true
}

// HandleANT routes one message read from a stick. A broadcast on a
// Searching channel that carries extended device data pairs the channel and
// registers the device. Returns false when the message was not a decodable
// data page.
func (r *Router) HandleANT(ctx context.Context, channels *ant.ChannelManager, msg ant.Message) bool {
	b, ok := ant.ParseBroadcast(msg)
	if !ok {
		return false
	}
	all := channels.Channels()
	if int(b.Channel) >= len(all) {
		r.drop(fmt.Sprintf("ant channel %d", b.Channel), "broadcast", msg.Payload)
		return false
	}
	ch := all[b.Channel]

	if ch.State == ant.ChannelSearching && b.HasDeviceID {
		if err := channels.MarkOpen(ch.Number, b.DeviceNumber, b.TransmissionType); err != nil {
			r.logger.Printf("Router: %v", err)
		} else {
			ch.State = ant.ChannelOpen
			ch.DeviceNumber = b.DeviceNumber
			ch.TransmissionType = b.TransmissionType
			r.pair(ctx, ch)
		}
	}
	if ch.State != ant.ChannelOpen {
		return false
	}

	deviceID := ch.DeviceID()
	if d, known := r.devices.GetDevice(deviceID); known && d.Status.State == device.StateDetected {
		// closed by the user; the channel stays paired until it is opened again
		return false
	}
	page, ok := ant.DecodeDataPage(ch.DeviceType, b.Data)
	if !ok {
		r.drop(deviceID, "page", b.Data[:])
		return false
	}

	switch p := page.(type) {
	case ant.PowerPage:
		if bal, has := p.Balance(); has {
			r.emitDynamics(deviceID, dynamics.CyclingDynamicsData{Balance: &bal})
		}
	case ant.TorqueEffectivenessPage:
		if d, has := p.Dynamics(); has {
			r.emitDynamics(deviceID, d)
		}
	}
	r.devices.PublishData(deviceID, ch.DeviceType, page)
	if sc, isSC := page.(ant.SpeedCadencePage); isSC {
		r.publishCadence(deviceID, ch.DeviceType, sc.CrankRevolutions, sc.CadenceEventTime)
	}
	return true
}

// pair registers the device a channel locked onto and opens it, unless the
// user closed it earlier
func (r *Router) pair(ctx context.Context, ch ant.Channel) {
	id := ch.DeviceID()
	prev, known := r.devices.GetDevice(id)
	name := fmt.Sprintf("%s %d", device.LookupDeviceType(ch.DeviceType).DisplayName, ch.DeviceNumber)
	d := r.devices.Discover(id, name, device.TransportANT, ch.DeviceType)
	if known && prev.Status.State == device.StateDetected {
		return
	}
	if err := r.devices.OpenDevice(ctx, d.ID); err != nil {
		r.logger.Printf("Router: Open %s failed: %v", d.ID, err)
	}
}

// DeviceLost records that a transport lost a device: Disconnected when err
// is nil, Error otherwise. Decode state for the device is dropped.
func (r *Router) DeviceLost(deviceID string, err error) {
	r.ResetDevice(deviceID)
	var markErr error
	if err == nil {
		markErr = r.devices.MarkDisconnected(deviceID)
	} else {
		markErr = r.devices.MarkError(deviceID, err.Error())
	}
	if markErr != nil {
		r.logger.Printf("Router: %v", markErr)
	}
}

func (r *Router) publishCadence(deviceID string, deviceType device.DeviceType, revs, eventTime uint16) {
	r.mu.Lock()
	c, ok := r.cadence[deviceID]
	if !ok {
		c = &gatt.CrankCadence{}
		r.cadence[deviceID] = c
	}
	r.mu.Unlock()

	if rpm, ok := c.Update(revs, eventTime); ok {
		r.devices.PublishData(deviceID, deviceType, Cadence{Rpm: rpm})
	}
}

// ResetDevice forgets per-device decode state, typically after a reconnect
func (r *Router) ResetDevice(deviceID string) {
	r.mu.Lock()
	delete(r.cadence, deviceID)
	r.mu.Unlock()
}

func (r *Router) emitDynamics(deviceID string, d dynamics.CyclingDynamicsData) {
	r.dynamics.Notify(DynamicsSample{DeviceID: deviceID, Data: d, At: r.now()})
}

func (r *Router) drop(source, kind string, buf []byte) {
	r.dropped.Add(1)
	if r.debug {
		r.logger.Printf("Router: Dropped %s frame from %s: % x", kind, source, buf)
	}
}
