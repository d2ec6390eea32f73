// Package simulator is a set of virtual sensors for demo mode and tests. It
// produces well formed BLE notifications and ANT+ broadcasts and feeds them
// through the same telemetry router real transports use.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ProvidenceIT/ride-sensors/internal/ant"
	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
	"github.com/ProvidenceIT/ride-sensors/internal/telemetry"
)

// Virtual BLE sensors
const (
	HeartRateID = "sim:hr"
	PowerID     = "sim:power"
	CadenceID   = "sim:cadence"
	TrainerID   = "sim:trainer"
)

// ANTDeviceNumber is the device number the virtual ANT+ power meter pairs
// with
const ANTDeviceNumber uint16 = 4711

const DefaultInterval = time.Second

const defaultTargetWatts = 150.0

var ErrNotTrainer = errors.New("not a simulated trainer")

type trainerMode int

const (
	modeERG trainerMode = iota
	modeSimulation
	modeResistance
)

var _ device.Opener = (*Simulator)(nil)

type Simulator struct {
	devices  *device.Manager
	router   *telemetry.Router
	logger   *log.Logger
	interval time.Duration

	// virtual stick with one channel for the ANT+ power meter
	channels   *ant.ChannelManager
	antChannel uint8

	mu          sync.Mutex
	rng         *rand.Rand
	open        map[string]bool
	targetWatts float64
	mode        trainerMode
	grade       float64
	resistance  float64
	paused      bool
	power       float64
	heartRate   float64
	cadence     float64
	crankRevs   float64
	crankTime   float64 // seconds
	eventCount  uint8
	paired      bool
}

// New creates a simulator. The same seed always produces the same frames.
func New(logger *log.Logger, devices *device.Manager, router *telemetry.Router, seed uint64) *Simulator {
	if logger == nil {
		panic("Simulator: logger cannot be nil")
	}
	return &Simulator{
		devices:     devices,
		router:      router,
		logger:      logger,
		interval:    DefaultInterval,
		channels:    ant.NewChannelManager(logger, 1),
		rng:         rand.New(rand.NewPCG(seed, seed)),
		open:        make(map[string]bool),
		targetWatts: defaultTargetWatts,
		power:       100,
		heartRate:   70,
		cadence:     85,
	}
}

// Register makes the virtual BLE sensors known to the device manager and
// starts the virtual ANT channel searching
func (s *Simulator) Register() error {
	s.devices.Discover(HeartRateID, "Sim HRM", device.TransportSimulated, device.DeviceTypeHeartRate)
	s.devices.Discover(PowerID, "Sim Power", device.TransportSimulated, device.DeviceTypePower)
	s.devices.Discover(CadenceID, "Sim Cadence", device.TransportSimulated, device.DeviceTypeSpeedCadence)
	s.devices.Discover(TrainerID, "Sim Trainer", device.TransportSimulated, device.DeviceTypeFitnessEquipment)

	n, err := s.channels.AllocateChannel(ant.ChannelConfig{DeviceType: device.DeviceTypePower})
	if err != nil {
		return err
	}
	if err := s.channels.StartSearch(n); err != nil {
		return err
	}
	s.antChannel = n
	return nil
}

func (s *Simulator) Open(_ context.Context, d device.Device) error {
	s.mu.Lock()
	s.open[d.ID] = true
	s.mu.Unlock()
	s.logger.Printf("Simulator: Streaming %s", d.ID)
	return nil
}

func (s *Simulator) Close(d device.Device) error {
	s.mu.Lock()
	delete(s.open, d.ID)
	s.mu.Unlock()
	s.logger.Printf("Simulator: Stopped %s", d.ID)
	return nil
}

// SetTargetPower sets the ERG target the virtual trainer converges to and
// answers with a control point success response
func (s *Simulator) SetTargetPower(deviceID string, watts float64) error {
	if deviceID != TrainerID {
		return fmt.Errorf("target power for %s: %w", deviceID, ErrNotTrainer)
	}
	s.mu.Lock()
	s.mode = modeERG
	s.targetWatts = math.Max(0, watts)
	s.mu.Unlock()
	s.logger.Printf("Simulator: Target power %.0f W", watts)
	s.respond(gatt.OpCodeSetTargetPower)
	return nil
}

// SetSimulation makes the rider hold a steady effort against gradePercent
func (s *Simulator) SetSimulation(deviceID string, gradePercent float64) error {
	if deviceID != TrainerID {
		return fmt.Errorf("simulation for %s: %w", deviceID, ErrNotTrainer)
	}
	s.mu.Lock()
	s.mode = modeSimulation
	s.grade = gradePercent
	s.mu.Unlock()
	s.logger.Printf("Simulator: Grade %.1f%%", gradePercent)
	s.respond(gatt.OpCodeSetIndoorBikeSimulation)
	return nil
}

func (s *Simulator) SetTargetResistance(deviceID string, level float64) error {
	if deviceID != TrainerID {
		return fmt.Errorf("target resistance for %s: %w", deviceID, ErrNotTrainer)
	}
	s.mu.Lock()
	s.mode = modeResistance
	s.resistance = clamp(level, 0, 100)
	s.mu.Unlock()
	s.logger.Printf("Simulator: Resistance %.1f", level)
	s.respond(gatt.OpCodeSetTargetResistance)
	return nil
}

func (s *Simulator) StartTraining(deviceID string) error {
	if deviceID != TrainerID {
		return fmt.Errorf("start training on %s: %w", deviceID, ErrNotTrainer)
	}
	s.setPaused(false)
	s.respond(gatt.OpCodeStartOrResume)
	return nil
}

// StopTraining pauses the rider. Stop and pause differ only in the
// response's request code.
func (s *Simulator) StopTraining(deviceID string, pause bool) error {
	if deviceID != TrainerID {
		return fmt.Errorf("stop training on %s: %w", deviceID, ErrNotTrainer)
	}
	s.setPaused(true)
	s.respond(gatt.OpCodeStopOrPause)
	return nil
}

// ResetTrainer returns to ERG mode at the default target, running
func (s *Simulator) ResetTrainer(deviceID string) error {
	if deviceID != TrainerID {
		return fmt.Errorf("reset %s: %w", deviceID, ErrNotTrainer)
	}
	s.mu.Lock()
	s.mode = modeERG
	s.targetWatts = defaultTargetWatts
	s.grade = 0
	s.resistance = 0
	s.paused = false
	s.mu.Unlock()
	s.logger.Println("Simulator: Trainer reset")
	s.respond(gatt.OpCodeReset)
	return nil
}

func (s *Simulator) setPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	s.logger.Printf("Simulator: Paused %t", paused)
}

// respond answers a control point write with a success indication
func (s *Simulator) respond(op byte) {
	s.router.HandleGATT(TrainerID, gatt.StreamControlPoint, []byte{gatt.OpCodeResponseCode, op, byte(gatt.ResultSuccess)})
}

// effortWatts is the power the rider converges to in the current mode
func (s *Simulator) effortWatts() float64 {
	if s.paused {
		return 0
	}
	switch s.mode {
	case modeSimulation:
		return math.Max(0, defaultTargetWatts+s.grade*20)
	case modeResistance:
		return 50 + s.resistance*3
	default:
		return s.targetWatts
	}
}

// Run steps the simulation every interval until ctx is done
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Println("Simulator: Started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Simulator: Stopped")
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

type frame struct {
	id     string
	stream gatt.StreamID
	buf    []byte
}

// Step advances the rider by one interval and emits a frame from every open
// sensor plus the ANT+ power meter broadcasts
func (s *Simulator) Step() {
	s.mu.Lock()
	dt := s.interval.Seconds()
	s.power += (s.effortWatts()-s.power)*0.3 + s.noise(5)
	s.heartRate += (100+s.power/4-s.heartRate)*0.1 + s.noise(1)
	s.heartRate = clamp(s.heartRate, 40, 220)
	s.cadence = clamp(s.cadence+s.noise(2), 70, 110)
	s.crankRevs += s.cadence / 60 * dt
	s.crankTime += dt
	s.eventCount++

	balance := clamp(50+s.noise(3), 40, 60)
	var frames []frame
	if s.open[HeartRateID] {
		frames = append(frames, frame{HeartRateID, gatt.StreamHeartRate, s.heartRateFrame()})
	}
	if s.open[PowerID] {
		frames = append(frames, frame{PowerID, gatt.StreamCyclingPower, s.cyclingPowerFrame(balance)})
	}
	if s.open[CadenceID] {
		frames = append(frames, frame{CadenceID, gatt.StreamCSC, s.cscFrame()})
	}
	if s.open[TrainerID] {
		frames = append(frames, frame{TrainerID, gatt.StreamIndoorBikeData, s.indoorBikeFrame()})
	}
	pages := [][8]byte{s.powerPage(balance), s.torqueEffectivenessPage()}
	paired := s.paired
	s.paired = true
	s.mu.Unlock()

	for _, f := range frames {
		s.router.HandleGATT(f.id, f.stream, f.buf)
	}
	for i, page := range pages {
		payload := append([]byte{s.antChannel}, page[:]...)
		if !paired && i == 0 {
			payload = append(payload, 0x80)
			payload = binary.LittleEndian.AppendUint16(payload, ANTDeviceNumber)
			payload = append(payload, device.DeviceTypePower.ANTDeviceType(), 0x05)
		}
		s.router.HandleANT(context.Background(), s.channels, ant.Message{ID: ant.MsgIDBroadcastData, Payload: payload})
	}
}

func (s *Simulator) noise(amplitude float64) float64 {
	return (s.rng.Float64()*2 - 1) * amplitude
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func (s *Simulator) crankData() (revs, eventTime uint16) {
	return uint16(uint64(s.crankRevs)), uint16(uint64(s.crankTime * 1024))
}

// contact supported and detected, u8 heart rate
func (s *Simulator) heartRateFrame() []byte {
	return []byte{0x06, uint8(math.Round(s.heartRate))}
}

// balance (left reference), crank data, extreme angles and dead spots
func (s *Simulator) cyclingPowerFrame(balance float64) []byte {
	const flags = 1<<0 | 1<<1 | 1<<5 | 1<<8 | 1<<9 | 1<<10
	buf := binary.LittleEndian.AppendUint16(nil, flags)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(math.Round(s.power))))
	buf = append(buf, uint8(math.Round(balance*2)))
	revs, eventTime := s.crankData()
	buf = binary.LittleEndian.AppendUint16(buf, revs)
	buf = binary.LittleEndian.AppendUint16(buf, eventTime)

	top := uint16(clamp(350+s.noise(5), 0, 359))
	bottom := uint16(clamp(190+s.noise(5), 0, 359))
	peak := uint16(clamp(100+s.noise(10), 0, 359))
	trough := uint16(clamp(280+s.noise(10), 0, 359))
	packed := uint32(peak) | uint32(trough)<<12
	buf = append(buf, byte(packed), byte(packed>>8), byte(packed>>16))
	buf = binary.LittleEndian.AppendUint16(buf, top)
	return binary.LittleEndian.AppendUint16(buf, bottom)
}

func (s *Simulator) cscFrame() []byte {
	revs, eventTime := s.crankData()
	buf := []byte{0x02}
	buf = binary.LittleEndian.AppendUint16(buf, revs)
	return binary.LittleEndian.AppendUint16(buf, eventTime)
}

// speed, cadence and power
func (s *Simulator) indoorBikeFrame() []byte {
	speedKmh := 10 + math.Sqrt(math.Max(0, s.power))*1.5
	buf := binary.LittleEndian.AppendUint16(nil, 1<<2|1<<6)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(speedKmh*100))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(s.cadence*2))
	return binary.LittleEndian.AppendUint16(buf, uint16(int16(math.Round(s.power))))
}

func (s *Simulator) powerPage(balance float64) [8]byte {
	watts := uint16(math.Max(0, math.Round(s.power)))
	page := [8]byte{ant.PageStandardPower, s.eventCount, uint8(math.Round(balance)), uint8(s.cadence)}
	binary.LittleEndian.PutUint16(page[4:6], uint16(s.eventCount)*watts)
	binary.LittleEndian.PutUint16(page[6:8], watts)
	return page
}

func (s *Simulator) torqueEffectivenessPage() [8]byte {
	return [8]byte{
		ant.PageTorqueEffectiveness,
		s.eventCount,
		uint8(clamp(75+s.noise(5), 0, 100) * 2),
		uint8(clamp(73+s.noise(5), 0, 100) * 2),
		uint8(clamp(22+s.noise(3), 0, 100) * 2),
		uint8(clamp(20+s.noise(3), 0, 100) * 2),
		0xFF,
		0xFF,
	}
}
