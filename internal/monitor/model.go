// Package monitor is the terminal front end: a model fed by device events,
// a controller for user actions and a tview renderer.
package monitor

import (
	"context"
	"log"
	"maps"
	"sync"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/events"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
	"github.com/ProvidenceIT/ride-sensors/internal/go_func_utils"
	"github.com/ProvidenceIT/ride-sensors/internal/telemetry"
)

// DeviceRow is the display form of one managed device
type DeviceRow struct {
	ID        string
	Name      string
	Transport device.Transport
	Status    device.Status
	Preferred bool
}

// DeviceRows groups rows by device type, each group ordered by ID
type DeviceRows map[device.DeviceType][]DeviceRow

// AutoOpenRequest asks the controller to open a preferred device that was
// just detected
type AutoOpenRequest struct {
	DeviceID   string
	DeviceType device.DeviceType
}

// UIState holds the current state of the UI that views need to render
type UIState struct {
	Mode UIMode
}

const maxLogLines = 1000

type Model struct {
	devices *device.Manager
	tracker *telemetry.DynamicsTracker
	prefs   *Preferences
	logger  *log.Logger

	logEvent              *events.ChannelEvent[string]
	deviceRowsEvent       *events.ChannelEvent[DeviceRows]
	latestDataEvent       *events.ChannelEvent[MetricData]
	trainerControlEvent   *events.ChannelEvent[TrainerControlState]
	uiStateEvent          *events.ChannelEvent[UIState]
	closeApplicationEvent *events.ChannelEvent[struct{}]
	autoOpenEvent         *events.ChannelEvent[AutoOpenRequest]

	mu                  sync.RWMutex
	uiState             UIState
	rows                DeviceRows
	latestData          MetricData
	trainerControlState TrainerControlState

	logMu    sync.RWMutex
	logLines []string

	ctx    context.Context
	cancel context.CancelFunc
	group  *go_func_utils.Group
}

// NewModelArgs holds the arguments for creating a new Model
type NewModelArgs struct {
	Devices     *device.Manager
	Tracker     *telemetry.DynamicsTracker // optional
	Preferences *Preferences
	EventBuffer int
	LogLines    <-chan string // optional
	Logger      *log.Logger
}

// NewModel creates a Model and starts consuming device events and log lines
func NewModel(args NewModelArgs) *Model {
	m := newModel(args)
	ch, unsubscribe := args.Devices.Subscribe(args.EventBuffer)
	m.group.Go("monitor device events", func() {
		defer unsubscribe()
		m.listenToDevices(ch)
	})
	if args.LogLines != nil {
		m.group.Go("monitor log lines", func() { m.readFromLogChannel(args.LogLines) })
	}
	m.refreshDevices()
	return m
}

func newModel(args NewModelArgs) *Model {
	if args.Logger == nil {
		panic("Model: logger cannot be nil")
	}
	if args.Devices == nil {
		panic("Model: device manager cannot be nil")
	}
	if args.Preferences == nil {
		panic("Model: preferences cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		devices:               args.Devices,
		tracker:               args.Tracker,
		prefs:                 args.Preferences,
		logger:                args.Logger,
		logEvent:              events.NewChannelEvent[string](false),
		deviceRowsEvent:       events.NewChannelEvent[DeviceRows](true),
		latestDataEvent:       events.NewChannelEvent[MetricData](true),
		trainerControlEvent:   events.NewChannelEvent[TrainerControlState](true),
		uiStateEvent:          events.NewChannelEvent[UIState](true),
		closeApplicationEvent: events.NewChannelEvent[struct{}](true),
		autoOpenEvent:         events.NewChannelEvent[AutoOpenRequest](false),
		uiState:               UIState{Mode: UIModeDevices},
		rows:                  make(DeviceRows),
		latestData:            make(MetricData),
		trainerControlState:   TrainerControlState{TargetPowerWatts: DefaultTargetPowerWatts},
		logLines:              make([]string, 0, maxLogLines),
		ctx:                   ctx,
		cancel:                cancel,
		group:                 go_func_utils.NewGroup(args.Logger),
	}
}

// Shutdown stops all goroutines and waits for them to finish
func (m *Model) Shutdown() {
	m.logger.Println("Model: Shutting down")
	m.cancel()
	m.group.Wait()
	m.logger.Println("Model: Shutdown complete")
}

func (m *Model) listenToDevices(ch <-chan device.Event) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.handleEvent(e)
		}
	}
}

func (m *Model) handleEvent(e device.Event) {
	if e.Kind == device.EventDataReceived {
		m.handleData(e)
		return
	}

	m.refreshDevices()
	switch e.Kind {
	case device.EventDeviceConnected:
		if pref := m.prefs.Preferred(e.DeviceType); pref != "" && pref == e.DeviceID {
			m.logger.Printf("Model: Preferred %s %s detected", e.DeviceType, e.DeviceID)
			m.autoOpenEvent.Notify(AutoOpenRequest{DeviceID: e.DeviceID, DeviceType: e.DeviceType})
		}
	case device.EventDeviceOpened:
		if e.DeviceType == device.DeviceTypeFitnessEquipment {
			m.setTrainer(e.DeviceID)
		}
	case device.EventDeviceClosed, device.EventDeviceDisconnected, device.EventError:
		if m.GetTrainerControlState().DeviceID == e.DeviceID {
			m.setTrainer("")
		}
	}
}

func (m *Model) handleData(e device.Event) {
	if resp, ok := e.Data.(gatt.ControlPointResponse); ok {
		if !resp.Succeeded() {
			m.logger.Printf("Model: Trainer %s rejected %s", e.DeviceID, resp)
		}
		return
	}

	metrics := ExtractMetrics(e.Data)
	if m.tracker != nil {
		if avg, ok := m.tracker.Averages(e.DeviceID); ok {
			maps.Copy(metrics, DynamicsMetrics(avg))
		}
	}
	m.SetMetrics(metrics)
}

// refreshDevices rebuilds the rows from the device manager
func (m *Model) refreshDevices() {
	rows := make(DeviceRows)
	for _, t := range device.AllDeviceTypes() {
		rows[t] = make([]DeviceRow, 0)
	}
	for _, d := range m.devices.Devices() {
		rows[d.Type] = append(rows[d.Type], DeviceRow{
			ID:        d.ID,
			Name:      d.Name,
			Transport: d.Transport,
			Status:    d.Status,
			Preferred: m.prefs.Preferred(d.Type) == d.ID,
		})
	}

	m.mu.Lock()
	m.rows = rows
	snapshot := copyRows(rows)
	m.mu.Unlock()

	m.deviceRowsEvent.Notify(snapshot)
}

func copyRows(rows DeviceRows) DeviceRows {
	out := make(DeviceRows, len(rows))
	for t, r := range rows {
		out[t] = append([]DeviceRow(nil), r...)
	}
	return out
}

// GetDeviceRows returns a copy of the current rows
func (m *Model) GetDeviceRows() DeviceRows {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRows(m.rows)
}

// SubscribeDeviceRows returns a channel that always holds the newest rows
func (m *Model) SubscribeDeviceRows() (<-chan DeviceRows, func()) {
	return m.deviceRowsEvent.Subscribe(1)
}

// ListenToAutoOpen registers a channel to receive auto-open requests
func (m *Model) ListenToAutoOpen(ch chan<- AutoOpenRequest) func() {
	return m.autoOpenEvent.Listen(ch)
}

// ListenToLog registers a channel to receive log messages
// Returns a deregistration function that can be called to remove the listener
func (m *Model) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

// ListenToCloseApplication registers a channel to receive close application signals
func (m *Model) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeApplicationEvent.Listen(ch)
}

// RequestCloseApplication signals that the application should close
func (m *Model) RequestCloseApplication() {
	m.closeApplicationEvent.Notify(struct{}{})
}

// SubscribeUIState returns a channel that always holds the newest UI state
func (m *Model) SubscribeUIState() (<-chan UIState, func()) {
	return m.uiStateEvent.Subscribe(1)
}

// GetUIState returns the current UI state
func (m *Model) GetUIState() UIState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uiState
}

// SetMode updates the current UI mode and notifies listeners
func (m *Model) SetMode(mode UIMode) {
	m.mu.Lock()
	if m.uiState.Mode == mode {
		m.mu.Unlock()
		return
	}
	m.uiState.Mode = mode
	state := m.uiState
	m.mu.Unlock()

	m.uiStateEvent.Notify(state)
}

// SubscribeLatestData returns a channel that always holds the newest metrics
func (m *Model) SubscribeLatestData() (<-chan MetricData, func()) {
	return m.latestDataEvent.Subscribe(1)
}

// GetLatestData returns a copy of the current latest data map
func (m *Model) GetLatestData() MetricData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.latestData)
}

// SetMetrics updates multiple metric values and notifies listeners once
func (m *Model) SetMetrics(metrics MetricData) {
	if len(metrics) == 0 {
		return
	}

	m.mu.Lock()
	maps.Copy(m.latestData, metrics)
	dataCopy := maps.Clone(m.latestData)
	m.mu.Unlock()

	m.latestDataEvent.Notify(dataCopy)
}

// SubscribeTrainerControl returns a channel that always holds the newest
// trainer control state
func (m *Model) SubscribeTrainerControl() (<-chan TrainerControlState, func()) {
	return m.trainerControlEvent.Subscribe(1)
}

// GetTrainerControlState returns the current trainer control state
func (m *Model) GetTrainerControlState() TrainerControlState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trainerControlState
}

// SetTargetPower records an ERG target the trainer accepted
func (m *Model) SetTargetPower(watts int) {
	m.updateTrainerControl(func(s *TrainerControlState) {
		s.Mode = ControlModeERG
		s.TargetPowerWatts = watts
		s.ControlAcquired = true
	})
}

// SetGrade records a simulated grade the trainer accepted
func (m *Model) SetGrade(percent float64) {
	m.updateTrainerControl(func(s *TrainerControlState) {
		s.Mode = ControlModeSimulation
		s.GradePercent = percent
		s.ControlAcquired = true
	})
}

// SetResistance records a resistance level the trainer accepted
func (m *Model) SetResistance(level float64) {
	m.updateTrainerControl(func(s *TrainerControlState) {
		s.Mode = ControlModeResistance
		s.ResistanceLevel = level
		s.ControlAcquired = true
	})
}

func (m *Model) SetPaused(paused bool) {
	m.updateTrainerControl(func(s *TrainerControlState) {
		s.Paused = paused
	})
}

// ResetTrainerControl forgets the accepted mode after the trainer was reset.
// Targets are kept for the next command.
func (m *Model) ResetTrainerControl() {
	m.updateTrainerControl(func(s *TrainerControlState) {
		s.Mode = ""
		s.ControlAcquired = false
		s.Paused = false
	})
}

func (m *Model) updateTrainerControl(update func(*TrainerControlState)) {
	m.mu.Lock()
	update(&m.trainerControlState)
	stateCopy := m.trainerControlState
	m.mu.Unlock()

	m.trainerControlEvent.Notify(stateCopy)
}

// setTrainer switches control to id, or releases it when id is empty
func (m *Model) setTrainer(id string) {
	m.mu.Lock()
	m.trainerControlState.DeviceID = id
	m.trainerControlState.Mode = ""
	m.trainerControlState.ControlAcquired = false
	m.trainerControlState.Paused = false
	stateCopy := m.trainerControlState
	m.mu.Unlock()

	if id == "" {
		m.logger.Println("Model: Trainer control released")
	} else {
		m.logger.Printf("Model: Trainer %s available for control", id)
	}
	m.trainerControlEvent.Notify(stateCopy)
}

// readFromLogChannel reads log lines from the channel and populates logLines
func (m *Model) readFromLogChannel(logChan <-chan string) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}
			m.appendLogLine(line)
		}
	}
}

func (m *Model) appendLogLine(line string) {
	m.logMu.Lock()
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	m.logMu.Unlock()

	m.logEvent.Notify(line)
}

// GetLogTail returns the last n lines of logs
func (m *Model) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n > len(m.logLines) {
		n = len(m.logLines)
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}
