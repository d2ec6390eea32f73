package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/go_func_utils"
)

var (
	ErrNoTrainer          = errors.New("no trainer open")
	ErrNoTrainerControl   = errors.New("transport cannot control trainers")
	ErrTrainerUnsupported = errors.New("transport does not support this trainer command")
)

// TrainerControl sets an ERG target on an open trainer
type TrainerControl interface {
	SetTargetPower(deviceID string, watts float64) error
}

// TrainerSession starts, pauses and resets a trainer. A TrainerControl may
// also implement it.
type TrainerSession interface {
	StartTraining(deviceID string) error
	StopTraining(deviceID string, pause bool) error
	ResetTrainer(deviceID string) error
}

// TrainerModes switches a trainer to simulation or fixed resistance. A
// TrainerControl may also implement it.
type TrainerModes interface {
	SetSimulation(deviceID string, gradePercent float64) error
	SetTargetResistance(deviceID string, level float64) error
}

// TrainerControls picks the TrainerControl for a device's transport
type TrainerControls map[device.Transport]TrainerControl

// Scanner is the BLE discovery surface the controller toggles
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration)
	StopScan() error
	IsScanning() bool
}

// Controller handles user actions and coordinates with the Model
type Controller struct {
	model       *Model
	devices     *device.Manager
	prefs       *Preferences
	trainers    TrainerControls
	scanner     Scanner
	scanTimeout time.Duration
	logger      *log.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	group       *go_func_utils.Group
}

// NewControllerArgs holds the arguments for creating a new Controller
type NewControllerArgs struct {
	Model       *Model
	Devices     *device.Manager
	Preferences *Preferences
	Trainers    TrainerControls
	Scanner     Scanner // nil when BLE is disabled
	ScanTimeout time.Duration
	Logger      *log.Logger
}

func NewController(args NewControllerArgs) *Controller {
	if args.Model == nil {
		panic("Controller: model cannot be nil")
	}
	if args.Devices == nil {
		panic("Controller: device manager cannot be nil")
	}
	if args.Preferences == nil {
		panic("Controller: preferences cannot be nil")
	}
	if args.Logger == nil {
		panic("Controller: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		model:       args.Model,
		devices:     args.Devices,
		prefs:       args.Preferences,
		trainers:    args.Trainers,
		scanner:     args.Scanner,
		scanTimeout: args.ScanTimeout,
		logger:      args.Logger,
		ctx:         ctx,
		cancel:      cancel,
		group:       go_func_utils.NewGroup(args.Logger),
	}

	ch := make(chan AutoOpenRequest, 8)
	unregister := c.model.ListenToAutoOpen(ch)
	c.group.Go("monitor auto open", func() {
		defer unregister()
		c.listenToAutoOpen(ch)
	})
	return c
}

func (c *Controller) listenToAutoOpen(ch <-chan AutoOpenRequest) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-ch:
			c.logger.Printf("Auto-opening %s (%s) from preferences", req.DeviceID, req.DeviceType)
			if err := c.OpenDevice(req.DeviceID); err != nil {
				c.logger.Printf("Auto-open failed: %v", err)
			}
		}
	}
}

// OpenDevice opens id and remembers it as the preferred device of its type
func (c *Controller) OpenDevice(id string) error {
	if err := c.devices.OpenDevice(c.ctx, id); err != nil {
		return err
	}
	if d, ok := c.devices.GetDevice(id); ok {
		c.prefs.SetPreferred(d.Type, id)
	}
	return nil
}

// CloseDevice closes id. The preference is kept so the device reopens on
// the next run.
func (c *Controller) CloseDevice(id string) error {
	return c.devices.CloseDevice(id)
}

// DeviceSelected toggles the selected device between open and closed. The
// handshake runs off the UI goroutine.
func (c *Controller) DeviceSelected(id string) {
	c.group.Go("monitor open "+id, func() {
		var err error
		if c.devices.IsOpen(id) {
			err = c.CloseDevice(id)
		} else {
			err = c.OpenDevice(id)
		}
		if err != nil {
			c.logger.Printf("Controller: %v", err)
		}
	})
}

// OnEscapeKey handles when the Escape key is pressed
func (c *Controller) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// ToggleDeviceScan starts or stops BLE discovery
func (c *Controller) ToggleDeviceScan() {
	if c.scanner == nil {
		c.logger.Printf("Controller: BLE is disabled")
		return
	}
	if c.scanner.IsScanning() {
		if err := c.scanner.StopScan(); err != nil {
			c.logger.Printf("Controller: error stopping scan: %v", err)
		}
		return
	}
	c.scanner.Scan(c.ctx, c.scanTimeout)
}

// OnModeChange handles when the user requests a mode change
func (c *Controller) OnModeChange(mode UIMode) {
	if info, ok := GetUIModeInfo(mode); ok {
		c.logger.Printf("Switching to %s mode", info.DisplayName)
	}
	c.model.SetMode(mode)
}

// --- Trainer Control Methods ---

// ApplyTargetPower sends the current target to the open trainer
func (c *Controller) ApplyTargetPower() error {
	return c.setTargetPower(c.model.GetTrainerControlState().TargetPowerWatts)
}

// IncreaseTargetPower increases the target power by the default step
func (c *Controller) IncreaseTargetPower() error {
	state := c.model.GetTrainerControlState()
	return c.setTargetPower(min(state.TargetPowerWatts+DefaultPowerStepWatts, MaxTargetPowerWatts))
}

// DecreaseTargetPower decreases the target power by the default step
func (c *Controller) DecreaseTargetPower() error {
	state := c.model.GetTrainerControlState()
	return c.setTargetPower(max(state.TargetPowerWatts-DefaultPowerStepWatts, MinTargetPowerWatts))
}

// setTargetPower sets the target power on the trainer and updates the model
func (c *Controller) setTargetPower(watts int) error {
	d, control, err := c.openTrainer("set target power")
	if err != nil {
		return err
	}
	if err := control.SetTargetPower(d.ID, float64(watts)); err != nil {
		return fmt.Errorf("set target power %s: %w", d.ID, err)
	}

	c.model.SetTargetPower(watts)
	c.logger.Printf("Target power: %d W", watts)
	return nil
}

// TogglePause pauses a running trainer or resumes a paused one
func (c *Controller) TogglePause() error {
	d, session, err := c.trainerSession("pause")
	if err != nil {
		return err
	}
	if c.model.GetTrainerControlState().Paused {
		if err := session.StartTraining(d.ID); err != nil {
			return fmt.Errorf("resume %s: %w", d.ID, err)
		}
		c.model.SetPaused(false)
		c.logger.Printf("Trainer %s resumed", d.ID)
		return nil
	}
	if err := session.StopTraining(d.ID, true); err != nil {
		return fmt.Errorf("pause %s: %w", d.ID, err)
	}
	c.model.SetPaused(true)
	c.logger.Printf("Trainer %s paused", d.ID)
	return nil
}

// StopTraining ends the trainer's session. It stays paused until resumed.
func (c *Controller) StopTraining() error {
	d, session, err := c.trainerSession("stop")
	if err != nil {
		return err
	}
	if err := session.StopTraining(d.ID, false); err != nil {
		return fmt.Errorf("stop %s: %w", d.ID, err)
	}
	c.model.SetPaused(true)
	c.logger.Printf("Trainer %s stopped", d.ID)
	return nil
}

// ResetTrainer returns the trainer to its power-on state
func (c *Controller) ResetTrainer() error {
	d, session, err := c.trainerSession("reset")
	if err != nil {
		return err
	}
	if err := session.ResetTrainer(d.ID); err != nil {
		return fmt.Errorf("reset %s: %w", d.ID, err)
	}
	c.model.ResetTrainerControl()
	c.logger.Printf("Trainer %s reset", d.ID)
	return nil
}

// IncreaseGrade steps the simulated grade up
func (c *Controller) IncreaseGrade() error {
	return c.setGrade(c.model.GetTrainerControlState().GradePercent + DefaultGradeStepPercent)
}

// DecreaseGrade steps the simulated grade down
func (c *Controller) DecreaseGrade() error {
	return c.setGrade(c.model.GetTrainerControlState().GradePercent - DefaultGradeStepPercent)
}

func (c *Controller) setGrade(percent float64) error {
	percent = min(max(percent, MinGradePercent), MaxGradePercent)
	d, modes, err := c.trainerModes("set grade")
	if err != nil {
		return err
	}
	if err := modes.SetSimulation(d.ID, percent); err != nil {
		return fmt.Errorf("set grade %s: %w", d.ID, err)
	}
	c.model.SetGrade(percent)
	c.logger.Printf("Grade: %.1f%%", percent)
	return nil
}

// IncreaseResistance steps the fixed resistance level up
func (c *Controller) IncreaseResistance() error {
	return c.setResistance(c.model.GetTrainerControlState().ResistanceLevel + DefaultResistanceStep)
}

// DecreaseResistance steps the fixed resistance level down
func (c *Controller) DecreaseResistance() error {
	return c.setResistance(c.model.GetTrainerControlState().ResistanceLevel - DefaultResistanceStep)
}

func (c *Controller) setResistance(level float64) error {
	level = min(max(level, MinResistanceLevel), MaxResistanceLevel)
	d, modes, err := c.trainerModes("set resistance")
	if err != nil {
		return err
	}
	if err := modes.SetTargetResistance(d.ID, level); err != nil {
		return fmt.Errorf("set resistance %s: %w", d.ID, err)
	}
	c.model.SetResistance(level)
	c.logger.Printf("Resistance: %.1f", level)
	return nil
}

// openTrainer resolves the open trainer and the control for its transport
func (c *Controller) openTrainer(op string) (device.Device, TrainerControl, error) {
	state := c.model.GetTrainerControlState()
	if state.DeviceID == "" {
		return device.Device{}, nil, ErrNoTrainer
	}
	d, ok := c.devices.GetDevice(state.DeviceID)
	if !ok {
		return device.Device{}, nil, fmt.Errorf("%s %s: %w", op, state.DeviceID, device.ErrDeviceNotFound)
	}
	control := c.trainers[d.Transport]
	if control == nil {
		return device.Device{}, nil, fmt.Errorf("%s %s over %s: %w", op, d.ID, d.Transport, ErrNoTrainerControl)
	}
	return d, control, nil
}

func (c *Controller) trainerSession(op string) (device.Device, TrainerSession, error) {
	d, control, err := c.openTrainer(op)
	if err != nil {
		return device.Device{}, nil, err
	}
	session, ok := control.(TrainerSession)
	if !ok {
		return device.Device{}, nil, fmt.Errorf("%s %s over %s: %w", op, d.ID, d.Transport, ErrTrainerUnsupported)
	}
	return d, session, nil
}

func (c *Controller) trainerModes(op string) (device.Device, TrainerModes, error) {
	d, control, err := c.openTrainer(op)
	if err != nil {
		return device.Device{}, nil, err
	}
	modes, ok := control.(TrainerModes)
	if !ok {
		return device.Device{}, nil, fmt.Errorf("%s %s over %s: %w", op, d.ID, d.Transport, ErrTrainerUnsupported)
	}
	return d, modes, nil
}

// Shutdown stops background work. The caller shuts down transports.
func (c *Controller) Shutdown() {
	c.cancel()
	c.group.Wait()
}
