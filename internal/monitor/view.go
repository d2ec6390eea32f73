package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/go_func_utils"
)

// Renderer is the framework-specific half of the view
type Renderer interface {
	// Initialize is called after construction to set up widgets
	Initialize(controller *Controller)

	// SetupKeyboardHandlers binds keys to controller actions
	SetupKeyboardHandlers(controller *Controller)

	// Run starts the UI framework and blocks until it exits
	Run() error

	// Stop stops the UI framework
	Stop()

	// Draw refreshes the screen
	Draw()

	SetMode(mode UIMode)

	// GetLogViewHeight returns the visible height of the log view
	GetLogViewHeight() int

	// SetLogLines replaces the log view contents
	SetLogLines(lines []string)

	SetDeviceRows(rows DeviceRows)
	UpdateLatestData(data MetricData)
	UpdateTrainerControl(state TrainerControlState)
}

// View forwards model changes to a Renderer
type View struct {
	renderer   Renderer
	model      *Model
	controller *Controller
	ctx        context.Context
	cancel     context.CancelFunc
	group      *go_func_utils.Group
	logger     *log.Logger
}

// NewViewArgs holds the arguments for creating a new View
type NewViewArgs struct {
	Renderer   Renderer
	Model      *Model
	Controller *Controller
	Logger     *log.Logger
}

func NewView(args NewViewArgs) *View {
	if args.Logger == nil {
		panic("View: logger cannot be nil")
	}
	if args.Renderer == nil {
		panic("View: renderer cannot be nil")
	}
	if args.Model == nil {
		panic("View: model cannot be nil")
	}
	if args.Controller == nil {
		panic("View: controller cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())

	v := &View{
		renderer:   args.Renderer,
		model:      args.Model,
		controller: args.Controller,
		ctx:        ctx,
		cancel:     cancel,
		group:      go_func_utils.NewGroup(args.Logger),
		logger:     args.Logger,
	}

	v.renderer.Initialize(v.controller)
	v.renderer.SetupKeyboardHandlers(v.controller)
	v.renderer.SetMode(v.model.GetUIState().Mode)

	v.group.Go("view log resize", v.monitorLogResize)
	v.updateLogDisplay()
	v.setupEventListeners()
	return v
}

// forward renders every value received on ch until the view shuts down
func forward[T any](v *View, name string, ch <-chan T, cancel func(), render func(T)) {
	v.group.Go(name, func() {
		defer cancel()
		for {
			select {
			case <-v.ctx.Done():
				return
			case value, ok := <-ch:
				if !ok {
					return
				}
				render(value)
				v.renderer.Draw()
			}
		}
	})
}

func (v *View) setupEventListeners() {
	logChan := make(chan string, 1)
	logUnregister := v.model.ListenToLog(logChan)
	forward(v, "view log", logChan, logUnregister, func(string) { v.updateLogDisplay() })

	rowsChan, rowsCancel := v.model.SubscribeDeviceRows()
	forward(v, "view devices", rowsChan, rowsCancel, v.renderer.SetDeviceRows)

	stateChan, stateCancel := v.model.SubscribeUIState()
	forward(v, "view mode", stateChan, stateCancel, func(s UIState) { v.renderer.SetMode(s.Mode) })

	dataChan, dataCancel := v.model.SubscribeLatestData()
	forward(v, "view data", dataChan, dataCancel, v.renderer.UpdateLatestData)

	controlChan, controlCancel := v.model.SubscribeTrainerControl()
	forward(v, "view trainer", controlChan, controlCancel, v.renderer.UpdateTrainerControl)

	closeChan := make(chan struct{}, 1)
	closeUnregister := v.model.ListenToCloseApplication(closeChan)
	v.group.Go("view close", func() {
		defer closeUnregister()
		select {
		case <-v.ctx.Done():
		case <-closeChan:
			v.renderer.Stop()
		}
	})
}

func (v *View) updateLogDisplay() {
	height := v.renderer.GetLogViewHeight()
	if height <= 0 {
		return
	}
	v.renderer.SetLogLines(v.model.GetLogTail(height))
}

func (v *View) monitorLogResize() {
	var lastHeight int
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			height := v.renderer.GetLogViewHeight()
			if height != lastHeight && height > 0 {
				lastHeight = height
				v.updateLogDisplay()
				v.renderer.Draw()
			}
		}
	}
}

// Shutdown stops all goroutines and waits for them to finish
func (v *View) Shutdown() {
	v.logger.Println("View: Shutting down")
	v.cancel()
	v.group.Wait()
	v.logger.Println("View: Shutdown complete")
}

// Run starts the UI and blocks until it exits
func (v *View) Run() error {
	return v.renderer.Run()
}

func statusColor(s device.State) string {
	switch s {
	case device.StateOpen:
		return "green"
	case device.StateOpening:
		return "yellow"
	case device.StateError:
		return "red"
	case device.StateDisconnected:
		return "gray"
	default:
		return "white"
	}
}

func formatDeviceRow(r DeviceRow) string {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	star := " "
	if r.Preferred {
		star = "*"
	}
	return fmt.Sprintf("%s[%s]%s[white] %s (%s)", star, statusColor(r.Status.State), r.Status, name, r.Transport)
}

// formatMetrics renders every metric present in data, in AllMetrics order
func formatMetrics(data MetricData) string {
	if len(data) == 0 {
		return "\n  [gray]Open a device in Devices mode (press 1)\n  to see live metrics here.[white]"
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, info := range AllMetrics {
		value, ok := data[info.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %-13s [yellow]%s[white]\n", info.DisplayName+":", info.Format(value))
	}
	return b.String()
}

func formatTrainerControl(state TrainerControlState) string {
	if state.DeviceID == "" {
		return "\n  [gray]No trainer open[white]\n\n  Open a Smart Trainer in Devices mode (press 1).\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n  Trainer: [yellow]%s[white]\n\n", state.DeviceID)
	switch {
	case !state.ControlAcquired:
		fmt.Fprintf(&b, "  [gray]ERG off[white] (press [yellow]c[white] for %d W)\n", state.TargetPowerWatts)
	case state.Mode == ControlModeSimulation:
		fmt.Fprintf(&b, "  [green]SIM[white] Grade: [yellow]%.1f[white] %%\n", state.GradePercent)
	case state.Mode == ControlModeResistance:
		fmt.Fprintf(&b, "  [green]Resistance[white] Level: [yellow]%.0f[white]\n", state.ResistanceLevel)
	default:
		fmt.Fprintf(&b, "  [green]ERG[white] Target Power: [yellow]%d[white] W\n", state.TargetPowerWatts)
	}
	if state.Paused {
		b.WriteString("  [red]Paused[white]\n")
	}
	b.WriteString("\n  [yellow]+[white]/[yellow]Up[white] Increase power    [yellow]-[white]/[yellow]Down[white] Decrease power\n")
	b.WriteString("  [yellow]<[white]/[yellow]>[white] Grade    [yellow]{[white]/[yellow]}[white] Resistance\n")
	b.WriteString("  [yellow]p[white] Pause/resume    [yellow]x[white] Stop    [yellow]r[white] Reset\n")
	return b.String()
}
