package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/ProvidenceIT/ride-sensors/internal/ant"
	"github.com/ProvidenceIT/ride-sensors/internal/bt"
	"github.com/ProvidenceIT/ride-sensors/internal/config"
	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/go_func_utils"
	"github.com/ProvidenceIT/ride-sensors/internal/logging"
	"github.com/ProvidenceIT/ride-sensors/internal/monitor"
	"github.com/ProvidenceIT/ride-sensors/internal/simulator"
	"github.com/ProvidenceIT/ride-sensors/internal/telemetry"
)

const logViewLines = 256

// trainers that also take session and mode commands
var (
	_ monitor.TrainerSession = (*bt.Transport)(nil)
	_ monitor.TrainerModes   = (*bt.Transport)(nil)
	_ monitor.TrainerSession = (*simulator.Simulator)(nil)
	_ monitor.TrainerModes   = (*simulator.Simulator)(nil)
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sensor-monitor:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	lines := logging.NewLineWriter(logViewLines)
	defer lines.Close()
	logger, logFile := logging.New(cfg, lines)
	defer logFile.Close()
	logger.Println("Main: Starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	devices := device.NewManager(logger, nil)
	defer devices.Close()
	router := telemetry.NewRouter(logger, devices, cfg.Debug)
	tracker := telemetry.NewDynamicsTracker()
	defer tracker.Attach(router)()

	group := go_func_utils.NewGroup(logger)
	openers := device.TransportOpeners{}
	trainers := monitor.TrainerControls{}

	var (
		transport *bt.Transport
		scanner   monitor.Scanner
	)
	if cfg.BLE {
		transport = bt.NewTransport(logger, bluetooth.DefaultAdapter, devices, router)
		if err := transport.Enable(); err != nil {
			logger.Printf("Main: Bluetooth unavailable, continuing without BLE: %v", err)
			transport = nil
		} else {
			defer transport.Shutdown()
			openers[device.TransportBLE] = transport
			trainers[device.TransportBLE] = transport
			scanner = transport
		}
	}

	var sticks *antStack
	if cfg.ANT {
		sticks = openANT(cfg, logger, router)
		defer sticks.close(logger)
		if len(sticks.radios) > 0 {
			openers[device.TransportANT] = sticks.radios
			trainers[device.TransportANT] = sticks.radios
		}
	}

	var sim *simulator.Simulator
	if cfg.Simulate {
		sim = simulator.New(logger, devices, router, uint64(time.Now().UnixNano()))
		openers[device.TransportSimulated] = sim
		trainers[device.TransportSimulated] = sim
	}
	devices.SetOpener(openers)

	// the model subscribes before any transport discovers devices so
	// preferred devices seen at startup are auto-opened
	prefs := monitor.LoadPreferences(logger, cfg.PrefsFile)
	model := monitor.NewModel(monitor.NewModelArgs{
		Devices:     devices,
		Tracker:     tracker,
		Preferences: prefs,
		EventBuffer: cfg.EventBuffer,
		LogLines:    lines.Lines(),
		Logger:      logger,
	})
	controller := monitor.NewController(monitor.NewControllerArgs{
		Model:       model,
		Devices:     devices,
		Preferences: prefs,
		Trainers:    trainers,
		Scanner:     scanner,
		ScanTimeout: cfg.ScanTimeout,
		Logger:      logger,
	})

	if sticks != nil {
		sticks.run(ctx, logger, router, group)
	}
	if transport != nil {
		transport.Scan(ctx, cfg.ScanTimeout)
	}
	if sim != nil {
		if err := sim.Register(); err != nil {
			logger.Printf("Main: Simulator registration failed: %v", err)
		} else {
			group.Go("simulator", func() { sim.Run(ctx) })
		}
	}

	view := monitor.NewView(monitor.NewViewArgs{
		Renderer:   monitor.NewTviewRenderer(logger, tview.NewApplication()),
		Model:      model,
		Controller: controller,
		Logger:     logger,
	})
	go_func_utils.SafeGo(logger, "close on signal", func() {
		<-ctx.Done()
		model.RequestCloseApplication()
	})

	err = view.Run()
	logger.Println("Main: Shutting down")
	cancel()
	view.Shutdown()
	controller.Shutdown()
	model.Shutdown()
	group.Wait()
	return err
}

// antStack is every ANT stick found at startup with its radio
type antStack struct {
	enumerator *ant.USBEnumerator
	dongles    *ant.DongleManager
	sticks     []*ant.USBStick
	radios     ant.Radios
}

// openANT opens every attached ANT stick and opens one search channel per
// device type on each. Nothing is read until run.
func openANT(cfg *config.Config, logger *log.Logger, router *telemetry.Router) *antStack {
	s := &antStack{
		enumerator: ant.NewUSBEnumerator(logger, cfg.ANTVendorID, cfg.ANTProductIDs),
		dongles:    ant.NewDongleManager(logger),
	}

	infos, err := s.enumerator.Enumerate()
	if err != nil {
		logger.Printf("Main: ANT enumeration failed: %v", err)
		return s
	}
	if len(infos) == 0 {
		logger.Println("Main: No ANT stick found")
	}

	for _, info := range infos {
		dongle := s.dongles.Detect(info)
		stick, err := s.enumerator.Open(info)
		if err != nil {
			logger.Printf("Main: Opening ANT stick %s: %v", dongle.ID, err)
			if mErr := s.dongles.MarkError(dongle.ID, err.Error()); mErr != nil {
				logger.Printf("Main: %v", mErr)
			}
			continue
		}
		s.sticks = append(s.sticks, stick)

		radio := ant.NewRadio(logger, stick, s.dongles, ant.NewChannelManager(logger, cfg.ANTChannels), dongle.ID)
		radio.OnDeviceLost(router.DeviceLost)
		if err := radio.Initialize(); err != nil {
			logger.Printf("Main: Initializing ANT stick %s: %v", dongle.ID, err)
			continue
		}
		for _, t := range device.AllDeviceTypes() {
			if _, err := radio.OpenSearch(ant.ChannelConfig{DeviceType: t}); err != nil {
				logger.Printf("Main: Opening %s search on %s: %v", t, dongle.ID, err)
			}
		}
		s.radios = append(s.radios, radio)
	}
	return s
}

// run starts a read loop per radio and the status log
func (s *antStack) run(ctx context.Context, logger *log.Logger, router *telemetry.Router, group *go_func_utils.Group) {
	for _, radio := range s.radios {
		channels := radio.Channels()
		group.Go("ant read loop", func() {
			_ = radio.Run(ctx, func(msg ant.Message) {
				router.HandleANT(ctx, channels, msg)
			})
		})
	}
	group.Go("ant status", func() {
		ant.WatchStatus(ctx, logger, s.dongles, s.radios)
	})
}

func (s *antStack) close(logger *log.Logger) {
	for _, stick := range s.sticks {
		if err := stick.Close(); err != nil {
			logger.Printf("Main: Closing ANT stick: %v", err)
		}
	}
	for _, radio := range s.radios {
		radio.Channels().Close()
	}
	s.dongles.Close()
	if err := s.enumerator.Close(); err != nil {
		logger.Printf("Main: Closing USB context: %v", err)
	}
}
