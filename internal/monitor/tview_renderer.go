package monitor

import (
	"fmt"
	"log"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
)

// Page names for tview.Pages
const (
	pageDevices   = "devices"
	pageDashboard = "dashboard"
)

// TviewRenderer implements Renderer with tview
type TviewRenderer struct {
	logger      *log.Logger
	app         *tview.Application
	currentMode UIMode

	pages    *tview.Pages
	logView  *tview.TextView
	mainFlex *tview.Flex // mode content on the left, logs on the right

	devicesFlex       *tview.Flex
	deviceLists       map[device.DeviceType]*tview.List
	devicesTabWidgets []*tview.Box

	dashboardFlex       *tview.Flex
	dashboardTabWidgets []*tview.Box
	metricsPanel        *tview.TextView
	controlsPanel       *tview.TextView
}

func NewTviewRenderer(logger *log.Logger, app *tview.Application) *TviewRenderer {
	return &TviewRenderer{
		logger:      logger,
		app:         app,
		currentMode: UIModeDevices,
		deviceLists: make(map[device.DeviceType]*tview.List),
	}
}

// Initialize sets up the tview widgets
func (ui *TviewRenderer) Initialize(controller *Controller) {
	// No SetChangedFunc with app.Draw: it can hang once the app is stopped
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	ui.pages = tview.NewPages()
	ui.initDevicesMode(controller)
	ui.initDashboardMode()
	ui.pages.AddPage(pageDevices, ui.devicesFlex, true, true)
	ui.pages.AddPage(pageDashboard, ui.dashboardFlex, true, false)

	ui.mainFlex = tview.NewFlex().
		AddItem(ui.pages, 0, 1, true).
		AddItem(ui.logView, 0, 1, false)

	ui.setFocusForCurrentMode()
}

func (ui *TviewRenderer) initDevicesMode(controller *Controller) {
	instructions := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructions.SetText("[yellow]S[white] Toggle BLE Scan  |  [yellow]Tab[white] Cycle Types  |  [yellow]Enter[white] Open/Close  |  [yellow]D[white] Close\n[yellow]1[white] Devices  |  [yellow]2[white] Dashboard  |  [yellow]Esc[white] Quit")

	row := tview.NewFlex().SetDirection(tview.FlexColumn)
	for _, t := range device.AllDeviceTypes() {
		list := tview.NewList().
			ShowSecondaryText(false).
			SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
				if secondaryText != "" {
					controller.DeviceSelected(secondaryText)
				}
			})
		list.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", t))
		ui.deviceLists[t] = list
		row.AddItem(list, 0, 1, false)
		ui.devicesTabWidgets = append(ui.devicesTabWidgets, list.Box)
	}

	ui.devicesFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructions, 2, 0, false).
		AddItem(row, 0, 1, true)
}

func (ui *TviewRenderer) initDashboardMode() {
	ui.metricsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.metricsPanel.SetBorder(true).SetTitle(" Metrics ")
	ui.metricsPanel.SetText(formatMetrics(nil))

	ui.controlsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.controlsPanel.SetBorder(true).SetTitle(" Trainer ")
	ui.controlsPanel.SetText(formatTrainerControl(TrainerControlState{}))

	ui.dashboardTabWidgets = append(ui.dashboardTabWidgets, ui.metricsPanel.Box, ui.controlsPanel.Box)
	ui.dashboardFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.metricsPanel, 0, 2, true).
		AddItem(ui.controlsPanel, 0, 1, false)
}

// SetMode switches the UI to the specified mode
func (ui *TviewRenderer) SetMode(mode UIMode) {
	if ui.currentMode == mode {
		return
	}
	ui.currentMode = mode
	switch mode {
	case UIModeDevices:
		ui.pages.SwitchToPage(pageDevices)
	case UIModeDashboard:
		ui.pages.SwitchToPage(pageDashboard)
	}
	ui.setFocusForCurrentMode()
}

func (ui *TviewRenderer) tabWidgets() []*tview.Box {
	switch ui.currentMode {
	case UIModeDevices:
		return ui.devicesTabWidgets
	case UIModeDashboard:
		return ui.dashboardTabWidgets
	default:
		return nil
	}
}

func (ui *TviewRenderer) setFocusForCurrentMode() {
	if widgets := ui.tabWidgets(); len(widgets) > 0 {
		ui.app.SetFocus(widgets[0])
	}
}

func (ui *TviewRenderer) focusedDeviceList() (*tview.List, bool) {
	for _, list := range ui.deviceLists {
		if list.HasFocus() {
			return list, true
		}
	}
	return nil, false
}

// SetupKeyboardHandlers sets up keyboard event handlers
func (ui *TviewRenderer) SetupKeyboardHandlers(controller *Controller) {
	report := func(err error) {
		if err != nil {
			ui.logger.Printf("UI: %v", err)
		}
	}

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune {
			if mode, ok := GetUIModeByKey(event.Rune()); ok {
				controller.OnModeChange(mode)
				return nil
			}
		}

		switch event.Key() {
		case tcell.KeyTab:
			widgets := ui.tabWidgets()
			for i, w := range widgets {
				if w.HasFocus() {
					ui.app.SetFocus(widgets[(i+1)%len(widgets)])
					break
				}
			}
			return nil
		case tcell.KeyEscape:
			controller.OnEscapeKey()
			return nil
		}

		switch ui.currentMode {
		case UIModeDevices:
			switch {
			case event.Key() == tcell.KeyRune && event.Rune() == 's':
				controller.ToggleDeviceScan()
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == 'd':
				if list, ok := ui.focusedDeviceList(); ok {
					if id, ok := listID(list, list.GetCurrentItem()); ok {
						report(controller.CloseDevice(id))
					}
				}
				return nil
			}
		case UIModeDashboard:
			switch {
			case event.Key() == tcell.KeyUp,
				event.Key() == tcell.KeyRune && (event.Rune() == '+' || event.Rune() == '='):
				report(controller.IncreaseTargetPower())
				return nil
			case event.Key() == tcell.KeyDown,
				event.Key() == tcell.KeyRune && event.Rune() == '-':
				report(controller.DecreaseTargetPower())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == 'c':
				report(controller.ApplyTargetPower())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == 'p':
				report(controller.TogglePause())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == 'x':
				report(controller.StopTraining())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == 'r':
				report(controller.ResetTrainer())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == '>':
				report(controller.IncreaseGrade())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == '<':
				report(controller.DecreaseGrade())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == '}':
				report(controller.IncreaseResistance())
				return nil
			case event.Key() == tcell.KeyRune && event.Rune() == '{':
				report(controller.DecreaseResistance())
				return nil
			}
		}
		return event
	})
}

// GetLogViewHeight returns the visible height of the log view
func (ui *TviewRenderer) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

func (ui *TviewRenderer) SetLogLines(lines []string) {
	ui.logView.SetText(strings.Join(lines, "\n"))
}

// SetDeviceRows refreshes every device list, keeping the selection on the
// same device when it is still listed
func (ui *TviewRenderer) SetDeviceRows(rows DeviceRows) {
	for t, list := range ui.deviceLists {
		selectedID, _ := listID(list, list.GetCurrentItem())

		list.Clear()
		selectedIdx := -1
		for i, r := range rows[t] {
			if r.ID == selectedID {
				selectedIdx = i
			}
			list.AddItem(formatDeviceRow(r), r.ID, 0, nil)
		}
		if selectedIdx > -1 {
			list.SetCurrentItem(selectedIdx)
		}
	}
}

// listID reads the device ID stored as an item's secondary text
func listID(list *tview.List, index int) (string, bool) {
	if index < 0 || index >= list.GetItemCount() {
		return "", false
	}
	_, id := list.GetItemText(index)
	return id, id != ""
}

func (ui *TviewRenderer) UpdateLatestData(data MetricData) {
	ui.metricsPanel.SetText(formatMetrics(data))
}

func (ui *TviewRenderer) UpdateTrainerControl(state TrainerControlState) {
	ui.controlsPanel.SetText(formatTrainerControl(state))
}

// Draw refreshes the screen
func (ui *TviewRenderer) Draw() {
	ui.app.Draw()
}

// Run starts the UI and blocks until it exits
func (ui *TviewRenderer) Run() error {
	// SetRoot must come before focus, otherwise focus is reset
	ui.app.SetRoot(ui.mainFlex, true)
	ui.setFocusForCurrentMode()
	return ui.app.Run()
}

// Stop stops the UI framework
func (ui *TviewRenderer) Stop() {
	ui.app.Stop()
}
