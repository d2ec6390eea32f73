package monitor

import "fmt"

// UIMode represents the current UI mode/screen
type UIMode int

const (
	UIModeDevices   UIMode = iota // Discovered sensors per device type
	UIModeDashboard               // Live metrics, dynamics and trainer control
)

// UIModeInfo contains display information for a UI mode
type UIModeInfo struct {
	Mode        UIMode
	DisplayName string
	KeyBinding  rune // The number key to activate this mode
}

// AllUIModes defines all available UI modes in order
var AllUIModes = []UIModeInfo{
	{Mode: UIModeDevices, DisplayName: "Devices", KeyBinding: '1'},
	{Mode: UIModeDashboard, DisplayName: "Dashboard", KeyBinding: '2'},
}

// GetUIModeByKey returns the mode for a given key binding
func GetUIModeByKey(key rune) (UIMode, bool) {
	for _, info := range AllUIModes {
		if info.KeyBinding == key {
			return info.Mode, true
		}
	}
	return 0, false
}

// GetUIModeInfo returns the info for a given mode
func GetUIModeInfo(mode UIMode) (UIModeInfo, bool) {
	for _, info := range AllUIModes {
		if info.Mode == mode {
			return info, true
		}
	}
	return UIModeInfo{}, false
}

// MetricID identifies a displayable value
type MetricID string

const (
	MetricHeartRate           MetricID = "heart_rate"
	MetricPower               MetricID = "power"
	MetricCadence             MetricID = "cadence"
	MetricSpeed               MetricID = "speed"
	MetricDistance            MetricID = "distance"
	MetricElapsedTime         MetricID = "elapsed_time"
	MetricLeftBalance         MetricID = "left_balance"
	MetricRightBalance        MetricID = "right_balance"
	MetricTorqueEffectiveness MetricID = "torque_effectiveness"
	MetricPedalSmoothness     MetricID = "pedal_smoothness"
	MetricLeftPowerPhase      MetricID = "left_power_phase"
	MetricRightPowerPhase     MetricID = "right_power_phase"
)

// MetricInfo contains display information for a metric
type MetricInfo struct {
	ID          MetricID
	DisplayName string
	Unit        string
	FormatStr   string
}

// Format renders v with the metric's precision and unit
func (info MetricInfo) Format(v float64) string {
	s := fmt.Sprintf(info.FormatStr, v)
	if info.Unit == "" {
		return s
	}
	return s + " " + info.Unit
}

// AllMetrics lists every metric in display order. The first six are live
// values, the rest are cycling-dynamics averages.
var AllMetrics = []MetricInfo{
	{ID: MetricHeartRate, DisplayName: "Heart Rate", Unit: "bpm", FormatStr: "%.0f"},
	{ID: MetricPower, DisplayName: "Power", Unit: "W", FormatStr: "%.0f"},
	{ID: MetricCadence, DisplayName: "Cadence", Unit: "rpm", FormatStr: "%.0f"},
	{ID: MetricSpeed, DisplayName: "Speed", Unit: "km/h", FormatStr: "%.1f"},
	{ID: MetricDistance, DisplayName: "Distance", Unit: "m", FormatStr: "%.0f"},
	{ID: MetricElapsedTime, DisplayName: "Elapsed", Unit: "s", FormatStr: "%.0f"},
	{ID: MetricLeftBalance, DisplayName: "Balance L", Unit: "%", FormatStr: "%.1f"},
	{ID: MetricRightBalance, DisplayName: "Balance R", Unit: "%", FormatStr: "%.1f"},
	{ID: MetricTorqueEffectiveness, DisplayName: "Torque Eff.", Unit: "%", FormatStr: "%.1f"},
	{ID: MetricPedalSmoothness, DisplayName: "Smoothness", Unit: "%", FormatStr: "%.1f"},
	{ID: MetricLeftPowerPhase, DisplayName: "Phase Arc L", Unit: "deg", FormatStr: "%.0f"},
	{ID: MetricRightPowerPhase, DisplayName: "Phase Arc R", Unit: "deg", FormatStr: "%.0f"},
}

// GetMetricInfo returns the metadata for a given metric ID
func GetMetricInfo(id MetricID) (MetricInfo, bool) {
	for _, info := range AllMetrics {
		if info.ID == id {
			return info, true
		}
	}
	return MetricInfo{}, false
}

// MetricData holds the most recent value for each metric
type MetricData map[MetricID]float64

// ControlMode is the resistance mode last accepted by the trainer
type ControlMode string

const (
	ControlModeERG        ControlMode = "ERG"
	ControlModeSimulation ControlMode = "SIM"
	ControlModeResistance ControlMode = "Resistance"
)

// TrainerControlState holds the current state of trainer control
type TrainerControlState struct {
	DeviceID         string // Open trainer, empty if none
	Mode             ControlMode
	TargetPowerWatts int
	GradePercent     float64
	ResistanceLevel  float64
	ControlAcquired  bool // A command has been accepted by the trainer
	Paused           bool
}

// Default power adjustment step in watts
const DefaultPowerStepWatts = 10

// Simulation and resistance steps and limits
const (
	DefaultGradeStepPercent = 0.5
	MinGradePercent         = -20.0
	MaxGradePercent         = 20.0

	DefaultResistanceStep = 5.0
	MinResistanceLevel    = 0.0
	MaxResistanceLevel    = 100.0
)

// Power limits
const (
	MinTargetPowerWatts     = 25
	MaxTargetPowerWatts     = 2000
	DefaultTargetPowerWatts = 100
)
