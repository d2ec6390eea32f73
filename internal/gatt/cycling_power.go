package gatt

import "github.com/ProvidenceIT/ride-sensors/internal/dynamics"

// Cycling Power Measurement flag bit positions (CPS 1.1)
const (
	cpFlagPedalPowerBalance          = 1 << 0
	cpFlagPedalPowerBalanceReference = 1 << 1 // 1 = left
	cpFlagAccumulatedTorque          = 1 << 2
	cpFlagAccumulatedTorqueSource    = 1 << 3 // 1 = crank based
	cpFlagWheelRevolutionData        = 1 << 4
	cpFlagCrankRevolutionData        = 1 << 5
	cpFlagExtremeForceMagnitudes     = 1 << 6
	cpFlagExtremeTorqueMagnitudes    = 1 << 7
	cpFlagExtremeAngles              = 1 << 8
	cpFlagTopDeadSpotAngle           = 1 << 9
	cpFlagBottomDeadSpotAngle        = 1 << 10
	cpFlagAccumulatedEnergy          = 1 << 11
	cpFlagOffsetCompensation         = 1 << 12
)

// CyclingPowerMeasurement holds the fields of the Cycling Power Measurement
// characteristic. PowerWatts is always present and may be negative.
type CyclingPowerMeasurement struct {
	PowerWatts int16

	HasPowerBalance          bool
	PowerBalancePercent      float64 // 0.5% resolution, share of the reference pedal
	BalanceReferenceKnown    bool
	BalanceReferenceIsLeft   bool
	HasAccumulatedTorque     bool
	AccumulatedTorqueNm      float64 // 1/32 Nm resolution
	TorqueSourceIsCrank      bool
	HasWheelRevolutions      bool
	WheelRevolutions         uint32
	LastWheelEventTime       uint16 // 1/2048 s
	HasCrankRevolutions      bool
	CrankRevolutions         uint16
	LastCrankEventTime       uint16 // 1/1024 s
	HasExtremeForces         bool
	MaxForceNewtons          int16
	MinForceNewtons          int16
	HasExtremeTorques        bool
	MaxTorqueNm              float64 // 1/32 Nm
	MinTorqueNm              float64
	HasExtremeAngles         bool
	MaxForceAngleDegrees     uint16 // 12 bit
	MinForceAngleDegrees     uint16 // 12 bit
	HasTopDeadSpotAngle      bool
	TopDeadSpotAngleDegrees  uint16
	HasBottomDeadSpotAngle   bool
	BottomDeadSpotAngleDeg   uint16
	HasAccumulatedEnergy     bool
	AccumulatedEnergyKJ      uint16
	OffsetCompensationNeeded bool
}

func (CyclingPowerMeasurement) MeasurementKind() string { return string(StreamCyclingPower) }

// ParseCyclingPowerMeasurement decodes a Cycling Power Measurement
// notification. Power is accepted as reported, negative values included.
// See: https://www.bluetooth.com/specifications/specs/cycling-power-service-1-1/
func ParseCyclingPowerMeasurement(buf []byte) (CyclingPowerMeasurement, bool) {
	r := newFrameReader(buf)
	flags, _ := r.u16()
	power, ok := r.s16()
	if !ok {
		return CyclingPowerMeasurement{}, false
	}

	m := CyclingPowerMeasurement{PowerWatts: power}

	if flags&cpFlagPedalPowerBalance != 0 {
		v, _ := r.u8()
		m.HasPowerBalance = true
		m.PowerBalancePercent = float64(v) / 2
		// the flag only ever names the left pedal; an unset flag leaves the
		// side unknown and the value is read as the left pedal's share
		m.BalanceReferenceKnown = flags&cpFlagPedalPowerBalanceReference != 0
		m.BalanceReferenceIsLeft = true
	}
	if flags&cpFlagAccumulatedTorque != 0 {
		v, _ := r.u16()
		m.HasAccumulatedTorque = true
		m.AccumulatedTorqueNm = float64(v) / 32
		m.TorqueSourceIsCrank = flags&cpFlagAccumulatedTorqueSource != 0
	}
	if flags&cpFlagWheelRevolutionData != 0 {
		m.HasWheelRevolutions = true
		m.WheelRevolutions, _ = r.u32()
		m.LastWheelEventTime, _ = r.u16()
	}
	if flags&cpFlagCrankRevolutionData != 0 {
		m.HasCrankRevolutions = true
		m.CrankRevolutions, _ = r.u16()
		m.LastCrankEventTime, _ = r.u16()
	}
	if flags&cpFlagExtremeForceMagnitudes != 0 {
		m.HasExtremeForces = true
		m.MaxForceNewtons, _ = r.s16()
		m.MinForceNewtons, _ = r.s16()
	}
	if flags&cpFlagExtremeTorqueMagnitudes != 0 {
		maxT, _ := r.s16()
		minT, _ := r.s16()
		m.HasExtremeTorques = true
		m.MaxTorqueNm = float64(maxT) / 32
		m.MinTorqueNm = float64(minT) / 32
	}
	if flags&cpFlagExtremeAngles != 0 {
		// two 12 bit angles packed into 3 bytes, maximum first
		packed, _ := r.u24()
		m.HasExtremeAngles = true
		m.MaxForceAngleDegrees = uint16(packed & 0x0FFF)
		m.MinForceAngleDegrees = uint16(packed >> 12)
	}
	if flags&cpFlagTopDeadSpotAngle != 0 {
		m.HasTopDeadSpotAngle = true
		m.TopDeadSpotAngleDegrees, _ = r.u16()
	}
	if flags&cpFlagBottomDeadSpotAngle != 0 {
		m.HasBottomDeadSpotAngle = true
		m.BottomDeadSpotAngleDeg, _ = r.u16()
	}
	if flags&cpFlagAccumulatedEnergy != 0 {
		m.HasAccumulatedEnergy = true
		m.AccumulatedEnergyKJ, _ = r.u16()
	}
	m.OffsetCompensationNeeded = flags&cpFlagOffsetCompensation != 0

	if !r.ok() {
		return CyclingPowerMeasurement{}, false
	}
	return m, true
}

// Balance returns the left/right split when the sensor reported one. A
// percentage without a known reference side counts as the left pedal's
// share, the same as ant.PowerPage.Balance.
func (m CyclingPowerMeasurement) Balance() (dynamics.LeftRightBalance, bool) {
	if !m.HasPowerBalance {
		return dynamics.LeftRightBalance{}, false
	}
	return dynamics.FromReference(m.PowerBalancePercent, m.BalanceReferenceIsLeft), true
}

// Dynamics extracts the cycling dynamics carried by the measurement. The
// power phase spans top to bottom dead spot and is attributed to the left
// pedal, the only reference side the measurement can name.
func (m CyclingPowerMeasurement) Dynamics() (dynamics.CyclingDynamicsData, bool) {
	var d dynamics.CyclingDynamicsData
	if b, ok := m.Balance(); ok {
		d.Balance = &b
	}
	if m.HasTopDeadSpotAngle && m.HasBottomDeadSpotAngle {
		phase := &dynamics.PowerPhase{
			StartAngle: float64(m.TopDeadSpotAngleDegrees),
			EndAngle:   float64(m.BottomDeadSpotAngleDeg),
		}
		if m.HasExtremeAngles {
			phase.HasPeakAngle = true
			phase.PeakAngle = float64(m.MaxForceAngleDegrees)
		}
		d.LeftPowerPhase = phase
	}
	return d, !d.IsEmpty()
}
