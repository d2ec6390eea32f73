// Package dynamics holds the per-pedal-stroke metrics reported by dual sided
// power meters and the running averages folded from them over a ride.
package dynamics

// LeftRightBalance is the split of total power between the two legs.
// LeftPercent + RightPercent is always 100.
type LeftRightBalance struct {
	LeftPercent     float64
	RightPercent    float64
	ReferenceIsLeft bool
}

// FromReference builds a balance from the single percentage a sensor reports
// for its reference pedal. Values outside 0..100 are clamped.
func FromReference(value float64, referenceIsLeft bool) LeftRightBalance {
	if value < 0 {
		value = 0
	} else if value > 100 {
		value = 100
	}
	if referenceIsLeft {
		return LeftRightBalance{LeftPercent: value, RightPercent: 100 - value, ReferenceIsLeft: true}
	}
	return LeftRightBalance{LeftPercent: 100 - value, RightPercent: value}
}

// PedalSmoothness is the ratio of average to peak power per pedal stroke
type PedalSmoothness struct {
	LeftPercent     float64
	RightPercent    float64
	CombinedPercent float64
}

func NewPedalSmoothness(left, right float64) PedalSmoothness {
	return PedalSmoothness{LeftPercent: left, RightPercent: right, CombinedPercent: (left + right) / 2}
}

// TorqueEffectiveness is the share of each pedal stroke's torque that drives
// the crank forward
type TorqueEffectiveness struct {
	LeftPercent     float64
	RightPercent    float64
	CombinedPercent float64
}

func NewTorqueEffectiveness(left, right float64) TorqueEffectiveness {
	return TorqueEffectiveness{LeftPercent: left, RightPercent: right, CombinedPercent: (left + right) / 2}
}

// PowerPhase is the crank angle range, in degrees, over which positive torque
// is produced
type PowerPhase struct {
	StartAngle float64
	EndAngle   float64

	HasPeakAngle bool
	PeakAngle    float64
}

// ArcLength returns the angular span from StartAngle to EndAngle, wrapping
// through 0 degrees when the phase ends past top dead centre.
func (p PowerPhase) ArcLength() float64 {
	if p.EndAngle >= p.StartAngle {
		return p.EndAngle - p.StartAngle
	}
	return 360 - p.StartAngle + p.EndAngle
}

// CyclingDynamicsData is one sample of dynamics extensions. Nil fields were
// not reported by the sensor.
type CyclingDynamicsData struct {
	Balance             *LeftRightBalance
	PedalSmoothness     *PedalSmoothness
	TorqueEffectiveness *TorqueEffectiveness
	LeftPowerPhase      *PowerPhase
	RightPowerPhase     *PowerPhase
}

// IsEmpty reports whether the sample carries no metric at all
func (d CyclingDynamicsData) IsEmpty() bool {
	return d.Balance == nil && d.PedalSmoothness == nil && d.TorqueEffectiveness == nil &&
		d.LeftPowerPhase == nil && d.RightPowerPhase == nil
}
