package monitor

import (
	"github.com/ProvidenceIT/ride-sensors/internal/ant"
	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/dynamics"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
	"github.com/ProvidenceIT/ride-sensors/internal/telemetry"
)

// ExtractMetrics maps one decoded frame to the metrics it carries. Frames
// with nothing to display, such as control point responses, yield an empty
// map.
func ExtractMetrics(m device.Measurement) MetricData {
	out := make(MetricData)
	switch v := m.(type) {
	case gatt.HeartRateMeasurement:
		out[MetricHeartRate] = float64(v.HeartRateBpm)
	case ant.HeartRatePage:
		out[MetricHeartRate] = float64(v.HeartRateBpm)

	case gatt.CyclingPowerMeasurement:
		out[MetricPower] = float64(v.PowerWatts)
	case ant.PowerPage:
		out[MetricPower] = float64(v.InstantaneousPowerWatts)
		if v.HasCadence {
			out[MetricCadence] = float64(v.CadenceRpm)
		}

	case gatt.IndoorBikeData:
		if kmh, ok := v.SpeedKmh(); ok {
			out[MetricSpeed] = kmh
		}
		if rpm, ok := v.CadenceRpm(); ok {
			out[MetricCadence] = float64(rpm)
		}
		if w, ok := v.PowerWatts(); ok {
			out[MetricPower] = float64(w)
		}
		if v.HasTotalDistance {
			out[MetricDistance] = float64(v.TotalDistanceMeters)
		}
		if v.HasElapsedTime {
			out[MetricElapsedTime] = float64(v.ElapsedTimeSeconds)
		}
		if v.HasHeartRate {
			out[MetricHeartRate] = float64(v.HeartRateBpm)
		}
	case ant.GeneralFEPage:
		out[MetricSpeed] = v.SpeedKmh
		if v.HasHeartRate {
			out[MetricHeartRate] = float64(v.HeartRateBpm)
		}
	case ant.TrainerPage:
		if v.HasPower {
			out[MetricPower] = float64(v.InstantaneousPowerWatts)
		}
		if v.HasCadence {
			out[MetricCadence] = float64(v.CadenceRpm)
		}

	case telemetry.Cadence:
		out[MetricCadence] = v.Rpm
	}
	return out
}

// DynamicsMetrics maps running dynamics averages to metrics. Averages that
// never received a sample are left out.
func DynamicsMetrics(avg dynamics.DynamicsAverages) MetricData {
	out := make(MetricData)
	if avg.BalanceSamples() > 0 {
		out[MetricLeftBalance] = avg.AvgLeftBalance
		out[MetricRightBalance] = avg.AvgRightBalance
	}
	if avg.AvgCombinedTorqueEffectiveness > 0 {
		out[MetricTorqueEffectiveness] = avg.AvgCombinedTorqueEffectiveness
	}
	if avg.AvgCombinedSmoothness > 0 {
		out[MetricPedalSmoothness] = avg.AvgCombinedSmoothness
	}
	if avg.AvgLeftPowerPhaseArc > 0 {
		out[MetricLeftPowerPhase] = avg.AvgLeftPowerPhaseArc
	}
	if avg.AvgRightPowerPhaseArc > 0 {
		out[MetricRightPowerPhase] = avg.AvgRightPowerPhaseArc
	}
	return out
}
