package dynamics

// DynamicsAverages is a running mean over every CyclingDynamicsData folded
// into it. It is not safe for concurrent use: one owner updates it in sample
// order.
//
// SampleCount counts every update. Each metric also keeps its own count so a
// sample that omits, say, pedal smoothness does not drag that average toward
// zero.
type DynamicsAverages struct {
	// SampleCount is the number of updates folded in, including samples
	// that carried none of the averaged metrics. It is not the divisor of
	// any Avg field: callers must not rebuild sums as Avg*SampleCount.
	SampleCount uint64

	AvgLeftBalance  float64
	AvgRightBalance float64

	AvgLeftSmoothness     float64
	AvgRightSmoothness    float64
	AvgCombinedSmoothness float64

	AvgLeftTorqueEffectiveness     float64
	AvgRightTorqueEffectiveness    float64
	AvgCombinedTorqueEffectiveness float64

	AvgLeftPowerPhaseArc  float64
	AvgRightPowerPhaseArc float64

	balanceCount    uint64
	smoothnessCount uint64
	torqueCount     uint64
	leftPhaseCount  uint64
	rightPhaseCount uint64
}

// Update folds one sample into the averages using the incremental mean
// avg = (avg*(n-1) + x) / n.
func (a *DynamicsAverages) Update(data *CyclingDynamicsData) {
	if data == nil {
		return
	}
	a.SampleCount++

	if b := data.Balance; b != nil {
		a.balanceCount++
		a.AvgLeftBalance = incrementalMean(a.AvgLeftBalance, b.LeftPercent, a.balanceCount)
		a.AvgRightBalance = incrementalMean(a.AvgRightBalance, b.RightPercent, a.balanceCount)
	}
	if s := data.PedalSmoothness; s != nil {
		a.smoothnessCount++
		a.AvgLeftSmoothness = incrementalMean(a.AvgLeftSmoothness, s.LeftPercent, a.smoothnessCount)
		a.AvgRightSmoothness = incrementalMean(a.AvgRightSmoothness, s.RightPercent, a.smoothnessCount)
		a.AvgCombinedSmoothness = incrementalMean(a.AvgCombinedSmoothness, s.CombinedPercent, a.smoothnessCount)
	}
	if t := data.TorqueEffectiveness; t != nil {
		a.torqueCount++
		a.AvgLeftTorqueEffectiveness = incrementalMean(a.AvgLeftTorqueEffectiveness, t.LeftPercent, a.torqueCount)
		a.AvgRightTorqueEffectiveness = incrementalMean(a.AvgRightTorqueEffectiveness, t.RightPercent, a.torqueCount)
		a.AvgCombinedTorqueEffectiveness = incrementalMean(a.AvgCombinedTorqueEffectiveness, t.CombinedPercent, a.torqueCount)
	}
	if p := data.LeftPowerPhase; p != nil {
		a.leftPhaseCount++
		a.AvgLeftPowerPhaseArc = incrementalMean(a.AvgLeftPowerPhaseArc, p.ArcLength(), a.leftPhaseCount)
	}
	if p := data.RightPowerPhase; p != nil {
		a.rightPhaseCount++
		a.AvgRightPowerPhaseArc = incrementalMean(a.AvgRightPowerPhaseArc, p.ArcLength(), a.rightPhaseCount)
	}
}

// BalanceSamples returns how many updates carried a balance value
func (a *DynamicsAverages) BalanceSamples() uint64 { return a.balanceCount }

func incrementalMean(avg, x float64, n uint64) float64 {
	return (avg*float64(n-1) + x) / float64(n)
}
