package dynamics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromReference_SumsTo100(t *testing.T) {
	for _, v := range []float64{0, 0.5, 25, 33.5, 50, 52, 64.5, 99.5, 100} {
		left := FromReference(v, true)
		assert.Equal(t, 100.0, left.LeftPercent+left.RightPercent, "left reference %v", v)
		assert.Equal(t, v, left.LeftPercent)
		assert.True(t, left.ReferenceIsLeft)

		right := FromReference(v, false)
		assert.Equal(t, 100.0, right.LeftPercent+right.RightPercent, "right reference %v", v)
		assert.Equal(t, v, right.RightPercent)
		assert.False(t, right.ReferenceIsLeft)
	}
}

func TestFromReference_Clamps(t *testing.T) {
	b := FromReference(127, true)
	assert.Equal(t, 100.0, b.LeftPercent)
	assert.Equal(t, 0.0, b.RightPercent)

	b = FromReference(-3, false)
	assert.Equal(t, 0.0, b.RightPercent)
	assert.Equal(t, 100.0, b.LeftPercent)
}

func TestCombinedPercent(t *testing.T) {
	s := NewPedalSmoothness(20, 30)
	assert.Equal(t, 25.0, s.CombinedPercent)

	te := NewTorqueEffectiveness(70, 80)
	assert.Equal(t, 75.0, te.CombinedPercent)
}

func TestPowerPhase_ArcLength(t *testing.T) {
	tests := []struct {
		name       string
		start, end float64
		want       float64
	}{
		{"forward", 10, 190, 180},
		{"zero", 45, 45, 0},
		{"wraps past top dead centre", 350, 170, 180},
		{"wraps to zero", 300, 0, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PowerPhase{StartAngle: tt.start, EndAngle: tt.end}.ArcLength())
		})
	}
}

func TestDynamicsAverages_Balance(t *testing.T) {
	var avg DynamicsAverages
	assert.Equal(t, uint64(0), avg.SampleCount)
	assert.Equal(t, 0.0, avg.AvgLeftBalance)

	b1 := FromReference(52, true)
	b2 := FromReference(50, true)
	avg.Update(&CyclingDynamicsData{Balance: &b1})
	avg.Update(&CyclingDynamicsData{Balance: &b2})

	assert.Equal(t, uint64(2), avg.SampleCount)
	assert.Equal(t, 51.0, avg.AvgLeftBalance)
	assert.Equal(t, 49.0, avg.AvgRightBalance)
	assert.Equal(t, uint64(2), avg.BalanceSamples())
}

func TestDynamicsAverages_AbsentFieldsDoNotSkew(t *testing.T) {
	var avg DynamicsAverages
	s := NewPedalSmoothness(20, 30)
	b := FromReference(50, true)

	avg.Update(&CyclingDynamicsData{PedalSmoothness: &s})
	avg.Update(&CyclingDynamicsData{Balance: &b})

	assert.Equal(t, uint64(2), avg.SampleCount)
	assert.Equal(t, 25.0, avg.AvgCombinedSmoothness)
	assert.Equal(t, 50.0, avg.AvgLeftBalance)
	// the balance mean spans one sample even though two were folded in
	assert.Equal(t, uint64(1), avg.BalanceSamples())
}

func TestDynamicsAverages_PowerPhaseAndTorque(t *testing.T) {
	var avg DynamicsAverages
	te1 := NewTorqueEffectiveness(60, 80)
	te2 := NewTorqueEffectiveness(80, 100)
	avg.Update(&CyclingDynamicsData{
		TorqueEffectiveness: &te1,
		LeftPowerPhase:      &PowerPhase{StartAngle: 350, EndAngle: 170},
	})
	avg.Update(&CyclingDynamicsData{
		TorqueEffectiveness: &te2,
		LeftPowerPhase:      &PowerPhase{StartAngle: 0, EndAngle: 200},
	})

	assert.Equal(t, 70.0, avg.AvgLeftTorqueEffectiveness)
	assert.Equal(t, 90.0, avg.AvgRightTorqueEffectiveness)
	assert.Equal(t, 80.0, avg.AvgCombinedTorqueEffectiveness)
	assert.Equal(t, 190.0, avg.AvgLeftPowerPhaseArc)
	assert.Equal(t, 0.0, avg.AvgRightPowerPhaseArc)
}

func TestDynamicsAverages_NilIgnored(t *testing.T) {
	var avg DynamicsAverages
	avg.Update(nil)
	assert.Equal(t, uint64(0), avg.SampleCount)
	assert.True(t, CyclingDynamicsData{}.IsEmpty())
}
