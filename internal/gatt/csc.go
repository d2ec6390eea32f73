package gatt

import "sync"

const (
	cscFlagWheelRevolutionData = 1 << 0
	cscFlagCrankRevolutionData = 1 << 1
)

// CSCMeasurement holds the cumulative counters of a Cycling Speed and Cadence
// Measurement. Cadence and speed have to be derived from two consecutive
// measurements, see CrankCadence.
type CSCMeasurement struct {
	HasWheelRevolutions bool
	WheelRevolutions    uint32
	LastWheelEventTime  uint16 // 1/1024 s

	HasCrankRevolutions bool
	CrankRevolutions    uint16
	LastCrankEventTime  uint16 // 1/1024 s
}

func (CSCMeasurement) MeasurementKind() string { return string(StreamCSC) }

// ParseCSCMeasurement decodes a CSC Measurement notification.
// See: https://www.bluetooth.com/specifications/specs/cycling-speed-and-cadence-service-1-0/
func ParseCSCMeasurement(buf []byte) (CSCMeasurement, bool) {
	r := newFrameReader(buf)
	flags, _ := r.u8()

	var m CSCMeasurement
	if flags&cscFlagWheelRevolutionData != 0 {
		m.HasWheelRevolutions = true
		m.WheelRevolutions, _ = r.u32()
		m.LastWheelEventTime, _ = r.u16()
	}
	if flags&cscFlagCrankRevolutionData != 0 {
		m.HasCrankRevolutions = true
		m.CrankRevolutions, _ = r.u16()
		m.LastCrankEventTime, _ = r.u16()
	}
	if !r.ok() {
		return CSCMeasurement{}, false
	}
	return m, true
}

// maxPlausibleCadence bounds derived cadence, readings above it are dropped
const maxPlausibleCadence = 300.0

// CrankCadence derives cadence from consecutive cumulative crank readings of a
// single sensor. It is safe for concurrent use.
type CrankCadence struct {
	mu          sync.Mutex
	lastRevs    uint16
	lastTime    uint16
	hasPrevious bool
}

// Update feeds one crank reading (revolutions, event time in 1/1024 s) and
// returns the cadence since the previous reading. The first reading, a
// repeated event time, or an implausible result return false.
func (c *CrankCadence) Update(revolutions, eventTime uint16) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasPrevious {
		c.lastRevs = revolutions
		c.lastTime = eventTime
		c.hasPrevious = true
		return 0, false
	}

	// uint16 subtraction handles counter rollover
	revDiff := revolutions - c.lastRevs
	timeDiff := eventTime - c.lastTime
	c.lastRevs = revolutions
	c.lastTime = eventTime

	if timeDiff == 0 {
		return 0, false
	}

	// revolutions * 60 s / (timeDiff / 1024 s)
	cadence := float64(revDiff) * 60.0 * 1024.0 / float64(timeDiff)
	if cadence > maxPlausibleCadence {
		return 0, false
	}
	return cadence, true
}

// Reset forgets the previous reading
func (c *CrankCadence) Reset() {
	c.mu.Lock()
	c.hasPrevious = false
	c.mu.Unlock()
}
