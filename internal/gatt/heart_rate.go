package gatt

import "time"

// Heart Rate Measurement flag bits
const (
	hrFlagUint16           = 1 << 0
	hrFlagContactDetected  = 1 << 1
	hrFlagContactSupported = 1 << 2
	hrFlagEnergyExpended   = 1 << 3
	hrFlagRRIntervals      = 1 << 4
)

// HeartRateMeasurement holds the fields of the Heart Rate Measurement
// characteristic
type HeartRateMeasurement struct {
	HeartRateBpm uint16

	// SensorContact is true only when contact is both supported and detected
	SensorContact     bool
	ContactSupported  bool
	HasEnergyExpended bool
	EnergyExpendedKJ  uint16
	RRIntervals       []time.Duration
}

func (HeartRateMeasurement) MeasurementKind() string { return string(StreamHeartRate) }

// ParseHeartRateMeasurement decodes a Heart Rate Measurement notification.
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func ParseHeartRateMeasurement(buf []byte) (HeartRateMeasurement, bool) {
	r := newFrameReader(buf)
	flags, _ := r.u8()

	var m HeartRateMeasurement
	if flags&hrFlagUint16 != 0 {
		m.HeartRateBpm, _ = r.u16()
	} else {
		v, _ := r.u8()
		m.HeartRateBpm = uint16(v)
	}
	m.ContactSupported = flags&hrFlagContactSupported != 0
	m.SensorContact = m.ContactSupported && flags&hrFlagContactDetected != 0

	if flags&hrFlagEnergyExpended != 0 {
		m.HasEnergyExpended = true
		m.EnergyExpendedKJ, _ = r.u16()
	}
	if !r.ok() {
		return HeartRateMeasurement{}, false
	}

	// RR intervals fill the rest of the frame, 1/1024 s each. A trailing odd
	// byte is ignored.
	if flags&hrFlagRRIntervals != 0 {
		for r.remaining() >= 2 {
			v, _ := r.u16()
			m.RRIntervals = append(m.RRIntervals, time.Duration(v)*time.Second/1024)
		}
	}
	return m, true
}
