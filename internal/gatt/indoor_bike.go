package gatt

// IndoorBikeData holds all fields from the FTMS Indoor Bike Data characteristic
type IndoorBikeData struct {
	// Present flags
	HasInstantaneousSpeed   bool
	HasAverageSpeed         bool
	HasInstantaneousCadence bool
	HasAverageCadence       bool
	HasTotalDistance        bool
	HasResistanceLevel      bool
	HasInstantaneousPower   bool
	HasAveragePower         bool
	HasExpendedEnergy       bool
	HasHeartRate            bool
	HasMetabolicEquivalent  bool
	HasElapsedTime          bool
	HasRemainingTime        bool

	// Data fields (scaled to human-readable units)
	InstantaneousSpeedKmh   float64 // km/h
	AverageSpeedKmh         float64 // km/h
	InstantaneousCadenceRpm uint16  // rpm, raw value halved
	AverageCadenceRpm       uint16  // rpm, raw value halved
	TotalDistanceMeters     uint32
	ResistanceLevel         int16
	InstantaneousPowerWatts int16
	AveragePowerWatts       int16
	TotalEnergyKJ           uint16
	EnergyPerHourKJ         uint16
	EnergyPerMinuteKJ       uint8
	HeartRateBpm            uint8
	MetabolicEquivalent     float64
	ElapsedTimeSeconds      uint16
	RemainingTimeSeconds    uint16
}

func (IndoorBikeData) MeasurementKind() string { return string(StreamIndoorBikeData) }

// Indoor Bike Data flag bit positions (FTMS 1.0)
const (
	ibdFlagMoreData             = 1 << 0 // 0 = Instantaneous Speed present
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
	ibdFlagExpendedEnergy       = 1 << 8
	ibdFlagHeartRate            = 1 << 9
	ibdFlagMetabolicEquivalent  = 1 << 10
	ibdFlagElapsedTime          = 1 << 11
	ibdFlagRemainingTime        = 1 << 12
)

// ParseIndoorBikeData decodes an FTMS Indoor Bike Data notification.
// Fields follow the flags in bit order. A buffer too short for any flagged
// field yields false.
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
func ParseIndoorBikeData(buf []byte) (IndoorBikeData, bool) {
	r := newFrameReader(buf)
	flags, ok := r.u16()
	if !ok {
		return IndoorBikeData{}, false
	}

	var data IndoorBikeData
	data.HasInstantaneousSpeed = flags&ibdFlagMoreData == 0
	data.HasAverageSpeed = flags&ibdFlagAverageSpeed != 0
	data.HasInstantaneousCadence = flags&ibdFlagInstantaneousCadence != 0
	data.HasAverageCadence = flags&ibdFlagAverageCadence != 0
	data.HasTotalDistance = flags&ibdFlagTotalDistance != 0
	data.HasResistanceLevel = flags&ibdFlagResistanceLevel != 0
	data.HasInstantaneousPower = flags&ibdFlagInstantaneousPower != 0
	data.HasAveragePower = flags&ibdFlagAveragePower != 0
	data.HasExpendedEnergy = flags&ibdFlagExpendedEnergy != 0
	data.HasHeartRate = flags&ibdFlagHeartRate != 0
	data.HasMetabolicEquivalent = flags&ibdFlagMetabolicEquivalent != 0
	data.HasElapsedTime = flags&ibdFlagElapsedTime != 0
	data.HasRemainingTime = flags&ibdFlagRemainingTime != 0

	// 0.01 km/h
	if data.HasInstantaneousSpeed {
		v, _ := r.u16()
		data.InstantaneousSpeedKmh = float64(v) * 0.01
	}
	if data.HasAverageSpeed {
		v, _ := r.u16()
		data.AverageSpeedKmh = float64(v) * 0.01
	}
	// 0.5 rpm
	if data.HasInstantaneousCadence {
		v, _ := r.u16()
		data.InstantaneousCadenceRpm = v / 2
	}
	if data.HasAverageCadence {
		v, _ := r.u16()
		data.AverageCadenceRpm = v / 2
	}
	if data.HasTotalDistance {
		data.TotalDistanceMeters, _ = r.u24()
	}
	if data.HasResistanceLevel {
		data.ResistanceLevel, _ = r.s16()
	}
	if data.HasInstantaneousPower {
		data.InstantaneousPowerWatts, _ = r.s16()
	}
	if data.HasAveragePower {
		data.AveragePowerWatts, _ = r.s16()
	}
	if data.HasExpendedEnergy {
		data.TotalEnergyKJ, _ = r.u16()
		data.EnergyPerHourKJ, _ = r.u16()
		data.EnergyPerMinuteKJ, _ = r.u8()
	}
	if data.HasHeartRate {
		data.HeartRateBpm, _ = r.u8()
	}
	// 0.1 MET
	if data.HasMetabolicEquivalent {
		v, _ := r.u8()
		data.MetabolicEquivalent = float64(v) * 0.1
	}
	if data.HasElapsedTime {
		data.ElapsedTimeSeconds, _ = r.u16()
	}
	if data.HasRemainingTime {
		data.RemainingTimeSeconds, _ = r.u16()
	}

	if !r.ok() {
		return IndoorBikeData{}, false
	}
	return data, true
}

// SpeedKmh returns the instantaneous speed if present
func (d IndoorBikeData) SpeedKmh() (float64, bool) {
	return d.InstantaneousSpeedKmh, d.HasInstantaneousSpeed
}

// CadenceRpm returns the instantaneous cadence if present
func (d IndoorBikeData) CadenceRpm() (uint16, bool) {
	return d.InstantaneousCadenceRpm, d.HasInstantaneousCadence
}

// PowerWatts returns the instantaneous power if present
func (d IndoorBikeData) PowerWatts() (int16, bool) {
	return d.InstantaneousPowerWatts, d.HasInstantaneousPower
}
