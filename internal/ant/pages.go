package ant

import (
	"encoding/binary"
	"math"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/dynamics"
)

// ANT+ data page numbers
const (
	PageGeneralFEData        byte = 0x10 // fitness equipment
	PageStandardPower        byte = 0x10 // bicycle power
	PageTorqueEffectiveness  byte = 0x13
	PageTrainerSpecific      byte = 0x19
	PageTargetPower          byte = 0x31
	invalidByte              byte = 0xFF
	combinedSmoothnessMarker byte = 0xFE
	pageNumberMask           byte = 0x7F // HRM pages carry a toggle bit in bit 7
)

// HeartRatePage is the common part of every ANT+ heart rate page
type HeartRatePage struct {
	PageNumber   byte
	BeatTime     uint16 // 1/1024 s
	BeatCount    uint8
	HeartRateBpm uint8
}

func (HeartRatePage) MeasurementKind() string { return "ant_heart_rate" }

// PowerPage is the standard power-only page (0x10)
type PowerPage struct {
	EventCount uint8

	HasBalance             bool
	BalancePercent         float64
	BalanceReferenceKnown  bool
	BalanceReferenceIsLeft bool

	HasCadence              bool
	CadenceRpm              uint8
	AccumulatedPower        uint16
	InstantaneousPowerWatts uint16
}

func (PowerPage) MeasurementKind() string { return "ant_power" }

// Balance returns the pedal power split when the sensor reported one. A
// percentage without a known reference side counts as the left pedal's
// share, the same as gatt.CyclingPowerMeasurement.Balance.
func (p PowerPage) Balance() (dynamics.LeftRightBalance, bool) {
	if !p.HasBalance {
		return dynamics.LeftRightBalance{}, false
	}
	return dynamics.FromReference(p.BalancePercent, p.BalanceReferenceIsLeft), true
}

// TorqueEffectivenessPage is page 0x13, torque effectiveness and pedal
// smoothness per leg at 0.5% resolution
type TorqueEffectivenessPage struct {
	EventCount uint8

	HasTorqueEffectiveness   bool
	LeftTorqueEffectiveness  float64
	RightTorqueEffectiveness float64

	HasPedalSmoothness   bool
	CombinedSmoothness   bool // single sensor for both pedals, reported in Left
	LeftPedalSmoothness  float64
	RightPedalSmoothness float64
}

func (TorqueEffectivenessPage) MeasurementKind() string { return "ant_torque_effectiveness" }

// Dynamics converts the page to a dynamics sample
func (p TorqueEffectivenessPage) Dynamics() (dynamics.CyclingDynamicsData, bool) {
	var d dynamics.CyclingDynamicsData
	if p.HasTorqueEffectiveness {
		te := dynamics.NewTorqueEffectiveness(p.LeftTorqueEffectiveness, p.RightTorqueEffectiveness)
		d.TorqueEffectiveness = &te
	}
	if p.HasPedalSmoothness {
		var ps dynamics.PedalSmoothness
		if p.CombinedSmoothness {
			ps = dynamics.PedalSmoothness{
				LeftPercent:     p.LeftPedalSmoothness,
				RightPercent:    p.LeftPedalSmoothness,
				CombinedPercent: p.LeftPedalSmoothness,
			}
		} else {
			ps = dynamics.NewPedalSmoothness(p.LeftPedalSmoothness, p.RightPedalSmoothness)
		}
		d.PedalSmoothness = &ps
	}
	return d, !d.IsEmpty()
}

// SpeedCadencePage is the combined bike speed and cadence message
type SpeedCadencePage struct {
	CadenceEventTime uint16 // 1/1024 s
	CrankRevolutions uint16
	SpeedEventTime   uint16 // 1/1024 s
	WheelRevolutions uint16
}

func (SpeedCadencePage) MeasurementKind() string { return "ant_speed_cadence" }

// GeneralFEPage is FE-C page 0x10
type GeneralFEPage struct {
	EquipmentType  uint8
	ElapsedTime    float64 // seconds, rolls over at 64 s
	DistanceMeters uint8   // rolls over at 256 m
	SpeedKmh       float64
	HasHeartRate   bool
	HeartRateBpm   uint8
}

func (GeneralFEPage) MeasurementKind() string { return "ant_fe_general" }

// TrainerPage is FE-C page 0x19
type TrainerPage struct {
	EventCount              uint8
	HasCadence              bool
	CadenceRpm              uint8
	AccumulatedPower        uint16
	HasPower                bool
	InstantaneousPowerWatts uint16 // 12 bit
}

func (TrainerPage) MeasurementKind() string { return "ant_fe_trainer" }

// DecodeDataPage decodes an 8-byte broadcast payload according to the
// profile of the channel it arrived on. Unknown pages yield false.
func DecodeDataPage(t device.DeviceType, data [8]byte) (device.Measurement, bool) {
	switch t {
	case device.DeviceTypeHeartRate:
		return decodeHeartRatePage(data), true
	case device.DeviceTypePower:
		switch data[0] {
		case PageStandardPower:
			return decodePowerPage(data), true
		case PageTorqueEffectiveness:
			return decodeTorqueEffectivenessPage(data), true
		}
	case device.DeviceTypeSpeedCadence:
		return SpeedCadencePage{
			CadenceEventTime: binary.LittleEndian.Uint16(data[0:2]),
			CrankRevolutions: binary.LittleEndian.Uint16(data[2:4]),
			SpeedEventTime:   binary.LittleEndian.Uint16(data[4:6]),
			WheelRevolutions: binary.LittleEndian.Uint16(data[6:8]),
		}, true
	case device.DeviceTypeFitnessEquipment:
		switch data[0] {
		case PageGeneralFEData:
			return decodeGeneralFEPage(data), true
		case PageTrainerSpecific:
			return decodeTrainerPage(data), true
		}
	}
	return nil, false
}

func decodeHeartRatePage(data [8]byte) HeartRatePage {
	return HeartRatePage{
		PageNumber:   data[0] & pageNumberMask,
		BeatTime:     binary.LittleEndian.Uint16(data[4:6]),
		BeatCount:    data[6],
		HeartRateBpm: data[7],
	}
}

func decodePowerPage(data [8]byte) PowerPage {
	p := PowerPage{
		EventCount:              data[1],
		AccumulatedPower:        binary.LittleEndian.Uint16(data[4:6]),
		InstantaneousPowerWatts: binary.LittleEndian.Uint16(data[6:8]),
	}
	// bit 7 set: the percentage is the right pedal's share. Clear means
	// the side is unknown and it is read as the left pedal's share.
	if data[2] != invalidByte {
		p.HasBalance = true
		p.BalancePercent = float64(data[2] & 0x7F)
		p.BalanceReferenceKnown = data[2]&0x80 != 0
		p.BalanceReferenceIsLeft = !p.BalanceReferenceKnown
	}
	if data[3] != invalidByte {
		p.HasCadence = true
		p.CadenceRpm = data[3]
	}
	return p
}

func decodeTorqueEffectivenessPage(data [8]byte) TorqueEffectivenessPage {
	p := TorqueEffectivenessPage{EventCount: data[1]}
	if data[2] != invalidByte && data[3] != invalidByte {
		p.HasTorqueEffectiveness = true
		p.LeftTorqueEffectiveness = float64(data[2]) / 2
		p.RightTorqueEffectiveness = float64(data[3]) / 2
	}
	if data[4] != invalidByte {
		switch data[5] {
		case combinedSmoothnessMarker:
			p.HasPedalSmoothness = true
			p.CombinedSmoothness = true
			p.LeftPedalSmoothness = float64(data[4]) / 2
		case invalidByte:
		default:
			p.HasPedalSmoothness = true
			p.LeftPedalSmoothness = float64(data[4]) / 2
			p.RightPedalSmoothness = float64(data[5]) / 2
		}
	}
	return p
}

func decodeGeneralFEPage(data [8]byte) GeneralFEPage {
	p := GeneralFEPage{
		EquipmentType:  data[1] & 0x1F,
		ElapsedTime:    float64(data[2]) * 0.25,
		DistanceMeters: data[3],
		// 0.001 m/s
		SpeedKmh: float64(binary.LittleEndian.Uint16(data[4:6])) * 0.0036,
	}
	if data[6] != invalidByte {
		p.HasHeartRate = true
		p.HeartRateBpm = data[6]
	}
	return p
}

func decodeTrainerPage(data [8]byte) TrainerPage {
	p := TrainerPage{
		EventCount:       data[1],
		AccumulatedPower: binary.LittleEndian.Uint16(data[3:5]),
	}
	if data[2] != invalidByte {
		p.HasCadence = true
		p.CadenceRpm = data[2]
	}
	// 12 bit power: byte 5 and the low nibble of byte 6
	raw := binary.LittleEndian.Uint16(data[5:7]) & 0x0FFF
	if raw != 0x0FFF {
		p.HasPower = true
		p.InstantaneousPowerWatts = raw
	}
	return p
}

// EncodeTargetPower builds the FE-C page 49 acknowledged message that sets
// an ERG target on a fitness equipment channel, 0.25 W resolution
func EncodeTargetPower(channel uint8, watts float64) []byte {
	raw := uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(watts*4))))
	payload := []byte{channel, PageTargetPower, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	payload = binary.LittleEndian.AppendUint16(payload, raw)
	return EncodeMessage(MsgIDAcknowledgedData, payload...)
}
