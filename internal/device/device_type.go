package device

import (
	"github.com/muktihari/fit/profile/typedef"

	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
)

// DeviceType is the closed set of sensor kinds this module understands
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeHeartRate
	DeviceTypePower
	DeviceTypeSpeedCadence
	DeviceTypeFitnessEquipment
)

// ANT+ channel periods in 1/32768 s ticks
const (
	ChannelPeriodHeartRate        uint16 = 8070
	ChannelPeriodPower            uint16 = 8182
	ChannelPeriodSpeedCadence     uint16 = 8086
	ChannelPeriodFitnessEquipment uint16 = 8192
)

// DeviceTypeInfo is the per-type metadata row: display name, ANT+ profile
// number and radio period, and the BLE service advertising the type
type DeviceTypeInfo struct {
	Type          DeviceType
	DisplayName   string
	ANTDeviceType typedef.AntplusDeviceType
	ChannelPeriod uint16
	ServiceUUID   string
}

// deviceTypeTable is read-only after init
var deviceTypeTable = []DeviceTypeInfo{
	{
		Type:          DeviceTypeHeartRate,
		DisplayName:   "Heart Rate",
		ANTDeviceType: typedef.AntplusDeviceTypeHeartRate,
		ChannelPeriod: ChannelPeriodHeartRate,
		ServiceUUID:   gatt.ServiceUUIDHeartRate,
	},
	{
		Type:          DeviceTypePower,
		DisplayName:   "Power Meter",
		ANTDeviceType: typedef.AntplusDeviceTypeBikePower,
		ChannelPeriod: ChannelPeriodPower,
		ServiceUUID:   gatt.ServiceUUIDCyclingPower,
	},
	{
		Type:          DeviceTypeSpeedCadence,
		DisplayName:   "Speed/Cadence",
		ANTDeviceType: typedef.AntplusDeviceTypeBikeSpeedCadence,
		ChannelPeriod: ChannelPeriodSpeedCadence,
		ServiceUUID:   gatt.ServiceUUIDCyclingSpeedCadence,
	},
	{
		Type:          DeviceTypeFitnessEquipment,
		DisplayName:   "Smart Trainer",
		ANTDeviceType: typedef.AntplusDeviceTypeFitnessEquipment,
		ChannelPeriod: ChannelPeriodFitnessEquipment,
		ServiceUUID:   gatt.ServiceUUIDFTMS,
	},
}

// fallbackDeviceType answers for anything not in the table. ANT device type
// 0 is the search wildcard.
var fallbackDeviceType = DeviceTypeInfo{
	Type:          DeviceTypeUnknown,
	DisplayName:   "Unknown",
	ChannelPeriod: ChannelPeriodHeartRate,
}

// LookupDeviceType returns the metadata row for t, or the fallback row
func LookupDeviceType(t DeviceType) DeviceTypeInfo {
	for _, info := range deviceTypeTable {
		if info.Type == t {
			return info
		}
	}
	return fallbackDeviceType
}

// AllDeviceTypes returns the known device types in table order
func AllDeviceTypes() []DeviceType {
	result := make([]DeviceType, 0, len(deviceTypeTable))
	for _, info := range deviceTypeTable {
		result = append(result, info.Type)
	}
	return result
}

// DeviceTypeFromANT maps an ANT+ device type number to a DeviceType
func DeviceTypeFromANT(antDeviceType uint8) DeviceType {
	for _, info := range deviceTypeTable {
		if uint8(info.ANTDeviceType) == antDeviceType {
			return info.Type
		}
	}
	return DeviceTypeUnknown
}

// DeviceTypeFromService maps an advertised BLE service UUID to a DeviceType
func DeviceTypeFromService(serviceUUID string) DeviceType {
	for _, info := range deviceTypeTable {
		if info.ServiceUUID == serviceUUID {
			return info.Type
		}
	}
	return DeviceTypeUnknown
}

func (t DeviceType) String() string {
	return LookupDeviceType(t).DisplayName
}

// ChannelPeriod returns the ANT+ message period for the type
func (t DeviceType) ChannelPeriod() uint16 {
	return LookupDeviceType(t).ChannelPeriod
}

// ANTDeviceType returns the ANT+ device type number, 0 for unknown
func (t DeviceType) ANTDeviceType() uint8 {
	return uint8(LookupDeviceType(t).ANTDeviceType)
}
