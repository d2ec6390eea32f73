// Package gatt decodes the standard BLE fitness characteristics (FTMS Indoor
// Bike Data, Cycling Power, Heart Rate, Cycling Speed and Cadence) and encodes
// FTMS control point commands.
package gatt

// Bluetooth Service and Characteristic UUIDs for bike training
const (
	// Heart Rate Service
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	// Cycling Speed and Cadence Service (CSC)
	ServiceUUIDCyclingSpeedCadence = "00001816-0000-1000-8000-00805f9b34fb"
	CharUUIDCSCMeasurement         = "00002a5b-0000-1000-8000-00805f9b34fb"

	// Cycling Power Service
	ServiceUUIDCyclingPower         = "00001818-0000-1000-8000-00805f9b34fb"
	CharUUIDCyclingPowerMeasurement = "00002a63-0000-1000-8000-00805f9b34fb"

	// Fitness Machine Service (FTMS)
	ServiceUUIDFTMS             = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData      = "00002ad2-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSControlPoint    = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDSupportedPowerRange = "00002ad8-0000-1000-8000-00805f9b34fb"
)

// StreamID identifies a notifying characteristic this package can decode
type StreamID string

const (
	StreamHeartRate           StreamID = "heart_rate"
	StreamCSC                 StreamID = "csc"
	StreamCyclingPower        StreamID = "cycling_power"
	StreamIndoorBikeData      StreamID = "indoor_bike_data"
	StreamControlPoint        StreamID = "ftms_control_point"
	StreamSupportedPowerRange StreamID = "supported_power_range"
)

// Stream binds a StreamID to its service and characteristic
type Stream struct {
	ID                 StreamID
	DisplayName        string
	ServiceUUID        string
	CharacteristicUUID string
	Notify             bool
}

// AllStreams is the registry of supported characteristics
var AllStreams = []Stream{
	{StreamHeartRate, "Heart Rate", ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, true},
	{StreamCSC, "Speed & Cadence", ServiceUUIDCyclingSpeedCadence, CharUUIDCSCMeasurement, true},
	{StreamCyclingPower, "Cycling Power", ServiceUUIDCyclingPower, CharUUIDCyclingPowerMeasurement, true},
	{StreamIndoorBikeData, "Indoor Bike Data", ServiceUUIDFTMS, CharUUIDIndoorBikeData, true},
	{StreamControlPoint, "Trainer Control", ServiceUUIDFTMS, CharUUIDFTMSControlPoint, true},
	{StreamSupportedPowerRange, "Power Range", ServiceUUIDFTMS, CharUUIDSupportedPowerRange, false},
}

// GetStreamByID returns a stream by its ID
func GetStreamByID(id StreamID) (Stream, bool) {
	for _, s := range AllStreams {
		if s.ID == id {
			return s, true
		}
	}
	return Stream{}, false
}

// GetStreamsByServiceUUID returns all streams for a given service
func GetStreamsByServiceUUID(serviceUUID string) []Stream {
	var result []Stream
	for _, s := range AllStreams {
		if s.ServiceUUID == serviceUUID {
			result = append(result, s)
		}
	}
	return result
}

// GetUniqueServiceUUIDs returns the deduplicated service UUIDs of every stream,
// in registry order. It is used as the BLE scan filter.
func GetUniqueServiceUUIDs() []string {
	seen := make(map[string]bool)
	var result []string
	for _, s := range AllStreams {
		if !seen[s.ServiceUUID] {
			seen[s.ServiceUUID] = true
			result = append(result, s.ServiceUUID)
		}
	}
	return result
}

// Measurement is implemented by every decoded characteristic value
type Measurement interface {
	MeasurementKind() string
}
