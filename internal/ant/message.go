// Package ant implements the ANT serial message protocol spoken by ANT USB
// sticks, the ANT+ data pages of the supported sensor profiles, and the
// bookkeeping of dongles and their radio channels.
package ant

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ANT serial message framing: [sync, length, id, payload..., checksum]
const (
	SyncByte       byte = 0xA4
	maxPayloadSize      = 32
	frameOverhead       = 4
)

// Message IDs
const (
	MsgIDChannelEvent       byte = 0x40
	MsgIDUnassignChannel    byte = 0x41
	MsgIDAssignChannel      byte = 0x42
	MsgIDChannelPeriod      byte = 0x43
	MsgIDSearchTimeout      byte = 0x44
	MsgIDRFFrequency        byte = 0x45
	MsgIDSetNetworkKey      byte = 0x46
	MsgIDResetSystem        byte = 0x4A
	MsgIDOpenChannel        byte = 0x4B
	MsgIDCloseChannel       byte = 0x4C
	MsgIDBroadcastData      byte = 0x4E
	MsgIDAcknowledgedData   byte = 0x4F
	MsgIDChannelID          byte = 0x51
	MsgIDEnableExtRxMessage byte = 0x66
	MsgIDLibConfig          byte = 0x6E
	MsgIDStartup            byte = 0x6F
)

// Channel parameters for ANT+ slave channels
const (
	ChannelTypeBidirectionalReceive byte = 0x00
	ANTPlusNetwork                  byte = 0x00
	// ANTPlusRFFrequency is the offset from 2400 MHz (2457 MHz)
	ANTPlusRFFrequency byte = 57
	// DefaultSearchTimeout is in 2.5 s units (30 s)
	DefaultSearchTimeout byte = 12
	libConfigChannelID   byte = 0x80
	extendedDataFlag     byte = 0x80
)

// ANTPlusNetworkKey is the public ANT+ managed network key
var ANTPlusNetworkKey = [8]byte{0xB9, 0xA5, 0x21, 0xFB, 0xBD, 0x72, 0xC3, 0x45}

var (
	ErrShortMessage = errors.New("ant: short message")
	ErrBadSync      = errors.New("ant: missing sync byte")
	ErrBadChecksum  = errors.New("ant: checksum mismatch")
)

// Message is one decoded ANT serial message
type Message struct {
	ID      byte
	Payload []byte
}

// EncodeMessage frames id and payload with sync, length and XOR checksum
func EncodeMessage(id byte, payload ...byte) []byte {
	msg := make([]byte, 0, len(payload)+frameOverhead)
	msg = append(msg, SyncByte, byte(len(payload)), id)
	msg = append(msg, payload...)
	return append(msg, checksum(msg))
}

// Encode frames m for the wire
func (m Message) Encode() []byte {
	return EncodeMessage(m.ID, m.Payload...)
}

func checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

// DecodeMessage parses exactly one framed message from the start of buf and
// returns it with the number of bytes consumed
func DecodeMessage(buf []byte) (Message, int, error) {
	if len(buf) < frameOverhead {
		return Message{}, 0, ErrShortMessage
	}
	if buf[0] != SyncByte {
		return Message{}, 0, ErrBadSync
	}
	n := int(buf[1]) + frameOverhead
	if len(buf) < n {
		return Message{}, 0, ErrShortMessage
	}
	if checksum(buf[:n-1]) != buf[n-1] {
		return Message{}, 0, fmt.Errorf("message 0x%02X: %w", buf[2], ErrBadChecksum)
	}
	payload := make([]byte, n-frameOverhead)
	copy(payload, buf[3:n-1])
	return Message{ID: buf[2], Payload: payload}, n, nil
}

// Channel returns the channel number carried in the first payload byte of
// channel scoped messages
func (m Message) Channel() (uint8, bool) {
	if len(m.Payload) == 0 {
		return 0, false
	}
	return m.Payload[0], true
}

// Broadcast is a received broadcast (or acknowledged) data message
type Broadcast struct {
	Channel uint8
	Data    [8]byte

	// Extended data, present when the stick is configured to append the
	// transmitting device's channel ID
	HasDeviceID      bool
	DeviceNumber     uint16
	DeviceType       uint8
	TransmissionType uint8
}

// ParseBroadcast extracts channel data from a broadcast or acknowledged data
// message
func ParseBroadcast(m Message) (Broadcast, bool) {
	if m.ID != MsgIDBroadcastData && m.ID != MsgIDAcknowledgedData {
		return Broadcast{}, false
	}
	if len(m.Payload) < 9 {
		return Broadcast{}, false
	}
	b := Broadcast{Channel: m.Payload[0]}
	copy(b.Data[:], m.Payload[1:9])
	ext := m.Payload[9:]
	if len(ext) >= 5 && ext[0]&extendedDataFlag != 0 {
		b.HasDeviceID = true
		b.DeviceNumber = binary.LittleEndian.Uint16(ext[1:3])
		b.DeviceType = ext[3] & 0x7F
		b.TransmissionType = ext[4]
	}
	return b, true
}

// ChannelResponse is a channel event or a response to a channel command
type ChannelResponse struct {
	Channel   uint8
	MessageID byte // 0x01 for RF events
	Code      byte
}

// RF event codes carried by channel events with message ID 0x01
const (
	RFEventRxSearchTimeout  byte = 0x01
	RFEventRxFail           byte = 0x02
	RFEventChannelClosed    byte = 0x07
	RFEventRxFailGoToSearch byte = 0x08
	ResponseNoError         byte = 0x00
)

func ParseChannelResponse(m Message) (ChannelResponse, bool) {
	if m.ID != MsgIDChannelEvent || len(m.Payload) < 3 {
		return ChannelResponse{}, false
	}
	return ChannelResponse{Channel: m.Payload[0], MessageID: m.Payload[1], Code: m.Payload[2]}, true
}

// ResetSystemMessage resets the stick
func ResetSystemMessage() []byte {
	return EncodeMessage(MsgIDResetSystem, 0x00)
}

func SetNetworkKeyMessage(network byte, key [8]byte) []byte {
	return EncodeMessage(MsgIDSetNetworkKey, append([]byte{network}, key[:]...)...)
}

// LibConfigMessage asks the stick to append the channel ID to received data
func LibConfigMessage() []byte {
	return EncodeMessage(MsgIDLibConfig, 0x00, libConfigChannelID)
}

func AssignChannelMessage(channel, channelType, network byte) []byte {
	return EncodeMessage(MsgIDAssignChannel, channel, channelType, network)
}

// ChannelIDMessage sets the device to pair with. deviceNumber 0 and
// deviceType 0 are wildcards.
func ChannelIDMessage(channel uint8, deviceNumber uint16, deviceType, transmissionType byte) []byte {
	payload := []byte{channel}
	payload = binary.LittleEndian.AppendUint16(payload, deviceNumber)
	return EncodeMessage(MsgIDChannelID, append(payload, deviceType, transmissionType)...)
}

func ChannelPeriodMessage(channel uint8, period uint16) []byte {
	return EncodeMessage(MsgIDChannelPeriod, binary.LittleEndian.AppendUint16([]byte{channel}, period)...)
}

func RFFrequencyMessage(channel, frequency byte) []byte {
	return EncodeMessage(MsgIDRFFrequency, channel, frequency)
}

func SearchTimeoutMessage(channel, timeout byte) []byte {
	return EncodeMessage(MsgIDSearchTimeout, channel, timeout)
}

func OpenChannelMessage(channel byte) []byte {
	return EncodeMessage(MsgIDOpenChannel, channel)
}

func CloseChannelMessage(channel byte) []byte {
	return EncodeMessage(MsgIDCloseChannel, channel)
}

func UnassignChannelMessage(channel byte) []byte {
	return EncodeMessage(MsgIDUnassignChannel, channel)
}

// DongleInitMessages is the sequence sent to a freshly opened stick before
// any channel is configured
func DongleInitMessages() [][]byte {
	return [][]byte{
		ResetSystemMessage(),
		SetNetworkKeyMessage(ANTPlusNetwork, ANTPlusNetworkKey),
		LibConfigMessage(),
	}
}

// ChannelSetupMessages configures and opens an allocated channel with its
// recorded device type, identity, period and frequency
func ChannelSetupMessages(ch Channel) [][]byte {
	return [][]byte{
		AssignChannelMessage(ch.Number, ChannelTypeBidirectionalReceive, ANTPlusNetwork),
		ChannelIDMessage(ch.Number, ch.DeviceNumber, ch.DeviceType.ANTDeviceType(), ch.TransmissionType),
		ChannelPeriodMessage(ch.Number, ch.Period),
		RFFrequencyMessage(ch.Number, ch.RFFrequency),
		SearchTimeoutMessage(ch.Number, DefaultSearchTimeout),
		OpenChannelMessage(ch.Number),
	}
}

// ChannelTeardownMessages closes and unassigns a channel on the stick
func ChannelTeardownMessages(number uint8) [][]byte {
	return [][]byte{CloseChannelMessage(number), UnassignChannelMessage(number)}
}
