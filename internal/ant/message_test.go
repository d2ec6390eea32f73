package ant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessage(t *testing.T) {
	assert.Equal(t, []byte{0xA4, 0x01, 0x4A, 0x00, 0xEF}, ResetSystemMessage())

	key := SetNetworkKeyMessage(ANTPlusNetwork, ANTPlusNetworkKey)
	require.Len(t, key, 9+frameOverhead)
	assert.Equal(t, byte(9), key[1])
	assert.Equal(t, MsgIDSetNetworkKey, key[2])
	assert.Equal(t, ANTPlusNetworkKey[:], key[4:12])
}

func TestDecodeMessage(t *testing.T) {
	raw := EncodeMessage(MsgIDChannelPeriod, 0x02, 0x86, 0x1F)
	msg, n, err := DecodeMessage(append(raw, 0x00, 0x00))
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, MsgIDChannelPeriod, msg.ID)
	assert.Equal(t, []byte{0x02, 0x86, 0x1F}, msg.Payload)

	ch, ok := msg.Channel()
	assert.True(t, ok)
	assert.Equal(t, uint8(2), ch)
	assert.Equal(t, raw, msg.Encode())
}

func TestDecodeMessageErrors(t *testing.T) {
	raw := EncodeMessage(MsgIDOpenChannel, 0x01)

	_, _, err := DecodeMessage(raw[:3])
	assert.ErrorIs(t, err, ErrShortMessage)

	_, _, err = DecodeMessage(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrShortMessage)

	bad := append([]byte{}, raw...)
	bad[0] = 0x00
	_, _, err = DecodeMessage(bad)
	assert.ErrorIs(t, err, ErrBadSync)

	bad = append([]byte{}, raw...)
	bad[len(bad)-1] ^= 0xFF
	_, _, err = DecodeMessage(bad)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestChannelPeriodMessageIsLittleEndian(t *testing.T) {
	msg := ChannelPeriodMessage(3, 8070)
	assert.Equal(t, []byte{0x03, 0x86, 0x1F}, msg[3:6])
}

func TestParseBroadcast(t *testing.T) {
	data := []byte{0x04, 0x00, 0x00, 0x00, 0x10, 0x27, 0x05, 0x48}

	plain, ok := ParseBroadcast(Message{ID: MsgIDBroadcastData, Payload: append([]byte{1}, data...)})
	require.True(t, ok)
	assert.Equal(t, uint8(1), plain.Channel)
	assert.Equal(t, byte(0x48), plain.Data[7])
	assert.False(t, plain.HasDeviceID)

	payload := append([]byte{2}, data...)
	payload = append(payload, 0x80, 0x39, 0x30, 0x78, 0x01)
	ext, ok := ParseBroadcast(Message{ID: MsgIDBroadcastData, Payload: payload})
	require.True(t, ok)
	assert.True(t, ext.HasDeviceID)
	assert.Equal(t, uint16(12345), ext.DeviceNumber)
	assert.Equal(t, uint8(120), ext.DeviceType)
	assert.Equal(t, uint8(1), ext.TransmissionType)

	_, ok = ParseBroadcast(Message{ID: MsgIDBroadcastData, Payload: data})
	assert.False(t, ok, "missing channel byte")
	_, ok = ParseBroadcast(Message{ID: MsgIDOpenChannel, Payload: payload})
	assert.False(t, ok)
}

func TestParseChannelResponse(t *testing.T) {
	resp, ok := ParseChannelResponse(Message{ID: MsgIDChannelEvent, Payload: []byte{4, 0x01, RFEventChannelClosed}})
	require.True(t, ok)
	assert.Equal(t, ChannelResponse{Channel: 4, MessageID: 0x01, Code: RFEventChannelClosed}, resp)

	_, ok = ParseChannelResponse(Message{ID: MsgIDChannelEvent, Payload: []byte{4, 0x01}})
	assert.False(t, ok)
}

func TestChannelSetupMessages(t *testing.T) {
	ch := Channel{Number: 2, DeviceType: 1, DeviceNumber: 0, Period: 8070, RFFrequency: ANTPlusRFFrequency}
	msgs := ChannelSetupMessages(ch)
	require.Len(t, msgs, 6)

	ids := make([]byte, len(msgs))
	for i, m := range msgs {
		ids[i] = m[2]
		assert.Equal(t, byte(2), m[3], "every setup message targets the channel")
	}
	assert.Equal(t, []byte{
		MsgIDAssignChannel, MsgIDChannelID, MsgIDChannelPeriod,
		MsgIDRFFrequency, MsgIDSearchTimeout, MsgIDOpenChannel,
	}, ids)

	teardown := ChannelTeardownMessages(2)
	require.Len(t, teardown, 2)
	assert.Equal(t, MsgIDCloseChannel, teardown[0][2])
	assert.Equal(t, MsgIDUnassignChannel, teardown[1][2])
}

func drain(f *Framer) []Message {
	var out []Message
	for {
		m, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func TestFramerReassemblesSplitReads(t *testing.T) {
	f := NewFramer(0)
	stream := append(ResetSystemMessage(), OpenChannelMessage(1)...)

	_, err := f.Write(stream[:3])
	require.NoError(t, err)
	assert.Empty(t, drain(f))

	_, err = f.Write(stream[3:])
	require.NoError(t, err)
	msgs := drain(f)
	require.Len(t, msgs, 2)
	assert.Equal(t, MsgIDResetSystem, msgs[0].ID)
	assert.Equal(t, MsgIDOpenChannel, msgs[1].ID)
	assert.Equal(t, 0, f.Dropped())
}

func TestFramerSkipsGarbageAndBadChecksums(t *testing.T) {
	f := NewFramer(0)
	corrupt := OpenChannelMessage(1)
	corrupt[len(corrupt)-1] ^= 0xFF

	var stream []byte
	stream = append(stream, 0x00, 0x13)
	stream = append(stream, corrupt...)
	stream = append(stream, SyncByte, 0xF0) // impossible length
	stream = append(stream, CloseChannelMessage(5)...)

	_, err := f.Write(stream)
	require.NoError(t, err)
	msgs := drain(f)
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgIDCloseChannel, msgs[0].ID)
	assert.Equal(t, []byte{5}, msgs[0].Payload)
	assert.Equal(t, 4, f.Dropped())
}

func TestFramerOverflow(t *testing.T) {
	f := NewFramer(8)
	_, err := f.Write(make([]byte, 16))
	assert.Error(t, err)
}
