package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSetTargetPower(t *testing.T) {
	assert.Equal(t, []byte{0x05, 0x64, 0x00}, BuildSetTargetPower(100))
	assert.Equal(t, BuildSetTargetPower(250), BuildSetTargetPower(250))
	assert.Equal(t, []byte{0x05, 0xFF, 0xFF}, BuildSetTargetPower(65535), "no range check")
}

func TestSimpleCommands(t *testing.T) {
	assert.Equal(t, []byte{0x00}, BuildRequestControl())
	assert.Equal(t, []byte{0x01}, BuildReset())
	assert.Equal(t, []byte{0x07}, BuildStartTraining())
	assert.Equal(t, []byte{0x08, 0x01}, BuildStopTraining(false))
	assert.Equal(t, []byte{0x08, 0x02}, BuildStopTraining(true))
	assert.Equal(t, []byte{0x04, 0x64, 0x00}, BuildSetTargetResistance(100))
	assert.Equal(t, []byte{0x04, 0xF6, 0xFF}, BuildSetTargetResistance(-10))
}

func TestBuildSetIndoorBikeSimulation(t *testing.T) {
	// wind 0 m/s, grade -2.5%, crr 0.004, cw 0.51 kg/m
	got := BuildSetIndoorBikeSimulation(0, -2.5, 0.004, 0.51)
	assert.Equal(t, []byte{0x11, 0x00, 0x00, 0x06, 0xFF, 40, 51}, got)

	// out of range values saturate
	got = BuildSetIndoorBikeSimulation(100, 400, 1, 5)
	assert.Equal(t, []byte{0x11, 0xFF, 0x7F, 0xFF, 0x7F, 0xFF, 0xFF}, got)
}

func TestParseControlPointResponse(t *testing.T) {
	resp, ok := ParseControlPointResponse([]byte{0x80, 0x05, 0x01})
	require.True(t, ok)
	assert.Equal(t, OpCodeSetTargetPower, resp.RequestOpCode)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "Set Target Power -> Success", resp.String())

	resp, ok = ParseControlPointResponse([]byte{0x80, 0x00, 0x05})
	require.True(t, ok)
	assert.Equal(t, ResultControlNotPermitted, resp.Result)
	assert.False(t, resp.Succeeded())

	_, ok = ParseControlPointResponse([]byte{0x05, 0x64, 0x00})
	assert.False(t, ok, "not a response op code")
	_, ok = ParseControlPointResponse([]byte{0x80, 0x05})
	assert.False(t, ok)
	assert.Equal(t, "Result 0x09", ResultCode(9).String())
}

func TestSupportedPowerRange(t *testing.T) {
	r, ok := ParseSupportedPowerRange([]byte{0x00, 0x00, 0xD0, 0x07, 0x01, 0x00})
	require.True(t, ok)
	assert.Equal(t, int16(0), r.MinWatts)
	assert.Equal(t, int16(2000), r.MaxWatts)
	assert.Equal(t, uint16(1), r.IncrementWatts)

	assert.Equal(t, uint16(2000), r.Clamp(2500))
	assert.Equal(t, uint16(0), r.Clamp(-20))
	assert.Equal(t, uint16(180), r.Clamp(180))
}

func TestStreamRegistry(t *testing.T) {
	s, ok := GetStreamByID(StreamIndoorBikeData)
	require.True(t, ok)
	assert.Equal(t, CharUUIDIndoorBikeData, s.CharacteristicUUID)

	_, ok = GetStreamByID("nope")
	assert.False(t, ok)

	assert.Len(t, GetStreamsByServiceUUID(ServiceUUIDFTMS), 3)
	assert.Equal(t, []string{
		ServiceUUIDHeartRate,
		ServiceUUIDCyclingSpeedCadence,
		ServiceUUIDCyclingPower,
		ServiceUUIDFTMS,
	}, GetUniqueServiceUUIDs())
}
