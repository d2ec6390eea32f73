package bt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
	"github.com/ProvidenceIT/ride-sensors/internal/gatt"
)

func TestPrimaryType(t *testing.T) {
	tests := []struct {
		name     string
		services []string
		want     device.DeviceType
	}{
		{"trainer with power and cadence", []string{gatt.ServiceUUIDCyclingPower, gatt.ServiceUUIDFTMS, gatt.ServiceUUIDCyclingSpeedCadence}, device.DeviceTypeFitnessEquipment},
		{"power meter", []string{gatt.ServiceUUIDCyclingSpeedCadence, gatt.ServiceUUIDCyclingPower}, device.DeviceTypePower},
		{"strap", []string{gatt.ServiceUUIDHeartRate}, device.DeviceTypeHeartRate},
		{"nothing supported", []string{"0000180f-0000-1000-8000-00805f9b34fb"}, device.DeviceTypeUnknown},
		{"empty", nil, device.DeviceTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrimaryType(tt.services))
		})
	}
}

func TestDeviceID(t *testing.T) {
	assert.Equal(t, "ble:C0:FF:EE:00:11:22", DeviceID("C0:FF:EE:00:11:22"))
}

func TestPeripheralWriteControlRequiresConnection(t *testing.T) {
	p := &peripheral{name: "KICKR"}
	assert.ErrorIs(t, p.writeControl(gatt.BuildReset()), ErrNotConnected)
}

func TestPeripheralClampPower(t *testing.T) {
	p := &peripheral{}
	assert.Equal(t, uint16(0), p.clampPower(-20))
	assert.Equal(t, uint16(250), p.clampPower(250.7))
	assert.Equal(t, uint16(0xFFFF), p.clampPower(1e6))

	p.powerRange = &gatt.SupportedPowerRange{MinWatts: 25, MaxWatts: 1500, IncrementWatts: 1}
	assert.Equal(t, uint16(25), p.clampPower(10))
	assert.Equal(t, uint16(1500), p.clampPower(2000))
}

func TestModeCommands(t *testing.T) {
	// 5% grade, still air, crr 0.004, cw 0.51
	assert.Equal(t, []byte{gatt.OpCodeSetIndoorBikeSimulation, 0, 0, 0xF4, 0x01, 40, 51}, simulationCommand(5))
	assert.Equal(t, []byte{gatt.OpCodeSetTargetResistance, 0xFA, 0x00}, resistanceCommand(25))
	assert.Equal(t, []byte{gatt.OpCodeSetTargetResistance, 0xE8, 0x03}, resistanceCommand(250))
}

func TestTransportSessionCommandsNeedKnownPeripheral(t *testing.T) {
	tr := &Transport{}
	assert.ErrorIs(t, tr.StartTraining("ble:AA"), ErrUnknownPeripheral)
	assert.ErrorIs(t, tr.StopTraining("ble:AA", true), ErrUnknownPeripheral)
	assert.ErrorIs(t, tr.ResetTrainer("ble:AA"), ErrUnknownPeripheral)
	assert.ErrorIs(t, tr.SetSimulation("ble:AA", 2), ErrUnknownPeripheral)
	assert.ErrorIs(t, tr.SetTargetResistance("ble:AA", 20), ErrUnknownPeripheral)
}

func TestPeripheralResetReleasesControl(t *testing.T) {
	p := &peripheral{name: "KICKR", inControl: true}
	p.releaseControl()
	assert.False(t, p.inControl)
}
