package gatt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FTMS Control Point Op Codes (Fitness Machine Service 1.0)
const (
	OpCodeRequestControl          byte = 0x00
	OpCodeReset                   byte = 0x01
	OpCodeSetTargetResistance     byte = 0x04
	OpCodeSetTargetPower          byte = 0x05
	OpCodeStartOrResume           byte = 0x07
	OpCodeStopOrPause             byte = 0x08
	OpCodeSetIndoorBikeSimulation byte = 0x11
	OpCodeResponseCode            byte = 0x80
	stopOrPauseParamStop          byte = 0x01
	stopOrPauseParamPause         byte = 0x02
)

// ResultCode is the outcome a trainer reports for a control point request
type ResultCode byte

const (
	ResultSuccess             ResultCode = 0x01
	ResultOpCodeNotSupported  ResultCode = 0x02
	ResultInvalidParameter    ResultCode = 0x03
	ResultOperationFailed     ResultCode = 0x04
	ResultControlNotPermitted ResultCode = 0x05
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "Success"
	case ResultOpCodeNotSupported:
		return "Op Code Not Supported"
	case ResultInvalidParameter:
		return "Invalid Parameter"
	case ResultOperationFailed:
		return "Operation Failed"
	case ResultControlNotPermitted:
		return "Control Not Permitted"
	default:
		return fmt.Sprintf("Result 0x%02X", byte(c))
	}
}

// OpCodeName returns a readable name for a control point op code
func OpCodeName(op byte) string {
	switch op {
	case OpCodeRequestControl:
		return "Request Control"
	case OpCodeReset:
		return "Reset"
	case OpCodeSetTargetResistance:
		return "Set Target Resistance"
	case OpCodeSetTargetPower:
		return "Set Target Power"
	case OpCodeStartOrResume:
		return "Start/Resume"
	case OpCodeStopOrPause:
		return "Stop/Pause"
	case OpCodeSetIndoorBikeSimulation:
		return "Set Indoor Bike Simulation"
	default:
		return fmt.Sprintf("OpCode 0x%02X", op)
	}
}

// BuildRequestControl must be written before any other control command
func BuildRequestControl() []byte {
	return []byte{OpCodeRequestControl}
}

func BuildReset() []byte {
	return []byte{OpCodeReset}
}

func BuildStartTraining() []byte {
	return []byte{OpCodeStartOrResume}
}

// BuildStopTraining encodes Stop (isPause false) or Pause (isPause true)
func BuildStopTraining(isPause bool) []byte {
	if isPause {
		return []byte{OpCodeStopOrPause, stopOrPauseParamPause}
	}
	return []byte{OpCodeStopOrPause, stopOrPauseParamStop}
}

// BuildSetTargetPower encodes an ERG mode target in watts. The value is not
// range checked; callers clamp to the trainer's supported power range.
func BuildSetTargetPower(watts uint16) []byte {
	return binary.LittleEndian.AppendUint16([]byte{OpCodeSetTargetPower}, watts)
}

// BuildSetTargetResistance encodes a resistance level in 0.1 units
// (100 = level 10.0)
func BuildSetTargetResistance(level int16) []byte {
	return binary.LittleEndian.AppendUint16([]byte{OpCodeSetTargetResistance}, uint16(level))
}

// BuildSetIndoorBikeSimulation encodes simulation mode parameters: wind speed
// in m/s, grade in percent, rolling resistance coefficient and wind
// resistance coefficient in kg/m.
func BuildSetIndoorBikeSimulation(windMps, gradePercent, crr, cw float64) []byte {
	buf := []byte{OpCodeSetIndoorBikeSimulation}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(clampInt16(math.Round(windMps*1000))))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(clampInt16(math.Round(gradePercent*100))))
	buf = append(buf, clampUint8(math.Round(crr*10000)), clampUint8(math.Round(cw*100)))
	return buf
}

func clampInt16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
}

func clampUint8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(math.MaxUint8, v)))
}

// ControlPointResponse is an indication from the control point:
// [0x80, request op code, result code, ...]
type ControlPointResponse struct {
	RequestOpCode byte
	Result        ResultCode
}

func (ControlPointResponse) MeasurementKind() string { return string(StreamControlPoint) }

// Succeeded reports whether the trainer accepted the request
func (r ControlPointResponse) Succeeded() bool {
	return r.Result == ResultSuccess
}

func (r ControlPointResponse) String() string {
	return fmt.Sprintf("%s -> %s", OpCodeName(r.RequestOpCode), r.Result)
}

// ParseControlPointResponse decodes a control point indication. Frames that
// are not responses yield false.
func ParseControlPointResponse(buf []byte) (ControlPointResponse, bool) {
	r := newFrameReader(buf)
	op, _ := r.u8()
	req, _ := r.u8()
	result, ok := r.u8()
	if !ok || op != OpCodeResponseCode {
		return ControlPointResponse{}, false
	}
	return ControlPointResponse{RequestOpCode: req, Result: ResultCode(result)}, true
}

// SupportedPowerRange is the Supported Power Range characteristic value
type SupportedPowerRange struct {
	MinWatts       int16
	MaxWatts       int16
	IncrementWatts uint16
}

func (SupportedPowerRange) MeasurementKind() string { return string(StreamSupportedPowerRange) }

// Clamp limits watts to the supported range
func (p SupportedPowerRange) Clamp(watts int) uint16 {
	lo, hi := int(p.MinWatts), int(p.MaxWatts)
	if lo < 0 {
		lo = 0
	}
	if watts < lo {
		watts = lo
	}
	if hi >= lo && watts > hi {
		watts = hi
	}
	return uint16(watts)
}

func ParseSupportedPowerRange(buf []byte) (SupportedPowerRange, bool) {
	r := newFrameReader(buf)
	var p SupportedPowerRange
	p.MinWatts, _ = r.s16()
	p.MaxWatts, _ = r.s16()
	p.IncrementWatts, _ = r.u16()
	if !r.ok() {
		return SupportedPowerRange{}, false
	}
	return p, true
}
