package robot

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Samples are the units recorded to the binary log. Each sample encodes to a
// fixed-size little-endian layout that never depends on Go struct layout, so
// log files are portable across architectures and decodable by external
// tools.

// Encoded sample sizes in bytes.
const (
	StateSampleSize         = timestampsSize + 4 + statesSize // 88
	MotorCommandsSampleSize = timestampsSize + 4 + 8          // 28
	EventSampleSize         = timestampsSize + eventCmdSize   // 29
)

const (
	timestampsSize = 16
	statesSize     = 9*4 + 3*4 + 4*4 + 4 // imu + angles + encoders + battery
	eventCmdSize   = 13
)

// StateSample is one sensor snapshot with its capture timestamps.
type StateSample struct {
	TS     Timestamps
	Seq    uint32
	States States
}

// MotorCommandsSample records the motor command actually applied to the
// board on one USB cycle.
type MotorCommandsSample struct {
	TS     Timestamps
	Seq    uint32
	Motors MotorCommands
}

// EventSample records a one-shot event with the time it was observed.
type EventSample struct {
	TS    Timestamps
	Event EventCmd
}

func putF32(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) }
func getF32(b []byte) float32    { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
func putF64(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) }
func getF64(b []byte) float64    { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }

func putTimestamps(b []byte, ts Timestamps) {
	putF64(b[0:], ts.EpochS)
	putF64(b[8:], ts.MonoS)
}

func getTimestamps(b []byte) Timestamps {
	return Timestamps{EpochS: getF64(b[0:]), MonoS: getF64(b[8:])}
}

func putVec3(b []byte, v Vec3) {
	putF32(b[0:], v.X)
	putF32(b[4:], v.Y)
	putF32(b[8:], v.Z)
}

func getVec3(b []byte) Vec3 {
	return Vec3{X: getF32(b[0:]), Y: getF32(b[4:]), Z: getF32(b[8:])}
}

func putStates(b []byte, st States) {
	putVec3(b[0:], st.IMU.Acc)
	putVec3(b[12:], st.IMU.Gyro)
	putVec3(b[24:], st.IMU.Mag)
	putF32(b[36:], st.Angles.Roll)
	putF32(b[40:], st.Angles.Pitch)
	putF32(b[44:], st.Angles.Yaw)
	binary.LittleEndian.PutUint32(b[48:], uint32(st.Encoders.E1))
	binary.LittleEndian.PutUint32(b[52:], uint32(st.Encoders.E2))
	binary.LittleEndian.PutUint32(b[56:], uint32(st.Encoders.E3))
	binary.LittleEndian.PutUint32(b[60:], uint32(st.Encoders.E4))
	putF32(b[64:], st.BatteryVoltage)
}

func getStates(b []byte) States {
	var st States
	st.IMU.Acc = getVec3(b[0:])
	st.IMU.Gyro = getVec3(b[12:])
	st.IMU.Mag = getVec3(b[24:])
	st.Angles.Roll = getF32(b[36:])
	st.Angles.Pitch = getF32(b[40:])
	st.Angles.Yaw = getF32(b[44:])
	st.Encoders.E1 = int32(binary.LittleEndian.Uint32(b[48:]))
	st.Encoders.E2 = int32(binary.LittleEndian.Uint32(b[52:]))
	st.Encoders.E3 = int32(binary.LittleEndian.Uint32(b[56:]))
	st.Encoders.E4 = int32(binary.LittleEndian.Uint32(b[60:]))
	st.BatteryVoltage = getF32(b[64:])
	return st
}

func putEventCmd(b []byte, ev EventCmd) {
	b[0] = uint8(ev.Type)
	binary.LittleEndian.PutUint32(b[1:], ev.Seq)
	b[5] = ev.Data0
	b[6] = ev.Data1
	b[7] = ev.Data2
	b[8] = ev.Data3
	binary.LittleEndian.PutUint32(b[9:], ev.Aux)
}

func getEventCmd(b []byte) EventCmd {
	return EventCmd{
		Type:  EventType(b[0]),
		Seq:   binary.LittleEndian.Uint32(b[1:]),
		Data0: b[5],
		Data1: b[6],
		Data2: b[7],
		Data3: b[8],
		Aux:   binary.LittleEndian.Uint32(b[9:]),
	}
}

// Encode writes the sample into its fixed little-endian layout.
func (s StateSample) Encode() []byte {
	b := make([]byte, StateSampleSize)
	putTimestamps(b[0:], s.TS)
	binary.LittleEndian.PutUint32(b[16:], s.Seq)
	putStates(b[20:], s.States)
	return b
}

// DecodeStateSample parses an encoded StateSample.
func DecodeStateSample(b []byte) (StateSample, error) {
	if len(b) != StateSampleSize {
		return StateSample{}, fmt.Errorf("state sample: got %d bytes, want %d", len(b), StateSampleSize)
	}
	return StateSample{
		TS:     getTimestamps(b[0:]),
		Seq:    binary.LittleEndian.Uint32(b[16:]),
		States: getStates(b[20:]),
	}, nil
}

// Encode writes the sample into its fixed little-endian layout.
func (s MotorCommandsSample) Encode() []byte {
	b := make([]byte, MotorCommandsSampleSize)
	putTimestamps(b[0:], s.TS)
	binary.LittleEndian.PutUint32(b[16:], s.Seq)
	binary.LittleEndian.PutUint16(b[20:], uint16(s.Motors.M1))
	binary.LittleEndian.PutUint16(b[22:], uint16(s.Motors.M2))
	binary.LittleEndian.PutUint16(b[24:], uint16(s.Motors.M3))
	binary.LittleEndian.PutUint16(b[26:], uint16(s.Motors.M4))
	return b
}

// DecodeMotorCommandsSample parses an encoded MotorCommandsSample.
func DecodeMotorCommandsSample(b []byte) (MotorCommandsSample, error) {
	if len(b) != MotorCommandsSampleSize {
		return MotorCommandsSample{}, fmt.Errorf("motor sample: got %d bytes, want %d", len(b), MotorCommandsSampleSize)
	}
	return MotorCommandsSample{
		TS:  getTimestamps(b[0:]),
		Seq: binary.LittleEndian.Uint32(b[16:]),
		Motors: MotorCommands{
			M1: int16(binary.LittleEndian.Uint16(b[20:])),
			M2: int16(binary.LittleEndian.Uint16(b[22:])),
			M3: int16(binary.LittleEndian.Uint16(b[24:])),
			M4: int16(binary.LittleEndian.Uint16(b[26:])),
		},
	}, nil
}

// Encode writes the sample into its fixed little-endian layout.
func (s EventSample) Encode() []byte {
	b := make([]byte, EventSampleSize)
	putTimestamps(b[0:], s.TS)
	putEventCmd(b[16:], s.Event)
	return b
}

// DecodeEventSample parses an encoded EventSample.
func DecodeEventSample(b []byte) (EventSample, error) {
	if len(b) != EventSampleSize {
		return EventSample{}, fmt.Errorf("event sample: got %d bytes, want %d", len(b), EventSampleSize)
	}
	return EventSample{
		TS:    getTimestamps(b[0:]),
		Event: getEventCmd(b[16:]),
	}, nil
}
