package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/rover.gateway/internal/robot"
)

// Fixed payload sizes in bytes.
const (
	StatePayloadSize    = 76 // seq + t_mono + imu + angles + encoders + battery
	CmdPayloadSize      = 12 // seq + 4 motors
	SetpointPayloadSize = 21 // seq + 4 setpoints + flags
	ConfigPayloadSize   = 12 // seq + key + u8 + u16 + u32
	StatsPayloadSize    = 48 // fixed versioned stats block
)

// StatePayload is the sensor snapshot broadcast on the state port.
type StatePayload struct {
	Seq    uint32
	TMono  float32
	States robot.States
}

// CmdPayload is a motor command from a remote client.
type CmdPayload struct {
	Seq    uint32
	Motors robot.MotorCommands
}

// SetpointPayload is a controller setpoint from a remote client.
type SetpointPayload struct {
	Seq   uint32
	SP    [4]float32
	Flags uint8
}

// ConfigPayload is a single-key runtime config mutation.
type ConfigPayload struct {
	Seq uint32
	Key uint8
	U8  uint8
	U16 uint16
	U32 uint32
}

// StatsPayload is the gateway health snapshot returned for MsgStatsReq.
type StatsPayload struct {
	Seq           uint32
	UptimeMS      uint32
	USBHz         float32
	TCPHz         float32
	CtrlHz        float32
	DropsState    uint32
	DropsCmd      uint32
	DropsEvent    uint32
	DropsSysEvent uint32
	TCPFramesBad  uint32
	SerialErrors  uint32
	Reserved      uint32
}

func putF32(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) }
func getF32(b []byte) float32    { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }

func sizeErr(name string, got, want int) error {
	return fmt.Errorf("%s payload: got %d bytes, want %d", name, got, want)
}

// EncodeState renders a StatePayload.
func EncodeState(p StatePayload) []byte {
	b := make([]byte, StatePayloadSize)
	binary.LittleEndian.PutUint32(b[0:], p.Seq)
	putF32(b[4:], p.TMono)
	st := p.States
	putF32(b[8:], st.IMU.Acc.X)
	putF32(b[12:], st.IMU.Acc.Y)
	putF32(b[16:], st.IMU.Acc.Z)
	putF32(b[20:], st.IMU.Gyro.X)
	putF32(b[24:], st.IMU.Gyro.Y)
	putF32(b[28:], st.IMU.Gyro.Z)
	putF32(b[32:], st.IMU.Mag.X)
	putF32(b[36:], st.IMU.Mag.Y)
	putF32(b[40:], st.IMU.Mag.Z)
	putF32(b[44:], st.Angles.Roll)
	putF32(b[48:], st.Angles.Pitch)
	putF32(b[52:], st.Angles.Yaw)
	binary.LittleEndian.PutUint32(b[56:], uint32(st.Encoders.E1))
	binary.LittleEndian.PutUint32(b[60:], uint32(st.Encoders.E2))
	binary.LittleEndian.PutUint32(b[64:], uint32(st.Encoders.E3))
	binary.LittleEndian.PutUint32(b[68:], uint32(st.Encoders.E4))
	putF32(b[72:], st.BatteryVoltage)
	return b
}

// DecodeState parses a StatePayload.
func DecodeState(b []byte) (StatePayload, error) {
	if len(b) != StatePayloadSize {
		return StatePayload{}, sizeErr("state", len(b), StatePayloadSize)
	}
	var p StatePayload
	p.Seq = binary.LittleEndian.Uint32(b[0:])
	p.TMono = getF32(b[4:])
	st := &p.States
	st.IMU.Acc = robot.Vec3{X: getF32(b[8:]), Y: getF32(b[12:]), Z: getF32(b[16:])}
	st.IMU.Gyro = robot.Vec3{X: getF32(b[20:]), Y: getF32(b[24:]), Z: getF32(b[28:])}
	st.IMU.Mag = robot.Vec3{X: getF32(b[32:]), Y: getF32(b[36:]), Z: getF32(b[40:])}
	st.Angles = robot.Angles{Roll: getF32(b[44:]), Pitch: getF32(b[48:]), Yaw: getF32(b[52:])}
	st.Encoders = robot.Encoders{
		E1: int32(binary.LittleEndian.Uint32(b[56:])),
		E2: int32(binary.LittleEndian.Uint32(b[60:])),
		E3: int32(binary.LittleEndian.Uint32(b[64:])),
		E4: int32(binary.LittleEndian.Uint32(b[68:])),
	}
	st.BatteryVoltage = getF32(b[72:])
	return p, nil
}

// EncodeCmd renders a CmdPayload.
func EncodeCmd(p CmdPayload) []byte {
	b := make([]byte, CmdPayloadSize)
	binary.LittleEndian.PutUint32(b[0:], p.Seq)
	binary.LittleEndian.PutUint16(b[4:], uint16(p.Motors.M1))
	binary.LittleEndian.PutUint16(b[6:], uint16(p.Motors.M2))
	binary.LittleEndian.PutUint16(b[8:], uint16(p.Motors.M3))
	binary.LittleEndian.PutUint16(b[10:], uint16(p.Motors.M4))
	return b
}

// DecodeCmd parses a CmdPayload.
func DecodeCmd(b []byte) (CmdPayload, error) {
	if len(b) != CmdPayloadSize {
		return CmdPayload{}, sizeErr("cmd", len(b), CmdPayloadSize)
	}
	return CmdPayload{
		Seq: binary.LittleEndian.Uint32(b[0:]),
		Motors: robot.MotorCommands{
			M1: int16(binary.LittleEndian.Uint16(b[4:])),
			M2: int16(binary.LittleEndian.Uint16(b[6:])),
			M3: int16(binary.LittleEndian.Uint16(b[8:])),
			M4: int16(binary.LittleEndian.Uint16(b[10:])),
		},
	}, nil
}

// EncodeSetpoint renders a SetpointPayload.
func EncodeSetpoint(p SetpointPayload) []byte {
	b := make([]byte, SetpointPayloadSize)
	binary.LittleEndian.PutUint32(b[0:], p.Seq)
	for i, sp := range p.SP {
		putF32(b[4+4*i:], sp)
	}
	b[20] = p.Flags
	return b
}

// DecodeSetpoint parses a SetpointPayload.
func DecodeSetpoint(b []byte) (SetpointPayload, error) {
	if len(b) != SetpointPayloadSize {
		return SetpointPayload{}, sizeErr("setpoint", len(b), SetpointPayloadSize)
	}
	var p SetpointPayload
	p.Seq = binary.LittleEndian.Uint32(b[0:])
	for i := range p.SP {
		p.SP[i] = getF32(b[4+4*i:])
	}
	p.Flags = b[20]
	return p, nil
}

// EncodeConfig renders a ConfigPayload.
func EncodeConfig(p ConfigPayload) []byte {
	b := make([]byte, ConfigPayloadSize)
	binary.LittleEndian.PutUint32(b[0:], p.Seq)
	b[4] = p.Key
	b[5] = p.U8
	binary.LittleEndian.PutUint16(b[6:], p.U16)
	binary.LittleEndian.PutUint32(b[8:], p.U32)
	return b
}

// DecodeConfig parses a ConfigPayload.
func DecodeConfig(b []byte) (ConfigPayload, error) {
	if len(b) != ConfigPayloadSize {
		return ConfigPayload{}, sizeErr("config", len(b), ConfigPayloadSize)
	}
	return ConfigPayload{
		Seq: binary.LittleEndian.Uint32(b[0:]),
		Key: b[4],
		U8:  b[5],
		U16: binary.LittleEndian.Uint16(b[6:]),
		U32: binary.LittleEndian.Uint32(b[8:]),
	}, nil
}

// EncodeStats renders a StatsPayload.
func EncodeStats(p StatsPayload) []byte {
	b := make([]byte, StatsPayloadSize)
	binary.LittleEndian.PutUint32(b[0:], p.Seq)
	binary.LittleEndian.PutUint32(b[4:], p.UptimeMS)
	putF32(b[8:], p.USBHz)
	putF32(b[12:], p.TCPHz)
	putF32(b[16:], p.CtrlHz)
	binary.LittleEndian.PutUint32(b[20:], p.DropsState)
	binary.LittleEndian.PutUint32(b[24:], p.DropsCmd)
	binary.LittleEndian.PutUint32(b[28:], p.DropsEvent)
	binary.LittleEndian.PutUint32(b[32:], p.DropsSysEvent)
	binary.LittleEndian.PutUint32(b[36:], p.TCPFramesBad)
	binary.LittleEndian.PutUint32(b[40:], p.SerialErrors)
	binary.LittleEndian.PutUint32(b[44:], p.Reserved)
	return b
}

// DecodeStats parses a StatsPayload.
func DecodeStats(b []byte) (StatsPayload, error) {
	if len(b) != StatsPayloadSize {
		return StatsPayload{}, sizeErr("stats", len(b), StatsPayloadSize)
	}
	return StatsPayload{
		Seq:           binary.LittleEndian.Uint32(b[0:]),
		UptimeMS:      binary.LittleEndian.Uint32(b[4:]),
		USBHz:         getF32(b[8:]),
		TCPHz:         getF32(b[12:]),
		CtrlHz:        getF32(b[16:]),
		DropsState:    binary.LittleEndian.Uint32(b[20:]),
		DropsCmd:      binary.LittleEndian.Uint32(b[24:]),
		DropsEvent:    binary.LittleEndian.Uint32(b[28:]),
		DropsSysEvent: binary.LittleEndian.Uint32(b[32:]),
		TCPFramesBad:  binary.LittleEndian.Uint32(b[36:]),
		SerialErrors:  binary.LittleEndian.Uint32(b[40:]),
		Reserved:      binary.LittleEndian.Uint32(b[44:]),
	}, nil
}
