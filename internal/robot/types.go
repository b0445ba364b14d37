// Package robot defines the shared data model for the gateway: sensor state
// reported by the motor controller board, motor commands flowing the other
// way, and the timestamped samples recorded to the binary log.
package robot

// Vec3 is a three-axis float sample (accelerometer, gyro, or magnetometer).
type Vec3 struct {
	X, Y, Z float32
}

// Scale returns v with every axis multiplied by s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// IMU holds one full inertial sample.
type IMU struct {
	Acc  Vec3
	Gyro Vec3
	Mag  Vec3
}

// Angles is the attitude estimate reported by the board. The unit is
// whatever the firmware sends; it is forwarded unmodified.
type Angles struct {
	Roll  float32
	Pitch float32
	Yaw   float32
}

// Encoders holds the four wheel encoder counts.
type Encoders struct {
	E1, E2, E3, E4 int32
}

// States is the full sensor snapshot published by the USB worker.
type States struct {
	IMU            IMU
	Angles         Angles
	Encoders       Encoders
	BatteryVoltage float32
}

// MotorKeep is the sentinel motor value meaning "keep the previous speed".
// It crosses the serial protocol unclamped.
const MotorKeep = 127

// MotorCommands carries the four motor speeds in the semantic range
// [-100, 100], or MotorKeep.
type MotorCommands struct {
	M1, M2, M3, M4 int16
}

// IsZero reports whether all four motors are commanded to zero.
func (m MotorCommands) IsZero() bool {
	return m.M1 == 0 && m.M2 == 0 && m.M3 == 0 && m.M4 == 0
}

// ClampMotor limits a motor value to [-100, 100], passing MotorKeep through.
func ClampMotor(v int16) int16 {
	if v == MotorKeep {
		return v
	}
	if v > 100 {
		return 100
	}
	if v < -100 {
		return -100
	}
	return v
}

// Clamped returns a copy with every motor value clamped.
func (m MotorCommands) Clamped() MotorCommands {
	return MotorCommands{
		M1: ClampMotor(m.M1),
		M2: ClampMotor(m.M2),
		M3: ClampMotor(m.M3),
		M4: ClampMotor(m.M4),
	}
}

// Actions is a full command bundle from a remote client. BeepMS is a
// one-shot: it must be zero on any Actions value applied continuously.
type Actions struct {
	Motors MotorCommands
	BeepMS uint8
	Flags  uint8
}

// Timestamps pairs a wall-clock stamp with a monotonic one. EpochS is
// seconds since the Unix epoch; MonoS is seconds on the monotonic clock
// since process start.
type Timestamps struct {
	EpochS float64
	MonoS  float64
}
