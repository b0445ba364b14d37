// Package board drives the USB-attached motor/IMU controller over its
// framed serial protocol: command frame construction, response parsing with
// checksum verification and resync, and scaling of raw sensor reports.
package board

import (
	"encoding/binary"

	"github.com/banshee-data/rover.gateway/internal/robot"
)

const (
	frameHead  = 0xFF
	deviceID   = 0xFC
	responseID = deviceID - 1 // second byte of board-originated frames
	complement = uint8(257 - deviceID)
)

// Function words understood by the firmware.
const (
	funcAutoReport    = 0x01
	funcBeep          = 0x02
	funcReportSpeed   = 0x0A
	funcReportMPURaw  = 0x0B
	funcReportIMUAtt  = 0x0C
	funcReportEncoder = 0x0D
	funcReportICMRaw  = 0x0E
	funcMotor         = 0x10
	funcRequestData   = 0x50
	funcVersion       = 0x51
)

// Report scaling factors. The MPU gyro axes arrive in board order and are
// rearranged to (gx, -gy, -gz) before scaling. Attitude comes as i16/10000
// in whatever unit the firmware uses; it is not converted.
const (
	gyroRatio  = float32(1.0 / 3754.9)
	accelRatio = float32(1.0 / 1671.84)
	magRatio   = float32(1.0)
	milliRatio = float32(1.0 / 1000.0)
	attRatio   = float32(1.0 / 10000.0)
)

const maxResponseData = 200

// buildFixed5 builds the fixed five-length frame
// [head, device, 0x05, fn, p0, p1, checksum].
func buildFixed5(fn, p0, p1 byte) []byte {
	cmd := []byte{frameHead, deviceID, 0x05, fn, p0, p1, 0}
	cmd[len(cmd)-1] = checksum(cmd[:len(cmd)-1])
	return cmd
}

// buildVar builds a variable-length frame. The length byte is the total
// frame length before the checksum, minus one.
func buildVar(fn byte, payload []byte) []byte {
	cmd := make([]byte, 0, 4+len(payload)+1)
	cmd = append(cmd, frameHead, deviceID, 0, fn)
	cmd = append(cmd, payload...)
	cmd[2] = byte(len(cmd) - 1)
	return append(cmd, checksum(cmd))
}

// checksum sums the frame bytes plus the device complement, modulo 256.
func checksum(b []byte) byte {
	sum := complement
	for _, v := range b {
		sum += v
	}
	return sum
}

// frameDecoder reassembles board responses from the raw byte stream.
// Responses look like [0xFF, responseID, extLen, extType, data..., check]
// where extLen counts everything after the second byte except itself plus
// one, and the trailing check byte satisfies
// (extLen + extType + sum(data)) & 0xFF == check.
//
// Any verification failure drops a single byte and rescans, so a corrupted
// stream recovers on the next intact frame.
type frameDecoder struct {
	buf []byte
}

func (d *frameDecoder) push(p []byte) {
	d.buf = append(d.buf, p...)
}

// next extracts the next verified response. The returned data excludes the
// checksum byte. dropped reports how many bytes were discarded during
// resync.
func (d *frameDecoder) next() (extType byte, data []byte, dropped int, ok bool) {
	for {
		if len(d.buf) < 4 {
			return 0, nil, dropped, false
		}
		if d.buf[0] != frameHead || d.buf[1] != responseID {
			d.buf = d.buf[1:]
			dropped++
			continue
		}

		extLen := int(d.buf[2])
		extType = d.buf[3]
		dataLen := extLen - 2 // bytes following the type, checksum included
		if dataLen <= 0 || dataLen > maxResponseData {
			d.buf = d.buf[1:]
			dropped++
			continue
		}
		if len(d.buf) < 4+dataLen {
			return 0, nil, dropped, false
		}

		body := d.buf[4 : 4+dataLen]
		check := body[dataLen-1]
		sum := uint8(extLen) + extType
		for _, v := range body[:dataLen-1] {
			sum += v
		}
		if sum != check {
			d.buf = d.buf[1:]
			dropped++
			continue
		}

		data = make([]byte, dataLen-1)
		copy(data, body[:dataLen-1])
		d.buf = d.buf[4+dataLen:]
		return extType, data, dropped, true
	}
}

func leI16(b []byte) int16 {
	return int16(binary.LittleEndian.Uint16(b))
}

func leI32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

func parseVec3(b []byte) robot.Vec3 {
	return robot.Vec3{
		X: float32(leI16(b[0:])),
		Y: float32(leI16(b[2:])),
		Z: float32(leI16(b[4:])),
	}
}

// rearrangeGyro maps the MPU gyro axes into the body frame.
func rearrangeGyro(v robot.Vec3) robot.Vec3 {
	return robot.Vec3{X: v.X, Y: -v.Y, Z: -v.Z}
}

// applyReport folds one verified response into st. It returns false when
// the type is not a state report handled here.
func applyReport(st *robot.States, extType byte, data []byte) bool {
	switch extType {
	case funcReportSpeed:
		if len(data) < 7 {
			return false
		}
		st.BatteryVoltage = float32(data[6]) / 10.0
		return true

	case funcReportMPURaw:
		if len(data) < 18 {
			return false
		}
		st.IMU.Gyro = rearrangeGyro(parseVec3(data[0:])).Scale(gyroRatio)
		st.IMU.Acc = parseVec3(data[6:]).Scale(accelRatio)
		st.IMU.Mag = parseVec3(data[12:]).Scale(magRatio)
		return true

	case funcReportICMRaw:
		if len(data) < 18 {
			return false
		}
		st.IMU.Gyro = parseVec3(data[0:]).Scale(milliRatio)
		st.IMU.Acc = parseVec3(data[6:]).Scale(milliRatio)
		st.IMU.Mag = parseVec3(data[12:]).Scale(milliRatio)
		return true

	case funcReportIMUAtt:
		if len(data) < 6 {
			return false
		}
		st.Angles.Roll = float32(leI16(data[0:])) * attRatio
		st.Angles.Pitch = float32(leI16(data[2:])) * attRatio
		st.Angles.Yaw = float32(leI16(data[4:])) * attRatio
		return true

	case funcReportEncoder:
		if len(data) < 16 {
			return false
		}
		st.Encoders.E1 = leI32(data[0:])
		st.Encoders.E2 = leI32(data[4:])
		st.Encoders.E3 = leI32(data[8:])
		st.Encoders.E4 = leI32(data[12:])
		return true
	}
	return false
}
