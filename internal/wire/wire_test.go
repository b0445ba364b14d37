package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover.gateway/internal/robot"
)

func TestCmdEncodeKnownBytes(t *testing.T) {
	p := CmdPayload{
		Seq:    0x04030201,
		Motors: robot.MotorCommands{M1: -10, M2: 20, M3: 30, M4: 40},
	}

	want := []byte{
		0x01, 0x02, 0x03, 0x04,
		0xF6, 0xFF,
		0x14, 0x00,
		0x1E, 0x00,
		0x28, 0x00,
	}
	assert.Equal(t, want, EncodeCmd(p))
}

func TestCmdRoundTrip(t *testing.T) {
	p := CmdPayload{Seq: 99, Motors: robot.MotorCommands{M1: -100, M2: 100, M3: robot.MotorKeep, M4: 0}}
	got, err := DecodeCmd(EncodeCmd(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodeCmd(make([]byte, CmdPayloadSize-1))
	assert.Error(t, err)
}

func TestSetpointRoundTrip(t *testing.T) {
	p := SetpointPayload{Seq: 5, SP: [4]float32{1.5, -2.25, 0, 1e6}, Flags: 0xA5}
	got, err := DecodeSetpoint(EncodeSetpoint(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodeSetpoint(make([]byte, SetpointPayloadSize+1))
	assert.Error(t, err)
}

func TestConfigRoundTrip(t *testing.T) {
	p := ConfigPayload{Seq: 12, Key: 4, U8: 1, U16: 250, U32: 0xCAFEBABE}
	got, err := DecodeConfig(EncodeConfig(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestStatsRoundTrip(t *testing.T) {
	p := StatsPayload{
		Seq:           3,
		UptimeMS:      123456,
		USBHz:         200,
		TCPHz:         100,
		CtrlHz:        200,
		DropsState:    1,
		DropsCmd:      2,
		DropsEvent:    3,
		DropsSysEvent: 4,
		TCPFramesBad:  5,
		SerialErrors:  6,
	}
	got, err := DecodeStats(EncodeStats(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestStateRoundTripAndFrameSize(t *testing.T) {
	p := StatePayload{
		Seq:   7,
		TMono: 1.25,
		States: robot.States{
			IMU: robot.IMU{
				Acc:  robot.Vec3{X: 0.1, Y: 0.2, Z: 9.8},
				Gyro: robot.Vec3{X: -1, Y: -2, Z: -3},
				Mag:  robot.Vec3{X: 4, Y: 5, Z: 6},
			},
			Angles:         robot.Angles{Roll: 0.5, Pitch: -0.5, Yaw: 3.1},
			Encoders:       robot.Encoders{E1: 10, E2: -20, E3: 30, E4: -40},
			BatteryVoltage: 12.3,
		},
	}

	payload := EncodeState(p)
	require.Len(t, payload, StatePayloadSize)

	got, err := DecodeState(payload)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	frame := Frame(MsgState, payload)
	assert.Len(t, frame, 79)
	assert.Equal(t, byte(MsgState), frame[0])
	assert.Equal(t, byte(Version), frame[1])
	assert.Equal(t, byte(StatePayloadSize), frame[2])
}

func TestDecoderSingleFrame(t *testing.T) {
	var d Decoder
	d.Push(Frame(MsgCmd, EncodeCmd(CmdPayload{Seq: 1})))

	msgType, payload, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, byte(MsgCmd), msgType)
	assert.Len(t, payload, CmdPayloadSize)

	_, _, ok = d.Next()
	assert.False(t, ok)
}

func TestDecoderPartialDelivery(t *testing.T) {
	frame := Frame(MsgSetpoint, EncodeSetpoint(SetpointPayload{Seq: 2}))

	var d Decoder
	for _, b := range frame {
		_, _, ok := d.Next()
		assert.False(t, ok)
		d.Push([]byte{b})
	}

	msgType, _, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, byte(MsgSetpoint), msgType)
}

func TestDecoderResyncAroundJunk(t *testing.T) {
	frame := Frame(MsgCmd, EncodeCmd(CmdPayload{Seq: 0xAABBCCDD}))

	var d Decoder
	d.Push([]byte{0x00, 0xFE, 0x07}) // junk prefix
	d.Push(frame)
	d.Push([]byte{0x09, 0x09}) // junk suffix
	d.Push(frame)

	var seqs []uint32
	for {
		msgType, payload, ok := d.Next()
		if !ok {
			break
		}
		require.Equal(t, byte(MsgCmd), msgType)
		p, err := DecodeCmd(payload)
		require.NoError(t, err)
		seqs = append(seqs, p.Seq)
	}

	assert.Equal(t, []uint32{0xAABBCCDD, 0xAABBCCDD}, seqs)
	assert.Greater(t, d.BadBytes, uint64(0))
}

func TestDecoderRejectsWrongVersion(t *testing.T) {
	frame := Frame(MsgCmd, EncodeCmd(CmdPayload{Seq: 1}))
	frame[1] = 2 // future version

	var d Decoder
	d.Push(frame)

	_, _, ok := d.Next()
	assert.False(t, ok)
	assert.Greater(t, d.BadBytes, uint64(0))
}

func TestDecoderRejectsEmptyPayloadWhereRequired(t *testing.T) {
	var d Decoder
	d.Push(EncodeHeader(MsgCmd, 0))
	_, _, ok := d.Next()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), d.BadBytes)

	// StatsReq legitimately has no payload.
	d.Reset()
	d.Push(EncodeHeader(MsgStatsReq, 0))
	msgType, payload, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, byte(MsgStatsReq), msgType)
	assert.Empty(t, payload)
}

func TestDecoderBufferCap(t *testing.T) {
	var d Decoder
	junk := make([]byte, MaxBufferBytes)
	d.Push(junk)
	d.Push([]byte{1}) // would exceed cap: buffer resets

	frame := Frame(MsgStatsReq, nil)
	d.Push(frame)

	// The single junk byte ahead of the frame is dropped, then the frame
	// decodes.
	msgType, _, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, byte(MsgStatsReq), msgType)
}

func TestActionRoundTrip(t *testing.T) {
	p := ActionPayload{
		Seq: 2,
		Actions: robot.Actions{
			Motors: robot.MotorCommands{M1: 10, M2: -10, M3: 0, M4: 100},
			BeepMS: 50,
			Flags:  0x05,
		},
	}
	got, err := DecodeAction(EncodeAction(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecodeCmdFrameBothForms(t *testing.T) {
	short := EncodeCmd(CmdPayload{Seq: 1, Motors: robot.MotorCommands{M1: 5}})
	p, err := DecodeCmdFrame(short)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p.Seq)
	assert.Equal(t, int16(5), p.Actions.Motors.M1)
	assert.Zero(t, p.Actions.BeepMS)
	assert.Zero(t, p.Actions.Flags)

	long := EncodeAction(ActionPayload{Seq: 2, Actions: robot.Actions{BeepMS: 100, Flags: 1}})
	p, err = DecodeCmdFrame(long)
	require.NoError(t, err)
	assert.Equal(t, uint8(100), p.Actions.BeepMS)

	_, err = DecodeCmdFrame(make([]byte, 13))
	assert.Error(t, err)
}
