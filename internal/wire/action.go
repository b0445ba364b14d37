package wire

import (
	"encoding/binary"

	"github.com/banshee-data/rover.gateway/internal/robot"
)

// ActionPayloadSize is the wire size of the extended command form:
// seq + 4 motors + beep + flags.
const ActionPayloadSize = 14

// ActionPayload is the extended MsgCmd form carrying the one-shot beep and
// the flag byte alongside the motor speeds. The 12-byte motors-only form
// carries neither; DecodeCmdFrame accepts both.
type ActionPayload struct {
	Seq     uint32
	Actions robot.Actions
}

// EncodeAction renders an ActionPayload.
func EncodeAction(p ActionPayload) []byte {
	b := make([]byte, ActionPayloadSize)
	binary.LittleEndian.PutUint32(b[0:], p.Seq)
	binary.LittleEndian.PutUint16(b[4:], uint16(p.Actions.Motors.M1))
	binary.LittleEndian.PutUint16(b[6:], uint16(p.Actions.Motors.M2))
	binary.LittleEndian.PutUint16(b[8:], uint16(p.Actions.Motors.M3))
	binary.LittleEndian.PutUint16(b[10:], uint16(p.Actions.Motors.M4))
	b[12] = p.Actions.BeepMS
	b[13] = p.Actions.Flags
	return b
}

// DecodeAction parses an ActionPayload.
func DecodeAction(b []byte) (ActionPayload, error) {
	if len(b) != ActionPayloadSize {
		return ActionPayload{}, sizeErr("action", len(b), ActionPayloadSize)
	}
	var p ActionPayload
	p.Seq = binary.LittleEndian.Uint32(b[0:])
	p.Actions.Motors = robot.MotorCommands{
		M1: int16(binary.LittleEndian.Uint16(b[4:])),
		M2: int16(binary.LittleEndian.Uint16(b[6:])),
		M3: int16(binary.LittleEndian.Uint16(b[8:])),
		M4: int16(binary.LittleEndian.Uint16(b[10:])),
	}
	p.Actions.BeepMS = b[12]
	p.Actions.Flags = b[13]
	return p, nil
}

// DecodeCmdFrame parses a MsgCmd payload in either accepted form. The
// 12-byte motors-only form decodes with zero beep and flags.
func DecodeCmdFrame(b []byte) (ActionPayload, error) {
	switch len(b) {
	case CmdPayloadSize:
		p, err := DecodeCmd(b)
		if err != nil {
			return ActionPayload{}, err
		}
		return ActionPayload{Seq: p.Seq, Actions: robot.Actions{Motors: p.Motors}}, nil
	case ActionPayloadSize:
		return DecodeAction(b)
	}
	return ActionPayload{}, sizeErr("cmd", len(b), CmdPayloadSize)
}
