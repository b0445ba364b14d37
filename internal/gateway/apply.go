package gateway

import (
	"time"

	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/wire"
)

// Wire config keys accepted on MsgConfig.
const (
	cfgKeyUSBHz        = 1
	cfgKeyTCPHz        = 2
	cfgKeyCtrlHz       = 3
	cfgKeyCmdTimeoutMS = 4
	cfgKeyTimeoutMode  = 5
	cfgKeyRotateMB     = 6
	cfgKeyRotateKeep   = 7
	cfgKeyFlagMask     = 10
	cfgKeyControlMode  = 20
	cfgKeyCtrlPriority = 30
)

// applyConfigUpdate copies the current snapshot, mutates the addressed
// field with clamping, swaps the shared pointer, and emits a
// CONFIG_APPLIED event. Unknown keys are ignored but still acknowledged,
// so clients can probe newer keys safely.
func applyConfigUpdate(sh *SharedState, p wire.ConfigPayload) {
	next := *sh.Config()

	switch p.Key {
	case cfgKeyUSBHz:
		next.USBHz = clampF(float64(p.U16), minHz, maxHz)
	case cfgKeyTCPHz:
		next.TCPHz = clampF(float64(p.U16), minHz, maxHz)
	case cfgKeyCtrlHz:
		next.CtrlHz = clampF(float64(p.U16), minHz, maxHz)
	case cfgKeyCmdTimeoutMS:
		next.CmdTimeout = clampD(time.Duration(p.U16)*time.Millisecond, minCmdTimeout, maxCmdTimeout)
	case cfgKeyTimeoutMode:
		if p.U8 <= uint8(TimeoutDisable) {
			next.TimeoutMode = TimeoutMode(p.U8)
		}
	case cfgKeyRotateMB:
		next.LogRotateMB = clampI(int(p.U16), minRotateMB, maxRotateMB)
	case cfgKeyRotateKeep:
		next.LogRotateKeep = clampI(int(p.U16), minRotateKeep, maxRotateKeep)
	case cfgKeyFlagMask:
		next.FlagEventMask = p.U8
	case cfgKeyControlMode:
		if p.U8 <= uint8(AutonomousSetpoint) {
			next.Mode = ControlMode(p.U8)
		}
	case cfgKeyCtrlPriority:
		next.CtrlThreadPrio = int(int16(p.U16))
	default:
		monitoring.Warnf("[tcp] config key %d unknown, ignored", p.Key)
	}

	sh.SwapConfig(&next)

	ev := robot.EventCmd{Type: robot.EventConfigApplied, Seq: p.Seq, Data0: p.Key}
	sh.SysEventQ.PushOverwrite(ev)
	sh.SysEventRing.PushOverwrite(robot.EventSample{TS: sh.Now(), Event: ev})

	monitoring.Logf("[tcp] config key %d applied (seq %d)", p.Key, p.Seq)
}
