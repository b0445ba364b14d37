package gateway

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
	"github.com/banshee-data/rover.gateway/internal/timeutil"
	"github.com/banshee-data/rover.gateway/internal/wire"
)

// SystemState is the controller's view of the system: whether motion is
// armed, the active control mode, and the continuous (non-event) command
// flag bits.
type SystemState struct {
	Running         bool
	Mode            ControlMode
	ContinuousFlags uint8
}

// Ring capacities. The event queues are small because they carry one-shot
// commands; the logger rings absorb bursts while the log worker is on disk.
const (
	eventQueueCap   = 256
	stateRingCap    = 4096
	cmdRingCap      = 2048
	eventRingCap    = 2048
	sysEventRingCap = 2048
)

// SharedState is the only channel between workers. Each ring has exactly
// one writer worker, and so does each mailbox, except that the controller's
// reset event also clears LatestRemoteCmd and LatestSetpoint; the config
// pointer is swapped only by the TCP worker.
type SharedState struct {
	cfg atomic.Pointer[RuntimeConfig]

	// Latest-value mailboxes.
	LatestState        syncutil.Mailbox[robot.States]        // usb -> tcp, controller
	LatestRemoteCmd    syncutil.Mailbox[robot.MotorCommands] // tcp -> controller
	LatestSetpoint     syncutil.Mailbox[wire.SetpointPayload]
	LatestMotorRequest syncutil.Mailbox[robot.MotorCommands] // controller -> usb
	System             syncutil.Mailbox[SystemState]         // controller -> usb

	// One-shot event queues.
	EventCmdQ *syncutil.Ring[robot.EventCmd] // tcp -> usb (hardware events)
	SysEventQ *syncutil.Ring[robot.EventCmd] // tcp -> controller

	// Logger rings, drained only by the log worker.
	StateRing    *syncutil.Ring[robot.StateSample]
	CmdRing      *syncutil.Ring[robot.MotorCommandsSample]
	EventRing    *syncutil.Ring[robot.EventSample]
	SysEventRing *syncutil.Ring[robot.EventSample]

	// Diagnostics.
	TCPFramesBad atomic.Uint32
	SerialErrors atomic.Uint32

	// Fatal is set when a worker hits a fatal startup error (cannot bind,
	// cannot open serial); main exits nonzero after shutdown.
	Fatal atomic.Bool

	lastCmdRxMono atomic.Uint64 // float64 bits, monotonic seconds
	cmdRxSeen     atomic.Bool   // set by the first MarkCmdRx
	lastCmdFlags  atomic.Uint32 // last flag byte seen by tcp

	clock timeutil.Clock
	start time.Time
}

// NewSharedState builds the shared state with cfg as the initial snapshot.
func NewSharedState(cfg *RuntimeConfig, clock timeutil.Clock) *SharedState {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sh := &SharedState{
		EventCmdQ:    syncutil.NewRing[robot.EventCmd](eventQueueCap),
		SysEventQ:    syncutil.NewRing[robot.EventCmd](eventQueueCap),
		StateRing:    syncutil.NewRing[robot.StateSample](stateRingCap),
		CmdRing:      syncutil.NewRing[robot.MotorCommandsSample](cmdRingCap),
		EventRing:    syncutil.NewRing[robot.EventSample](eventRingCap),
		SysEventRing: syncutil.NewRing[robot.EventSample](sysEventRingCap),
		clock:        clock,
		start:        clock.Now(),
	}
	sh.cfg.Store(cfg)
	sh.System.Store(SystemState{Running: cfg.ArmOnStart, Mode: cfg.Mode})
	return sh
}

// Config returns the current immutable config snapshot.
func (sh *SharedState) Config() *RuntimeConfig {
	return sh.cfg.Load()
}

// SwapConfig publishes a new config snapshot. Only the TCP worker calls
// this at runtime.
func (sh *SharedState) SwapConfig(cfg *RuntimeConfig) {
	sh.cfg.Store(cfg)
}

// Clock returns the time source all workers share.
func (sh *SharedState) Clock() timeutil.Clock {
	return sh.clock
}

// Now returns the paired wall/monotonic timestamps.
func (sh *SharedState) Now() robot.Timestamps {
	now := sh.clock.Now()
	return robot.Timestamps{
		EpochS: float64(now.UnixNano()) / 1e9,
		MonoS:  now.Sub(sh.start).Seconds(),
	}
}

// NowMono returns monotonic seconds since process start.
func (sh *SharedState) NowMono() float64 {
	return sh.clock.Now().Sub(sh.start).Seconds()
}

// MarkCmdRx records the monotonic time of the last received remote command
// (cmd or setpoint frame). Written only by the TCP worker.
func (sh *SharedState) MarkCmdRx(monoS float64) {
	sh.lastCmdRxMono.Store(math.Float64bits(monoS))
	sh.cmdRxSeen.Store(true)
}

// LastCmdRx returns the monotonic time of the last received remote
// command, or zero when none has ever arrived.
func (sh *SharedState) LastCmdRx() float64 {
	return math.Float64frombits(sh.lastCmdRxMono.Load())
}

// SetLastCmdFlags records the flag byte of the most recent command frame.
func (sh *SharedState) SetLastCmdFlags(f uint8) {
	sh.lastCmdFlags.Store(uint32(f))
}

// LastCmdFlags returns the flag byte of the most recent command frame.
func (sh *SharedState) LastCmdFlags() uint8 {
	return uint8(sh.lastCmdFlags.Load())
}

// CmdTimedOut reports whether the command watchdog has expired: a command
// has been seen, enforcement is on, and its age exceeds the window.
func (sh *SharedState) CmdTimedOut(cfg *RuntimeConfig, nowMono float64) bool {
	if cfg.TimeoutMode != TimeoutEnforce {
		return false
	}
	if !sh.cmdRxSeen.Load() {
		return false
	}
	return nowMono-sh.LastCmdRx() > cfg.CmdTimeout.Seconds()
}

// Uptime returns the wall time since the shared state was created.
func (sh *SharedState) Uptime() time.Duration {
	return sh.clock.Now().Sub(sh.start)
}

// Stats assembles the current health snapshot.
func (sh *SharedState) Stats(seq uint32) wire.StatsPayload {
	cfg := sh.Config()
	return wire.StatsPayload{
		Seq:           seq,
		UptimeMS:      uint32(sh.Uptime().Milliseconds()),
		USBHz:         float32(cfg.USBHz),
		TCPHz:         float32(cfg.TCPHz),
		CtrlHz:        float32(cfg.CtrlHz),
		DropsState:    uint32(sh.StateRing.Drops()),
		DropsCmd:      uint32(sh.CmdRing.Drops()),
		DropsEvent:    uint32(sh.EventRing.Drops()),
		DropsSysEvent: uint32(sh.SysEventRing.Drops()),
		TCPFramesBad:  sh.TCPFramesBad.Load(),
		SerialErrors:  sh.SerialErrors.Load(),
	}
}
