package gateway

import (
	"time"

	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
	"github.com/banshee-data/rover.gateway/internal/timeutil"
	"github.com/banshee-data/rover.gateway/internal/wire"
)

// maxSysEventsPerCycle bounds system event handling per controller cycle.
const maxSysEventsPerCycle = 32

// ControllerWorker fuses the remote command, sensor state, and system mode
// into the motor request the USB worker applies. It also owns the system
// state machine driven by flag rise events.
type ControllerWorker struct {
	sh   *SharedState
	stop *syncutil.StopFlag
}

// NewControllerWorker creates the worker.
func NewControllerWorker(sh *SharedState, stop *syncutil.StopFlag) *ControllerWorker {
	return &ControllerWorker{sh: sh, stop: stop}
}

func bitMatches(configured int, bit uint8) bool {
	return configured >= 0 && configured < 8 && uint8(configured) == bit
}

// Run drives the worker until the stop flag rises. On exit it publishes a
// final zero request so the USB worker's last write is safe.
func (w *ControllerWorker) Run() {
	cfg := w.sh.Config()
	clock := w.sh.Clock()

	if cfg.CtrlThreadPrio > 0 {
		if err := setRealtimePriority(cfg.CtrlThreadPrio); err != nil {
			monitoring.Warnf("[ctrl] realtime priority %d not applied: %v", cfg.CtrlThreadPrio, err)
		} else {
			monitoring.Logf("[ctrl] running at FIFO priority %d", cfg.CtrlThreadPrio)
		}
	}

	monitoring.Logf("[ctrl] started in %s mode", cfg.Mode)

	rate := timeutil.NewRateLimiter(clock, cfg.CtrlHz)
	warnedTimeout := newThrottle(clock, time.Second)

	for !w.stop.Stopped() {
		cfg = w.sh.Config()
		rate.SetHz(cfg.CtrlHz)

		w.step(cfg, warnedTimeout)

		rate.Sleep()
	}

	// Leave a safe request behind for the USB worker's final writes.
	w.sh.LatestMotorRequest.Store(robot.MotorCommands{})

	monitoring.Logf("[ctrl] stopped")
}

// step runs one controller cycle: system event routing, watchdog
// evaluation, and motor request computation.
func (w *ControllerWorker) step(cfg *RuntimeConfig, warnedTimeout *throttle) {
	st := w.sh.LatestState.LoadOrZero()
	remote := w.sh.LatestRemoteCmd.LoadOrZero()
	sp := w.sh.LatestSetpoint.LoadOrZero()

	sys := w.sh.System.LoadOrZero()
	sys.Mode = cfg.Mode
	sys.ContinuousFlags = w.sh.LastCmdFlags() &^ cfg.FlagEventMask

	w.sh.SysEventQ.Drain(maxSysEventsPerCycle, func(ev robot.EventCmd) {
		if ev.Type != robot.EventFlagRise {
			return
		}
		bit := ev.Data0
		if bitMatches(cfg.FlagStartBit, bit) {
			sys.Running = true
			monitoring.Logf("[ctrl] start event (flag bit %d)", bit)
		}
		if bitMatches(cfg.FlagStopBit, bit) {
			sys.Running = false
			monitoring.Logf("[ctrl] stop event (flag bit %d)", bit)
		}
		if bitMatches(cfg.FlagResetBit, bit) {
			// Conservative reset: disarm and clear the continuous
			// command inputs.
			sys.Running = false
			w.sh.LatestRemoteCmd.Store(robot.MotorCommands{})
			w.sh.LatestSetpoint.Store(wire.SetpointPayload{})
			monitoring.Logf("[ctrl] reset event (flag bit %d)", bit)
		}
	})

	timedOut := w.sh.CmdTimedOut(cfg, w.sh.NowMono())
	if timedOut {
		warnedTimeout.Do(func() {
			age := w.sh.NowMono() - w.sh.LastCmdRx()
			monitoring.Warnf("[ctrl] command timeout: %.3fs > %.3fs, forcing motors to zero",
				age, cfg.CmdTimeout.Seconds())
		})
	}

	var out robot.MotorCommands
	if sys.Running && !timedOut {
		switch sys.Mode {
		case PassThrough:
			out = remote
		case Autonomous:
			// Controller hook: sensor state is available in st.
			_ = st
		case AutonomousSetpoint:
			// Controller hook: st and sp are available here.
			_ = st
			_ = sp
		}
	}

	w.sh.System.Store(sys)
	w.sh.LatestMotorRequest.Store(out)
}
