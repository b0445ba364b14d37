package gateway

import (
	"time"

	"github.com/banshee-data/rover.gateway/internal/board"
	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
	"github.com/banshee-data/rover.gateway/internal/timeutil"
)

// maxHWEventsPerCycle bounds how many hardware events (beeps) one USB cycle
// applies, so a burst cannot starve the motor path.
const maxHWEventsPerCycle = 8

// Shutdown defense: the final zero-motor command is repeated so a single
// lost serial write cannot leave the motors running.
const (
	shutdownZeroBursts  = 5
	shutdownZeroSpacing = 10 * time.Millisecond
)

// USBWorker owns the serial connection to the board. It applies the
// controller's motor requests, services hardware events, and publishes
// sensor state at the configured rate.
type USBWorker struct {
	sh   *SharedState
	stop *syncutil.StopFlag

	// open is the port opener; tests inject fakes. When nil the worker
	// dials the configured serial device.
	open board.Opener
}

// NewUSBWorker creates the worker. A nil opener dials the device named in
// the config.
func NewUSBWorker(sh *SharedState, stop *syncutil.StopFlag, open board.Opener) *USBWorker {
	return &USBWorker{sh: sh, stop: stop, open: open}
}

// Run drives the worker until the stop flag rises. A failed serial open or
// a failed motor write is fatal to the whole process: the board is the
// reason the gateway exists.
func (w *USBWorker) Run() {
	cfg := w.sh.Config()
	clock := w.sh.Clock()

	open := w.open
	if open == nil {
		open = board.Dial(cfg.SerialDev, cfg.SerialBaud)
	}

	b, err := board.Connect(open, clock)
	if err != nil {
		monitoring.Errorf("[usb] cannot open %s@%d: %v", cfg.SerialDev, cfg.SerialBaud, err)
		w.sh.Fatal.Store(true)
		w.stop.Stop()
		return
	}
	defer b.Close()

	b.Start()
	if err := b.SetAutoReport(true, false); err != nil {
		monitoring.Errorf("[usb] enable auto report: %v", err)
		w.sh.SerialErrors.Add(1)
		w.stop.Stop()
		return
	}
	if err := b.RequestVersion(); err == nil {
		clock.Sleep(50 * time.Millisecond)
		if v := b.Version(); v > 0 {
			monitoring.Logf("[usb] board firmware v%.1f", v)
		}
	}

	monitoring.Logf("[usb] started on %s@%d", cfg.SerialDev, cfg.SerialBaud)

	rate := timeutil.NewRateLimiter(clock, cfg.USBHz)
	var cmdSeq, stateSeq uint32
	warnedTimeout := newThrottle(clock, time.Second)

	for !w.stop.Stopped() {
		cfg = w.sh.Config()
		rate.SetHz(cfg.USBHz)

		motors := w.sh.LatestMotorRequest.LoadOrZero()
		sys := w.sh.System.LoadOrZero()
		if !sys.Running {
			motors = robot.MotorCommands{}
		}

		// Watchdog: stale commands force zero regardless of what the
		// controller requested. This path must hold even if the
		// controller wedges.
		nowMono := w.sh.NowMono()
		if w.sh.CmdTimedOut(cfg, nowMono) {
			motors = robot.MotorCommands{}
			warnedTimeout.Do(func() {
				monitoring.Warnf("[usb] command timeout (%.0fms window), motors forced to zero",
					cfg.CmdTimeout.Seconds()*1000)
			})
		}

		if err := b.SetMotor(motors.M1, motors.M2, motors.M3, motors.M4); err != nil {
			w.sh.SerialErrors.Add(1)
			monitoring.Errorf("[usb] motor write failed: %v", err)
			w.stop.Stop()
			break
		}

		// Bounded hardware event servicing.
		w.sh.EventCmdQ.Drain(maxHWEventsPerCycle, func(ev robot.EventCmd) {
			if ev.Type == robot.EventBeep {
				if err := b.SetBeep(int(ev.Data0)); err != nil {
					w.sh.SerialErrors.Add(1)
					monitoring.Warnf("[usb] beep failed: %v", err)
				}
			}
			w.sh.EventRing.PushOverwrite(robot.EventSample{TS: w.sh.Now(), Event: ev})
		})

		// Publish sensor state.
		st := b.State()
		w.sh.LatestState.Store(st)
		stateSeq++
		w.sh.StateRing.PushOverwrite(robot.StateSample{TS: w.sh.Now(), Seq: stateSeq, States: st})

		// Record the command actually applied.
		cmdSeq++
		w.sh.CmdRing.PushOverwrite(robot.MotorCommandsSample{TS: w.sh.Now(), Seq: cmdSeq, Motors: motors})

		rate.Sleep()
	}

	// Zero the motors with a short burst before releasing the port.
	for i := 0; i < shutdownZeroBursts; i++ {
		if err := b.SetMotor(0, 0, 0, 0); err != nil {
			w.sh.SerialErrors.Add(1)
		}
		clock.Sleep(shutdownZeroSpacing)
	}

	monitoring.Logf("[usb] stopped (motors zeroed)")
}

// throttle gates an action to at most once per interval.
type throttle struct {
	clock    timeutil.Clock
	interval time.Duration
	last     time.Time
	armed    bool
}

func newThrottle(clock timeutil.Clock, interval time.Duration) *throttle {
	return &throttle{clock: clock, interval: interval}
}

// Do runs fn unless it already ran within the interval.
func (t *throttle) Do(fn func()) {
	now := t.clock.Now()
	if t.armed && now.Sub(t.last) < t.interval {
		return
	}
	t.armed = true
	t.last = now
	fn()
}
