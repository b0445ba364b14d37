package gateway

import (
	"time"

	"github.com/banshee-data/rover.gateway/internal/binlog"
	"github.com/banshee-data/rover.gateway/internal/fsutil"
	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
)

const (
	logDrainBatch    = 1024
	logCyclePeriod   = 5 * time.Millisecond
	dropWarnInterval = time.Second
	healthInterval   = 5 * time.Second
)

// LogWorker drains all logger rings into the rotating binary log and emits
// the periodic drop and health summaries.
type LogWorker struct {
	sh   *SharedState
	stop *syncutil.StopFlag
	fs   fsutil.FileSystem
}

// NewLogWorker creates the worker. A nil fs writes through the OS
// filesystem.
func NewLogWorker(sh *SharedState, stop *syncutil.StopFlag, fs fsutil.FileSystem) *LogWorker {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &LogWorker{sh: sh, stop: stop, fs: fs}
}

// Run drives the worker until the stop flag rises, then drains what is
// left and closes the segment.
func (w *LogWorker) Run() {
	cfg := w.sh.Config()
	clock := w.sh.Clock()

	var writer *binlog.Writer
	if cfg.BinaryLog {
		tag := clock.Now().Format("20060102_150405")
		var err error
		writer, err = binlog.NewWriter(w.fs, cfg.LogPath,
			uint64(cfg.LogRotateMB)*1024*1024, cfg.LogRotateKeep, tag)
		if err != nil {
			monitoring.Warnf("[log] binary log disabled: %v", err)
			writer = nil
		}
	}

	monitoring.Logf("[log] started")

	dropWarn := newThrottle(clock, dropWarnInterval)
	health := newThrottle(clock, healthInterval)
	var lastDrops [6]uint64

	for !w.stop.Stopped() {
		w.drainAll(writer)

		dropWarn.Do(func() { w.warnDrops(&lastDrops) })
		health.Do(func() { w.healthSummary() })

		clock.Sleep(logCyclePeriod)
	}

	// Final drain so shutdown does not lose buffered samples.
	w.drainAll(writer)

	if writer != nil {
		if err := writer.Close(); err != nil {
			monitoring.Warnf("[log] close: %v", err)
		}
	}
	monitoring.Logf("[log] stopped")
}

func (w *LogWorker) drainAll(writer *binlog.Writer) {
	write := func(rt binlog.RecordType, ts robot.Timestamps, payload []byte) {
		if writer == nil {
			return
		}
		if err := writer.WriteRecord(rt, ts, payload); err != nil {
			monitoring.Warnf("[log] write %s record: %v", rt, err)
		}
	}

	w.sh.StateRing.Drain(logDrainBatch, func(s robot.StateSample) {
		write(binlog.RecordState, s.TS, s.Encode())
	})
	w.sh.CmdRing.Drain(logDrainBatch, func(s robot.MotorCommandsSample) {
		write(binlog.RecordCmd, s.TS, s.Encode())
	})
	w.sh.EventRing.Drain(logDrainBatch, func(s robot.EventSample) {
		write(binlog.RecordEvent, s.TS, s.Encode())
	})
	w.sh.SysEventRing.Drain(logDrainBatch, func(s robot.EventSample) {
		write(binlog.RecordEvent, s.TS, s.Encode())
	})
}

// warnDrops logs any ring whose drop counter advanced since the last check.
func (w *LogWorker) warnDrops(last *[6]uint64) {
	counters := [6]struct {
		name string
		now  uint64
	}{
		{"state_ring", w.sh.StateRing.Drops()},
		{"cmd_ring", w.sh.CmdRing.Drops()},
		{"event_ring", w.sh.EventRing.Drops()},
		{"sys_event_ring", w.sh.SysEventRing.Drops()},
		{"event_cmd_q", w.sh.EventCmdQ.Drops()},
		{"sys_event_q", w.sh.SysEventQ.Drops()},
	}
	for i, c := range counters {
		if c.now != last[i] {
			monitoring.Warnf("[log] drops %s=%d", c.name, c.now)
			last[i] = c.now
		}
	}
}

func (w *LogWorker) healthSummary() {
	cfg := w.sh.Config()
	cmdAge := -1.0
	if rx := w.sh.LastCmdRx(); rx > 0 {
		cmdAge = w.sh.NowMono() - rx
	}
	monitoring.Logf("[log] health: usb=%.0fHz tcp=%.0fHz ctrl=%.0fHz cmd_age=%.3fs bad_frames=%d serial_errors=%d",
		cfg.USBHz, cfg.TCPHz, cfg.CtrlHz, cmdAge,
		w.sh.TCPFramesBad.Load(), w.sh.SerialErrors.Load())
}
