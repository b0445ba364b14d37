package gateway

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover.gateway/internal/binlog"
	"github.com/banshee-data/rover.gateway/internal/fsutil"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
)

func TestLogWorkerWritesAllRingTypes(t *testing.T) {
	sh, _ := newTestShared(t)
	fs := fsutil.NewMemoryFileSystem()
	var stop syncutil.StopFlag
	w := NewLogWorker(sh, &stop, fs)

	sh.StateRing.PushOverwrite(robot.StateSample{TS: sh.Now(), Seq: 1})
	sh.CmdRing.PushOverwrite(robot.MotorCommandsSample{TS: sh.Now(), Seq: 1, Motors: robot.MotorCommands{M1: 5}})
	sh.EventRing.PushOverwrite(robot.EventSample{TS: sh.Now(), Event: robot.EventCmd{Type: robot.EventBeep, Data0: 9}})
	sh.SysEventRing.PushOverwrite(robot.EventSample{TS: sh.Now(), Event: robot.EventCmd{Type: robot.EventFlagRise, Data0: 1}})

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()

	require.Eventually(t, func() bool {
		return sh.StateRing.Len() == 0 && sh.SysEventRing.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	stop.Stop()
	<-done

	names, err := fs.List("logs")
	require.NoError(t, err)
	require.Len(t, names, 1)

	data, err := fs.ReadFile("logs/" + names[0])
	require.NoError(t, err)

	r := bytes.NewReader(data)
	require.NoError(t, binlog.ReadFileHeader(r))

	var types []binlog.RecordType
	for {
		h, payload, err := binlog.ReadRecord(r)
		if err != nil {
			break
		}
		assert.Equal(t, binlog.ExpectedPayloadSize(h.Type), int(h.PayloadLen))
		assert.Len(t, payload, int(h.PayloadLen))
		types = append(types, h.Type)
	}

	// One record per ring; both event rings produce EVENT records.
	assert.Equal(t, []binlog.RecordType{
		binlog.RecordState, binlog.RecordCmd, binlog.RecordEvent, binlog.RecordEvent,
	}, types)
}

func TestLogWorkerDisabled(t *testing.T) {
	sh, _ := newTestShared(t)
	next := *sh.Config()
	next.BinaryLog = false
	sh.SwapConfig(&next)

	fs := fsutil.NewMemoryFileSystem()
	var stop syncutil.StopFlag
	w := NewLogWorker(sh, &stop, fs)

	sh.StateRing.PushOverwrite(robot.StateSample{TS: sh.Now(), Seq: 1})

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()

	// Rings still drain even with the file sink off.
	require.Eventually(t, func() bool {
		return sh.StateRing.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	stop.Stop()
	<-done

	names, _ := fs.List("logs")
	assert.Empty(t, names)
}

func TestLogWorkerFinalDrainOnShutdown(t *testing.T) {
	sh, _ := newTestShared(t)
	fs := fsutil.NewMemoryFileSystem()
	var stop syncutil.StopFlag
	w := NewLogWorker(sh, &stop, fs)

	// Stop before the worker starts: Run must still drain what is queued.
	sh.CmdRing.PushOverwrite(robot.MotorCommandsSample{TS: sh.Now(), Seq: 1})
	stop.Stop()
	w.Run()

	names, err := fs.List("logs")
	require.NoError(t, err)
	require.Len(t, names, 1)

	data, err := fs.ReadFile("logs/" + names[0])
	require.NoError(t, err)

	r := bytes.NewReader(data)
	require.NoError(t, binlog.ReadFileHeader(r))
	h, _, err := binlog.ReadRecord(r)
	require.NoError(t, err)
	assert.Equal(t, binlog.RecordCmd, h.Type)
}
