package gateway

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover.gateway/internal/board"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
)

// fakeSerial records every command frame the worker writes.
type fakeSerial struct {
	mu      sync.Mutex
	pending []byte
	frames  [][]byte
	wErr    error
	closed  bool
}

func (p *fakeSerial) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.EOF
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakeSerial) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wErr != nil {
		return 0, p.wErr
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	p.frames = append(p.frames, frame)
	return len(b), nil
}

func (p *fakeSerial) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeSerial) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	copy(out, p.frames)
	return out
}

// motorValues extracts the four signed motor bytes from a motor frame, or
// ok=false for other frame types.
func motorValues(frame []byte) ([4]int8, bool) {
	if len(frame) != 9 || frame[3] != 0x10 {
		return [4]int8{}, false
	}
	return [4]int8{int8(frame[4]), int8(frame[5]), int8(frame[6]), int8(frame[7])}, true
}

func newUSBFixture(t *testing.T, mutate func(*RuntimeConfig)) (*USBWorker, *SharedState, *syncutil.StopFlag, *fakeSerial) {
	t.Helper()
	sh, _ := newTestShared(t)
	if mutate != nil {
		next := *sh.Config()
		mutate(&next)
		sh.SwapConfig(&next)
	}
	port := &fakeSerial{}
	var stop syncutil.StopFlag
	w := NewUSBWorker(sh, &stop, func() (board.Porter, error) { return port, nil })
	return w, sh, &stop, port
}

func TestUSBWorkerAppliesMotorRequest(t *testing.T) {
	w, sh, stop, port := newUSBFixture(t, func(c *RuntimeConfig) {
		c.TimeoutMode = TimeoutDisable
	})

	sh.LatestMotorRequest.Store(robot.MotorCommands{M1: 10, M2: -20, M3: 30, M4: -40})

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()

	require.Eventually(t, func() bool {
		for _, f := range port.Frames() {
			if m, ok := motorValues(f); ok && m == [4]int8{10, -20, 30, -40} {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	stop.Stop()
	<-done

	// Shutdown burst: the last motor frames are all zero.
	frames := port.Frames()
	var lastMotors [][4]int8
	for _, f := range frames {
		if m, ok := motorValues(f); ok {
			lastMotors = append(lastMotors, m)
		}
	}
	require.GreaterOrEqual(t, len(lastMotors), shutdownZeroBursts)
	for _, m := range lastMotors[len(lastMotors)-shutdownZeroBursts:] {
		assert.Equal(t, [4]int8{}, m)
	}

	// Auto-report was enabled on startup.
	found := false
	for _, f := range frames {
		if len(f) == 7 && f[3] == 0x01 && f[4] == 1 {
			found = true
		}
	}
	assert.True(t, found, "auto report frame not written")
}

func TestUSBWorkerWatchdogZeroesMotors(t *testing.T) {
	w, sh, stop, port := newUSBFixture(t, nil)
	defer stop.Stop()

	sh.LatestMotorRequest.Store(robot.MotorCommands{M1: 60})
	sh.MarkCmdRx(sh.NowMono())

	go w.Run()

	// The worker's own rate sleeps advance the mock clock past the 200ms
	// window; after that every applied frame must be zero.
	require.Eventually(t, func() bool {
		frames := port.Frames()
		if len(frames) < 10 {
			return false
		}
		m, ok := motorValues(frames[len(frames)-1])
		return ok && m == [4]int8{} && sh.NowMono() > 0.3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUSBWorkerNotRunningZeroesMotors(t *testing.T) {
	w, sh, stop, port := newUSBFixture(t, func(c *RuntimeConfig) {
		c.TimeoutMode = TimeoutDisable
	})
	defer stop.Stop()

	sh.System.Store(SystemState{Running: false})
	sh.LatestMotorRequest.Store(robot.MotorCommands{M1: 60})

	go w.Run()

	require.Eventually(t, func() bool {
		frames := port.Frames()
		if len(frames) == 0 {
			return false
		}
		m, ok := motorValues(frames[len(frames)-1])
		return ok && m == [4]int8{}
	}, 2*time.Second, 5*time.Millisecond)

	// No non-zero motor frame ever went out.
	for _, f := range port.Frames() {
		if m, ok := motorValues(f); ok {
			assert.Equal(t, [4]int8{}, m)
		}
	}
}

func TestUSBWorkerBeepEvent(t *testing.T) {
	w, sh, stop, port := newUSBFixture(t, func(c *RuntimeConfig) {
		c.TimeoutMode = TimeoutDisable
	})
	defer stop.Stop()

	sh.EventCmdQ.PushOverwrite(robot.EventCmd{Type: robot.EventBeep, Seq: 1, Data0: 100})

	go w.Run()

	require.Eventually(t, func() bool {
		for _, f := range port.Frames() {
			if len(f) == 7 && f[3] == 0x02 && f[4] == 100 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// The event was logged to the event ring.
	require.Eventually(t, func() bool {
		s, ok := sh.EventRing.Pop()
		return ok && s.Event.Type == robot.EventBeep && s.Event.Data0 == 100
	}, time.Second, 5*time.Millisecond)
}

func TestUSBWorkerPublishesState(t *testing.T) {
	w, sh, stop, port := newUSBFixture(t, func(c *RuntimeConfig) {
		c.TimeoutMode = TimeoutDisable
	})
	defer stop.Stop()

	go w.Run()

	// Feed an encoder report through the fake port.
	enc := make([]byte, 16)
	enc[0] = 99
	payload := append([]byte{}, enc...)
	extLen := byte(len(payload) + 3)
	frame := []byte{0xFF, 0xFB, extLen, 0x0D}
	frame = append(frame, payload...)
	sum := extLen + 0x0D
	for _, v := range payload {
		sum += v
	}
	frame = append(frame, sum)

	port.mu.Lock()
	port.pending = append(port.pending, frame...)
	port.mu.Unlock()

	require.Eventually(t, func() bool {
		st, ok := sh.LatestState.Load()
		return ok && st.Encoders.E1 == 99
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		s, ok := sh.StateRing.Pop()
		return ok && s.Seq > 0
	}, time.Second, 5*time.Millisecond)
}

func TestUSBWorkerOpenFailureIsFatal(t *testing.T) {
	sh, _ := newTestShared(t)
	var stop syncutil.StopFlag
	w := NewUSBWorker(sh, &stop, func() (board.Porter, error) {
		return nil, errors.New("no such device")
	})

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.True(t, stop.Stopped())
}

func TestUSBWorkerWriteFailureIsFatal(t *testing.T) {
	w, sh, stop, port := newUSBFixture(t, nil)
	port.wErr = errors.New("io failure")

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.True(t, stop.Stopped())
	assert.Greater(t, sh.SerialErrors.Load(), uint32(0))
}
