package board

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/timeutil"
)

// fakePort implements Porter against in-memory buffers.
type fakePort struct {
	mu      sync.Mutex
	pending []byte
	written []byte
	wErr    error
	closed  bool
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

func (p *fakePort) Read(buf []byte) (int, error) {
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

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wErr != nil {
		return 0, p.wErr
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.written))
	copy(out, p.written)
	return out
}

func newTestBoard(port *fakePort) *Board {
	return &Board{port: port, clock: timeutil.RealClock{}}
}

func TestConnectFirstTry(t *testing.T) {
	port := &fakePort{}
	b, err := Connect(func() (Porter, error) { return port, nil }, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := &fakePort{}
	attempts := 0
	open := func() (Porter, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("device busy")
		}
		return port, nil
	}

	b, err := Connect(open, clock)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 3, attempts)
	// Two backoffs slept: 200ms then 400ms.
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, clock.Sleeps())
}

func TestConnectBudgetExhausted(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	attempts := 0
	open := func() (Porter, error) {
		attempts++
		return nil, errors.New("no such device")
	}

	_, err := Connect(open, clock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
	// Backoff schedule 200+400+800+1000+1000+1000 stays under the 5s
	// budget for six sleeps; the seventh would cross it.
	assert.LessOrEqual(t, attempts, 8)
	assert.GreaterOrEqual(t, attempts, 5)
}

func TestSetMotorClampsAndEncodes(t *testing.T) {
	port := &fakePort{}
	b := newTestBoard(port)

	require.NoError(t, b.SetMotor(250, -250, robot.MotorKeep, -10))

	frame := port.Written()
	require.Len(t, frame, 9)
	assert.Equal(t, byte(0xFF), frame[0])
	assert.Equal(t, byte(0xFC), frame[1])
	assert.Equal(t, byte(funcMotor), frame[3])
	assert.Equal(t, byte(100), frame[4])        // clamped 250
	assert.Equal(t, byte(0x9C), frame[5])       // -100 as int8
	assert.Equal(t, byte(robot.MotorKeep), frame[6])
	assert.Equal(t, byte(0xF6), frame[7])       // -10 as int8
	assert.Equal(t, checksum(frame[:8]), frame[8])
}

func TestSetBeepEncoding(t *testing.T) {
	port := &fakePort{}
	b := newTestBoard(port)

	require.NoError(t, b.SetBeep(300))
	frame := port.Written()
	require.Len(t, frame, 7)
	assert.Equal(t, byte(funcBeep), frame[3])
	assert.Equal(t, byte(0x2C), frame[4])
	assert.Equal(t, byte(0x01), frame[5])

	assert.Error(t, b.SetBeep(-1))
}

func TestSetAutoReportEncoding(t *testing.T) {
	port := &fakePort{}
	b := newTestBoard(port)

	require.NoError(t, b.SetAutoReport(true, false))
	frame := port.Written()
	require.Len(t, frame, 7)
	assert.Equal(t, byte(funcAutoReport), frame[3])
	assert.Equal(t, byte(1), frame[4])
	assert.Equal(t, byte(0), frame[5])

	port.written = nil
	require.NoError(t, b.SetAutoReport(true, true))
	assert.Equal(t, byte(0x5F), port.Written()[5])
}

func TestWriteError(t *testing.T) {
	port := &fakePort{wErr: errors.New("io failure")}
	b := newTestBoard(port)
	assert.Error(t, b.SetMotor(0, 0, 0, 0))
}

func TestReaderUpdatesState(t *testing.T) {
	port := &fakePort{}
	b := newTestBoard(port)
	b.Start()
	defer b.Stop()

	enc := make([]byte, 16)
	enc[0] = 42
	port.feed(makeResponse(funcReportEncoder, enc))
	port.feed(makeResponse(funcReportSpeed, []byte{0, 0, 0, 0, 0, 0, 84}))

	require.Eventually(t, func() bool {
		st := b.State()
		return st.Encoders.E1 == 42 && st.BatteryVoltage > 8.3 && st.BatteryVoltage < 8.5
	}, time.Second, 5*time.Millisecond)
}

func TestReaderVersionReply(t *testing.T) {
	port := &fakePort{}
	b := newTestBoard(port)
	b.Start()
	defer b.Stop()

	require.NoError(t, b.RequestVersion())
	port.feed(makeResponse(funcVersion, []byte{1, 3}))

	require.Eventually(t, func() bool {
		return b.Version() > 1.29 && b.Version() < 1.31
	}, time.Second, 5*time.Millisecond)
}

func TestReaderSurvivesGarbage(t *testing.T) {
	port := &fakePort{}
	b := newTestBoard(port)
	b.Start()
	defer b.Stop()

	port.feed([]byte{0xFF, 0x00, 0xDE, 0xAD})
	enc := make([]byte, 16)
	enc[4] = 7
	port.feed(makeResponse(funcReportEncoder, enc))

	require.Eventually(t, func() bool {
		return b.State().Encoders.E2 == 7
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, b.ParseErrors(), uint64(0))
}
