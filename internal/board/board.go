package board

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/timeutil"
)

// Porter is the minimal interface the driver needs from a serial port.
// It enables unit testing without real hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Opener opens the underlying serial port. Production code passes a
// go.bug.st/serial opener (see Dial); tests inject fakes.
type Opener func() (Porter, error)

// Connect retry schedule: backoff doubles from 200ms and is capped at 1s,
// with a 5s total budget.
const (
	retryInitialBackoff = 200 * time.Millisecond
	retryMaxBackoff     = 1 * time.Second
	retryBudget         = 5 * time.Second
)

// Board owns the serial connection to the motor controller. Command writes
// are serialized; a background reader goroutine parses unsolicited reports
// into a snapshot that State returns.
type Board struct {
	port  Porter
	clock timeutil.Clock

	writeMu sync.Mutex

	stateMu sync.Mutex
	st      robot.States
	version float32

	parseErrors uint64

	readerWG   sync.WaitGroup
	readerStop chan struct{}
	started    bool
}

// Connect opens the port with the bounded retry schedule. It returns an
// error once the retry budget is exhausted.
func Connect(open Opener, clock timeutil.Clock) (*Board, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	var lastErr error
	backoff := retryInitialBackoff
	deadline := clock.Now().Add(retryBudget)

	for attempt := 1; ; attempt++ {
		port, err := open()
		if err == nil {
			return &Board{port: port, clock: clock}, nil
		}
		lastErr = err

		if clock.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("open serial port: %w", lastErr)
		}
		monitoring.Warnf("[usb] open attempt %d failed, retrying in %v: %v", attempt, backoff, err)
		clock.Sleep(backoff)

		backoff *= 2
		if backoff > retryMaxBackoff {
			backoff = retryMaxBackoff
		}
	}
}

// Start launches the reader goroutine. Calling Start twice is a no-op.
func (b *Board) Start() {
	if b.started {
		return
	}
	b.started = true
	b.readerStop = make(chan struct{})
	b.readerWG.Add(1)
	go b.readLoop()
}

// Stop terminates the reader goroutine and waits for it. The port stays
// open; use Close to release it.
func (b *Board) Stop() {
	if !b.started {
		return
	}
	b.started = false
	close(b.readerStop)
	b.readerWG.Wait()
}

// Close stops the reader and closes the port.
func (b *Board) Close() error {
	b.Stop()
	return b.port.Close()
}

// State returns the latest sensor snapshot.
func (b *Board) State() robot.States {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.st
}

// Version returns the firmware version reported by the board, or zero if
// no version reply has been seen.
func (b *Board) Version() float32 {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.version
}

// ParseErrors returns the number of bytes dropped during stream resync.
func (b *Board) ParseErrors() uint64 {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.parseErrors
}

func (b *Board) readLoop() {
	defer b.readerWG.Done()

	var dec frameDecoder
	buf := make([]byte, 512)

	for {
		select {
		case <-b.readerStop:
			return
		default:
		}

		n, err := b.port.Read(buf)
		if err != nil {
			// The port read fails when the handle is closed underneath us
			// or on transient timeouts; either way stop polling hard.
			select {
			case <-b.readerStop:
				return
			default:
			}
			if err == io.EOF {
				b.clock.Sleep(5 * time.Millisecond)
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		dec.push(buf[:n])
		for {
			extType, data, dropped, ok := dec.next()
			if dropped > 0 {
				b.stateMu.Lock()
				b.parseErrors += uint64(dropped)
				b.stateMu.Unlock()
			}
			if !ok {
				break
			}
			b.dispatch(extType, data)
		}
	}
}

func (b *Board) dispatch(extType byte, data []byte) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if applyReport(&b.st, extType, data) {
		return
	}
	if extType == funcVersion && len(data) >= 2 {
		b.version = float32(data[0]) + float32(data[1])/10.0
	}
}

func (b *Board) write(frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	n, err := b.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	return nil
}

// SetMotor commands the four motor speeds. Values are clamped to
// [-100, 100]; robot.MotorKeep passes through unclamped.
func (b *Board) SetMotor(m1, m2, m3, m4 int16) error {
	payload := []byte{
		byte(int8(robot.ClampMotor(m1))),
		byte(int8(robot.ClampMotor(m2))),
		byte(int8(robot.ClampMotor(m3))),
		byte(int8(robot.ClampMotor(m4))),
	}
	return b.write(buildVar(funcMotor, payload))
}

// SetBeep sounds the buzzer for onTimeMS milliseconds. Negative values are
// rejected.
func (b *Board) SetBeep(onTimeMS int) error {
	if onTimeMS < 0 {
		return fmt.Errorf("beep time %d out of range", onTimeMS)
	}
	v := int16(onTimeMS)
	return b.write(buildFixed5(funcBeep, byte(v&0xFF), byte((v>>8)&0xFF)))
}

// SetAutoReport enables or disables unsolicited sensor reports. With
// forever set the board persists the setting across power cycles.
func (b *Board) SetAutoReport(enable, forever bool) error {
	p0 := byte(0)
	if enable {
		p0 = 1
	}
	p1 := byte(0)
	if forever {
		p1 = 0x5F
	}
	return b.write(buildFixed5(funcAutoReport, p0, p1))
}

// RequestVersion asks the board to report its firmware version. The reply
// arrives asynchronously through the reader; poll Version afterwards.
func (b *Board) RequestVersion() error {
	return b.write(buildFixed5(funcRequestData, funcVersion, 0))
}
