package gateway

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
	"github.com/banshee-data/rover.gateway/internal/timeutil"
	"github.com/banshee-data/rover.gateway/internal/wire"
)

const (
	acceptBacklogPoll = time.Millisecond
	readPoll          = time.Millisecond
	writeDeadline     = 100 * time.Millisecond
	recvBufSize       = 2048
)

// deadlineListener is satisfied by *net.TCPListener and by test fakes; the
// deadline keeps Accept from blocking the worker loop.
type deadlineListener interface {
	net.Listener
	SetDeadline(time.Time) error
}

// Listen opens a listener; swapped out in tests.
type Listen func(addr string) (net.Listener, error)

func netListen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

type stateClient struct {
	id   string
	conn net.Conn
}

type cmdClient struct {
	id   string
	conn net.Conn
	dec  wire.Decoder
}

// TCPWorker serves the two listeners: state fan-out and the command
// channel. It decodes client frames, routes commands and events into the
// shared state, applies config updates, and broadcasts state frames at the
// configured rate.
type TCPWorker struct {
	sh     *SharedState
	stop   *syncutil.StopFlag
	listen Listen

	stateClients []*stateClient
	cmdClients   []*cmdClient

	lastCmdSeq   uint32
	lastCmdFlags uint8
	stateSeq     uint32
	statsSeq     uint32
}

// NewTCPWorker creates the worker. A nil listen uses net.Listen.
func NewTCPWorker(sh *SharedState, stop *syncutil.StopFlag, listen Listen) *TCPWorker {
	if listen == nil {
		listen = netListen
	}
	return &TCPWorker{sh: sh, stop: stop, listen: listen}
}

func clientID() string {
	return uuid.NewString()[:8]
}

// Run drives the worker until the stop flag rises. Failure to bind either
// listener is fatal to the process.
func (w *TCPWorker) Run() {
	cfg := w.sh.Config()
	clock := w.sh.Clock()

	stateLn, err := w.listen(fmt.Sprintf("%s:%d", cfg.BindIP, cfg.StatePort))
	if err != nil {
		monitoring.Errorf("[tcp] cannot bind state listener on %s:%d: %v", cfg.BindIP, cfg.StatePort, err)
		w.sh.Fatal.Store(true)
		w.stop.Stop()
		return
	}
	defer stateLn.Close()

	cmdLn, err := w.listen(fmt.Sprintf("%s:%d", cfg.BindIP, cfg.CmdPort))
	if err != nil {
		monitoring.Errorf("[tcp] cannot bind cmd listener on %s:%d: %v", cfg.BindIP, cfg.CmdPort, err)
		w.sh.Fatal.Store(true)
		w.stop.Stop()
		return
	}
	defer cmdLn.Close()

	monitoring.Logf("[tcp] state on %s, cmd on %s", stateLn.Addr(), cmdLn.Addr())

	rate := timeutil.NewRateLimiter(clock, cfg.TCPHz)

	for !w.stop.Stopped() {
		cfg = w.sh.Config()
		rate.SetHz(cfg.TCPHz)

		w.acceptState(stateLn)
		w.acceptCmd(cmdLn)
		w.serviceCmdClients(cfg)
		w.broadcastState()

		rate.Sleep()
	}

	for _, c := range w.stateClients {
		c.conn.Close()
	}
	for _, c := range w.cmdClients {
		c.conn.Close()
	}
	monitoring.Logf("[tcp] stopped")
}

func acceptPending(ln net.Listener) (net.Conn, error) {
	if dl, ok := ln.(deadlineListener); ok {
		dl.SetDeadline(time.Now().Add(acceptBacklogPoll))
	}
	return ln.Accept()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (w *TCPWorker) acceptState(ln net.Listener) {
	for {
		conn, err := acceptPending(ln)
		if err != nil {
			if !isTimeout(err) && !errors.Is(err, net.ErrClosed) {
				monitoring.Warnf("[tcp] state accept: %v", err)
			}
			return
		}
		c := &stateClient{id: clientID(), conn: conn}
		w.stateClients = append(w.stateClients, c)
		monitoring.Logf("[tcp] state client %s connected (%d total)", c.id, len(w.stateClients))
	}
}

func (w *TCPWorker) acceptCmd(ln net.Listener) {
	for {
		conn, err := acceptPending(ln)
		if err != nil {
			if !isTimeout(err) && !errors.Is(err, net.ErrClosed) {
				monitoring.Warnf("[tcp] cmd accept: %v", err)
			}
			return
		}
		c := &cmdClient{id: clientID(), conn: conn}
		w.cmdClients = append(w.cmdClients, c)
		monitoring.Logf("[tcp] cmd client %s connected (%d total)", c.id, len(w.cmdClients))
	}
}

func (w *TCPWorker) serviceCmdClients(cfg *RuntimeConfig) {
	buf := make([]byte, recvBufSize)
	kept := w.cmdClients[:0]

	for _, c := range w.cmdClients {
		c.conn.SetReadDeadline(time.Now().Add(readPoll))
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.dec.Push(buf[:n])
			w.dispatchFrames(c, cfg)
		}
		if err != nil && !isTimeout(err) {
			// EOF or a hard socket error: the peer is gone.
			c.conn.Close()
			monitoring.Logf("[tcp] cmd client %s disconnected", c.id)
			continue
		}
		kept = append(kept, c)
	}
	w.cmdClients = kept
}

func (w *TCPWorker) dispatchFrames(c *cmdClient, cfg *RuntimeConfig) {
	for {
		msgType, payload, ok := c.dec.Next()
		if !ok {
			return
		}

		nowMono := w.sh.NowMono()
		switch msgType {
		case wire.MsgCmd:
			p, err := wire.DecodeCmdFrame(payload)
			if err != nil {
				w.sh.TCPFramesBad.Add(1)
				continue
			}
			w.sh.MarkCmdRx(nowMono)
			w.handleCmd(p, cfg)

		case wire.MsgSetpoint:
			p, err := wire.DecodeSetpoint(payload)
			if err != nil {
				w.sh.TCPFramesBad.Add(1)
				continue
			}
			w.sh.MarkCmdRx(nowMono)
			w.sh.LatestSetpoint.Store(p)

		case wire.MsgConfig:
			p, err := wire.DecodeConfig(payload)
			if err != nil {
				w.sh.TCPFramesBad.Add(1)
				continue
			}
			applyConfigUpdate(w.sh, p)

		case wire.MsgStatsReq:
			w.statsSeq++
			frame := wire.Frame(wire.MsgStatsResp, wire.EncodeStats(w.sh.Stats(w.statsSeq)))
			// Best effort: a slow stats client is not worth dropping.
			sendAll(c.conn, frame)

		default:
			w.sh.TCPFramesBad.Add(1)
		}
	}
}

// handleCmd routes one decoded command frame: one-shot beep and flag-rise
// events keyed on a fresh sequence number, then the continuous motor
// command.
func (w *TCPWorker) handleCmd(p wire.ActionPayload, cfg *RuntimeConfig) {
	if p.Seq != w.lastCmdSeq {
		if p.Actions.BeepMS != 0 {
			w.sh.EventCmdQ.PushOverwrite(robot.EventCmd{
				Type:  robot.EventBeep,
				Seq:   p.Seq,
				Data0: p.Actions.BeepMS,
			})
		}

		rises := ^w.lastCmdFlags & p.Actions.Flags & cfg.FlagEventMask
		for bit := uint8(0); bit < 8; bit++ {
			if rises&(1<<bit) == 0 {
				continue
			}
			ev := robot.EventCmd{
				Type:  robot.EventFlagRise,
				Seq:   p.Seq,
				Data0: bit,
				Data1: p.Actions.Flags,
			}
			w.sh.SysEventQ.PushOverwrite(ev)
			w.sh.SysEventRing.PushOverwrite(robot.EventSample{TS: w.sh.Now(), Event: ev})
		}

		w.lastCmdSeq = p.Seq
		w.lastCmdFlags = p.Actions.Flags
		w.sh.SetLastCmdFlags(p.Actions.Flags)
	}

	w.sh.LatestRemoteCmd.Store(p.Actions.Motors)
}

func (w *TCPWorker) broadcastState() {
	st, ok := w.sh.LatestState.Load()
	if !ok {
		return
	}

	w.stateSeq++
	frame := wire.Frame(wire.MsgState, wire.EncodeState(wire.StatePayload{
		Seq:    w.stateSeq,
		TMono:  float32(w.sh.NowMono()),
		States: st,
	}))

	kept := w.stateClients[:0]
	for _, c := range w.stateClients {
		if err := sendAll(c.conn, frame); err != nil {
			c.conn.Close()
			monitoring.Logf("[tcp] state client %s dropped: %v", c.id, err)
			continue
		}
		kept = append(kept, c)
	}
	w.stateClients = kept
}

// sendAll writes the whole frame under a short deadline.
func sendAll(conn net.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	for len(frame) > 0 {
		n, err := conn.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}
