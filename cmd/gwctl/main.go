// Command gwctl is a command-line client for the gateway's TCP protocol:
// it sends motor commands, setpoints, and config updates, requests stats,
// and watches the state stream.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/banshee-data/rover.gateway/internal/robot"
	"github.com/banshee-data/rover.gateway/internal/wire"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: gwctl <command> [flags]

commands:
  cmd       send a motor command frame
  setpoint  send a setpoint frame
  config    send a config update frame
  stats     request and print a stats snapshot
  watch     stream state frames from the state port`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "cmd":
		err = runCmd(os.Args[2:])
	case "setpoint":
		err = runSetpoint(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gwctl: %v\n", err)
		os.Exit(1)
	}
}

func dial(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, 3*time.Second)
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("cmd", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:30002", "gateway command address")
	seq := fs.Uint("seq", 1, "frame sequence number")
	m1 := fs.Int("m1", 0, "motor 1 speed [-100..100]")
	m2 := fs.Int("m2", 0, "motor 2 speed [-100..100]")
	m3 := fs.Int("m3", 0, "motor 3 speed [-100..100]")
	m4 := fs.Int("m4", 0, "motor 4 speed [-100..100]")
	beep := fs.Int("beep", 0, "beep on-time in ms (one-shot)")
	flags := fs.Int("flags", 0, "command flag byte")
	repeat := fs.Duration("repeat", 0, "resend interval; 0 sends once")
	fs.Parse(args)

	conn, err := dial(*addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	motors := robot.MotorCommands{M1: int16(*m1), M2: int16(*m2), M3: int16(*m3), M4: int16(*m4)}
	s := uint32(*seq)

	send := func() error {
		var frame []byte
		if *beep != 0 || *flags != 0 {
			frame = wire.Frame(wire.MsgCmd, wire.EncodeAction(wire.ActionPayload{
				Seq: s,
				Actions: robot.Actions{
					Motors: motors,
					BeepMS: uint8(*beep),
					Flags:  uint8(*flags),
				},
			}))
		} else {
			frame = wire.Frame(wire.MsgCmd, wire.EncodeCmd(wire.CmdPayload{Seq: s, Motors: motors}))
		}
		_, err := conn.Write(frame)
		return err
	}

	if err := send(); err != nil {
		return err
	}
	for *repeat > 0 {
		time.Sleep(*repeat)
		s++
		if err := send(); err != nil {
			return err
		}
	}
	return nil
}

func runSetpoint(args []string) error {
	fs := flag.NewFlagSet("setpoint", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:30002", "gateway command address")
	seq := fs.Uint("seq", 1, "frame sequence number")
	sp0 := fs.Float64("sp0", 0, "setpoint 0")
	sp1 := fs.Float64("sp1", 0, "setpoint 1")
	sp2 := fs.Float64("sp2", 0, "setpoint 2")
	sp3 := fs.Float64("sp3", 0, "setpoint 3")
	flags := fs.Int("flags", 0, "setpoint flag byte")
	fs.Parse(args)

	conn, err := dial(*addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	frame := wire.Frame(wire.MsgSetpoint, wire.EncodeSetpoint(wire.SetpointPayload{
		Seq:   uint32(*seq),
		SP:    [4]float32{float32(*sp0), float32(*sp1), float32(*sp2), float32(*sp3)},
		Flags: uint8(*flags),
	}))
	_, err = conn.Write(frame)
	return err
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:30002", "gateway command address")
	seq := fs.Uint("seq", 1, "frame sequence number")
	key := fs.Uint("key", 0, "config key")
	u8 := fs.Uint("u8", 0, "u8 value")
	u16 := fs.Uint("u16", 0, "u16 value")
	u32 := fs.Uint("u32", 0, "u32 value")
	fs.Parse(args)

	conn, err := dial(*addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	frame := wire.Frame(wire.MsgConfig, wire.EncodeConfig(wire.ConfigPayload{
		Seq: uint32(*seq),
		Key: uint8(*key),
		U8:  uint8(*u8),
		U16: uint16(*u16),
		U32: uint32(*u32),
	}))
	_, err = conn.Write(frame)
	return err
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:30002", "gateway command address")
	fs.Parse(args)

	conn, err := dial(*addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(wire.Frame(wire.MsgStatsReq, nil)); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	stats, err := readStats(conn)
	if err != nil {
		return err
	}

	fmt.Printf("uptime:          %.1fs\n", float64(stats.UptimeMS)/1000)
	fmt.Printf("rates:           usb=%.0fHz tcp=%.0fHz ctrl=%.0fHz\n", stats.USBHz, stats.TCPHz, stats.CtrlHz)
	fmt.Printf("ring drops:      state=%d cmd=%d event=%d sys_event=%d\n",
		stats.DropsState, stats.DropsCmd, stats.DropsEvent, stats.DropsSysEvent)
	fmt.Printf("bad tcp frames:  %d\n", stats.TCPFramesBad)
	fmt.Printf("serial errors:   %d\n", stats.SerialErrors)
	return nil
}

// readStats scans the reply stream for the stats response frame.
func readStats(conn net.Conn) (wire.StatsPayload, error) {
	var dec wire.Decoder
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Push(buf[:n])
			for {
				msgType, payload, ok := dec.Next()
				if !ok {
					break
				}
				if msgType == wire.MsgStatsResp {
					return wire.DecodeStats(payload)
				}
			}
		}
		if err != nil {
			return wire.StatsPayload{}, err
		}
	}
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:30001", "gateway state address")
	count := fs.Int("n", 0, "stop after this many frames; 0 streams forever")
	fs.Parse(args)

	conn, err := dial(*addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	var dec wire.Decoder
	buf := make([]byte, 4096)
	seen := 0
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Push(buf[:n])
			for {
				msgType, payload, ok := dec.Next()
				if !ok {
					break
				}
				if msgType != wire.MsgState {
					continue
				}
				p, derr := wire.DecodeState(payload)
				if derr != nil {
					continue
				}
				st := p.States
				fmt.Printf("seq=%d t=%.3f rpy=(%.3f %.3f %.3f) enc=(%d %d %d %d) batt=%.1fV\n",
					p.Seq, p.TMono,
					st.Angles.Roll, st.Angles.Pitch, st.Angles.Yaw,
					st.Encoders.E1, st.Encoders.E2, st.Encoders.E3, st.Encoders.E4,
					st.BatteryVoltage)
				seen++
				if *count > 0 && seen >= *count {
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
