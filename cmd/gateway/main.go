// Command gateway runs the robot gateway daemon: it bridges the USB motor
// controller to remote TCP clients, enforces the command watchdog, and
// keeps the rotating binary record.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/rover.gateway/internal/gateway"
	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/version"
	"github.com/banshee-data/rover.gateway/internal/webmon"
)

func parseHexByte(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte value %q", s)
	}
	return uint8(v), nil
}

func fatalUsage(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	flag.Usage()
	os.Exit(2)
}

func main() {
	cfg := gateway.DefaultConfig()

	var (
		configPath  = flag.String("config", "", "YAML config file (flags override file values)")
		serialDev   = flag.String("serial", cfg.SerialDev, "serial device node")
		baud        = flag.Int("baud", cfg.SerialBaud, "serial baud rate")
		bindIP      = flag.String("bind_ip", cfg.BindIP, "listener bind address")
		statePort   = flag.Int("state_port", cfg.StatePort, "state fan-out port")
		cmdPort     = flag.Int("cmd_port", cfg.CmdPort, "command port")
		usbHz       = flag.Float64("usb_hz", cfg.USBHz, "usb worker rate")
		tcpHz       = flag.Float64("tcp_hz", cfg.TCPHz, "tcp worker rate")
		ctrlHz      = flag.Float64("ctrl_hz", cfg.CtrlHz, "controller rate")
		allHz       = flag.Float64("hz", 0, "set all three worker rates")
		cmdTimeout  = flag.Float64("cmd_timeout", cfg.CmdTimeout.Seconds(), "command watchdog window in seconds")
		timeoutMode = flag.String("usb_timeout_mode", cfg.TimeoutMode.String(), "watchdog gating: enforce|disable")
		controlMode = flag.String("control_mode", cfg.Mode.String(), "controller mode: pass|auto|setpoint")
		binaryLog   = flag.Int("binary_log", 1, "enable the binary log: 0|1")
		logPath     = flag.String("log_path", cfg.LogPath, "binary log target file")
		rotateMB    = flag.Int("log_rotate_mb", cfg.LogRotateMB, "segment size budget in MiB")
		rotateKeep  = flag.Int("log_rotate_keep", cfg.LogRotateKeep, "segments kept per session")
		flagMask    = flag.String("flag_event_mask", fmt.Sprintf("0x%02X", cfg.FlagEventMask), "flag bits treated as rising-edge events")
		startBit    = flag.Int("flag_start_bit", cfg.FlagStartBit, "flag bit that arms the system (-1 disables)")
		stopBit     = flag.Int("flag_stop_bit", cfg.FlagStopBit, "flag bit that disarms the system (-1 disables)")
		resetBit    = flag.Int("flag_reset_bit", cfg.FlagResetBit, "flag bit that resets command inputs (-1 disables)")
		ctrlPrio    = flag.Int("ctrl_priority", cfg.CtrlThreadPrio, "controller FIFO priority, 0 disables")
		monitorAddr = flag.String("monitor_addr", cfg.MonitorAddr, "monitoring HTTP address, empty disables")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *configPath != "" {
		if err := gateway.LoadConfigFile(*configPath, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
	}

	// Explicit flags override the file.
	seen := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { seen[f.Name] = true })

	if seen["serial"] {
		cfg.SerialDev = *serialDev
	}
	if seen["baud"] {
		cfg.SerialBaud = *baud
	}
	if seen["bind_ip"] {
		cfg.BindIP = *bindIP
	}
	if seen["state_port"] {
		cfg.StatePort = *statePort
	}
	if seen["cmd_port"] {
		cfg.CmdPort = *cmdPort
	}
	if seen["usb_hz"] {
		cfg.USBHz = *usbHz
	}
	if seen["tcp_hz"] {
		cfg.TCPHz = *tcpHz
	}
	if seen["ctrl_hz"] {
		cfg.CtrlHz = *ctrlHz
	}
	if seen["hz"] {
		cfg.USBHz, cfg.TCPHz, cfg.CtrlHz = *allHz, *allHz, *allHz
	}
	if seen["cmd_timeout"] {
		cfg.CmdTimeout = time.Duration(*cmdTimeout * float64(time.Second))
	}
	if seen["usb_timeout_mode"] {
		m, err := gateway.ParseTimeoutMode(*timeoutMode)
		if err != nil {
			fatalUsage("%v", err)
		}
		cfg.TimeoutMode = m
	}
	if seen["control_mode"] {
		m, err := gateway.ParseControlMode(*controlMode)
		if err != nil {
			fatalUsage("%v", err)
		}
		cfg.Mode = m
	}
	if seen["binary_log"] {
		cfg.BinaryLog = *binaryLog != 0
	}
	if seen["log_path"] {
		cfg.LogPath = *logPath
	}
	if seen["log_rotate_mb"] {
		cfg.LogRotateMB = *rotateMB
	}
	if seen["log_rotate_keep"] {
		cfg.LogRotateKeep = *rotateKeep
	}
	if seen["flag_event_mask"] {
		mask, err := parseHexByte(*flagMask)
		if err != nil {
			fatalUsage("%v", err)
		}
		cfg.FlagEventMask = mask
	}
	if seen["flag_start_bit"] {
		cfg.FlagStartBit = *startBit
	}
	if seen["flag_stop_bit"] {
		cfg.FlagStopBit = *stopBit
	}
	if seen["flag_reset_bit"] {
		cfg.FlagResetBit = *resetBit
	}
	if seen["ctrl_priority"] {
		cfg.CtrlThreadPrio = *ctrlPrio
	}
	if seen["monitor_addr"] {
		cfg.MonitorAddr = *monitorAddr
	}

	monitoring.Logf("[main] rover gateway %s", version.String())

	g := gateway.New(cfg)

	if cfg.MonitorAddr != "" {
		go webmon.ListenAndServe(cfg.MonitorAddr, g.SH, g.Stop)
	}

	g.Run()

	if g.SH.Fatal.Load() {
		os.Exit(1)
	}
	monitoring.Logf("[main] exit")
}
