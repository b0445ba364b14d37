// Package gateway wires the four workers (usb, tcp, controller, log)
// together through SharedState and owns the runtime configuration they
// snapshot each cycle.
package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ControlMode selects how the controller computes motor output.
type ControlMode uint8

const (
	// PassThrough forwards the remote motor command unmodified.
	PassThrough ControlMode = 0
	// Autonomous reserves a slot for an onboard controller. The built-in
	// implementation outputs zero.
	Autonomous ControlMode = 1
	// AutonomousSetpoint is Autonomous with the remote setpoint as input.
	// The built-in implementation outputs zero.
	AutonomousSetpoint ControlMode = 2
)

// String returns the CLI token for the mode.
func (m ControlMode) String() string {
	switch m {
	case PassThrough:
		return "pass"
	case Autonomous:
		return "auto"
	case AutonomousSetpoint:
		return "setpoint"
	}
	return "unknown"
}

// ParseControlMode maps a CLI token to a ControlMode.
func ParseControlMode(s string) (ControlMode, error) {
	switch s {
	case "pass":
		return PassThrough, nil
	case "auto":
		return Autonomous, nil
	case "setpoint":
		return AutonomousSetpoint, nil
	}
	return PassThrough, fmt.Errorf("unknown control mode %q", s)
}

// TimeoutMode gates the command watchdog.
type TimeoutMode uint8

const (
	// TimeoutEnforce zeroes motors when no fresh command arrives within
	// the timeout window.
	TimeoutEnforce TimeoutMode = 0
	// TimeoutDisable turns the watchdog off.
	TimeoutDisable TimeoutMode = 1
)

// String returns the CLI token for the mode.
func (m TimeoutMode) String() string {
	if m == TimeoutDisable {
		return "disable"
	}
	return "enforce"
}

// ParseTimeoutMode maps a CLI token to a TimeoutMode.
func ParseTimeoutMode(s string) (TimeoutMode, error) {
	switch s {
	case "enforce":
		return TimeoutEnforce, nil
	case "disable":
		return TimeoutDisable, nil
	}
	return TimeoutEnforce, fmt.Errorf("unknown usb timeout mode %q", s)
}

// RuntimeConfig is an immutable configuration snapshot. Workers acquire it
// with SharedState.Config once per cycle; mutations allocate a copy and
// swap the shared pointer.
type RuntimeConfig struct {
	// Worker rates in Hz.
	USBHz  float64
	TCPHz  float64
	CtrlHz float64

	// Networking.
	BindIP    string
	StatePort int
	CmdPort   int

	// Serial.
	SerialDev  string
	SerialBaud int

	// Safety.
	CmdTimeout  time.Duration
	TimeoutMode TimeoutMode

	// Control.
	Mode           ControlMode
	CtrlThreadPrio int
	ArmOnStart     bool

	// Logging.
	BinaryLog     bool
	LogPath       string
	LogRotateMB   int
	LogRotateKeep int

	// Flag routing. Bits inside FlagEventMask rise as one-shot events;
	// the start/stop/reset bits map those events to system actions. A
	// value of -1 disables the mapping.
	FlagEventMask uint8
	FlagStartBit  int
	FlagStopBit   int
	FlagResetBit  int

	// Monitoring HTTP listener; empty disables it.
	MonitorAddr string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *RuntimeConfig {
	return &RuntimeConfig{
		USBHz:         200,
		TCPHz:         200,
		CtrlHz:        200,
		BindIP:        "0.0.0.0",
		StatePort:     30001,
		CmdPort:       30002,
		SerialDev:     "/dev/ttyUSB0",
		SerialBaud:    115200,
		CmdTimeout:    200 * time.Millisecond,
		TimeoutMode:   TimeoutEnforce,
		Mode:          PassThrough,
		ArmOnStart:    true,
		BinaryLog:     true,
		LogPath:       "./logs/gateway.bin",
		LogRotateMB:   256,
		LogRotateKeep: 10,
		FlagEventMask: 0x07,
		FlagStartBit:  -1,
		FlagStopBit:   -1,
		FlagResetBit:  -1,
	}
}

// Clamp limits for mutable values, shared by Normalize and the wire-driven
// updates.
const (
	minHz         = 1.0
	maxHz         = 2000.0
	minCmdTimeout = 10 * time.Millisecond
	maxCmdTimeout = 5 * time.Second
	minRotateMB   = 1
	maxRotateMB   = 8192
	minRotateKeep = 1
	maxRotateKeep = 200
)

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampD(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps all fields into their valid ranges. Out-of-range values
// are never rejected, only limited.
func (c *RuntimeConfig) Normalize() {
	c.USBHz = clampF(c.USBHz, minHz, maxHz)
	c.TCPHz = clampF(c.TCPHz, minHz, maxHz)
	c.CtrlHz = clampF(c.CtrlHz, minHz, maxHz)
	c.CmdTimeout = clampD(c.CmdTimeout, minCmdTimeout, maxCmdTimeout)
	c.LogRotateMB = clampI(c.LogRotateMB, minRotateMB, maxRotateMB)
	c.LogRotateKeep = clampI(c.LogRotateKeep, minRotateKeep, maxRotateKeep)
}

// fileConfig is the YAML schema of the optional config file. Every field is
// a pointer so absent keys keep their defaults.
type fileConfig struct {
	SerialDev  *string  `yaml:"serial_dev"`
	SerialBaud *int     `yaml:"serial_baud"`
	BindIP     *string  `yaml:"bind_ip"`
	StatePort  *int     `yaml:"state_port"`
	CmdPort    *int     `yaml:"cmd_port"`
	USBHz      *float64 `yaml:"usb_hz"`
	TCPHz      *float64 `yaml:"tcp_hz"`
	CtrlHz     *float64 `yaml:"ctrl_hz"`

	CmdTimeoutS    *float64 `yaml:"cmd_timeout_s"`
	USBTimeoutMode *string  `yaml:"usb_timeout_mode"`
	ControlMode    *string  `yaml:"control_mode"`
	CtrlPriority   *int     `yaml:"ctrl_thread_priority"`
	ArmOnStart     *bool    `yaml:"arm_on_start"`

	BinaryLog     *bool   `yaml:"binary_log"`
	LogPath       *string `yaml:"log_path"`
	LogRotateMB   *int    `yaml:"log_rotate_mb"`
	LogRotateKeep *int    `yaml:"log_rotate_keep"`

	FlagEventMask *uint8 `yaml:"flag_event_mask"`
	FlagStartBit  *int   `yaml:"flag_start_bit"`
	FlagStopBit   *int   `yaml:"flag_stop_bit"`
	FlagResetBit  *int   `yaml:"flag_reset_bit"`

	MonitorAddr *string `yaml:"monitor_addr"`
}

// LoadConfigFile overlays the YAML file at path onto c. Keys absent from
// the file leave c untouched, so partial configs are safe.
func LoadConfigFile(path string, c *RuntimeConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.SerialDev != nil {
		c.SerialDev = *fc.SerialDev
	}
	if fc.SerialBaud != nil {
		c.SerialBaud = *fc.SerialBaud
	}
	if fc.BindIP != nil {
		c.BindIP = *fc.BindIP
	}
	if fc.StatePort != nil {
		c.StatePort = *fc.StatePort
	}
	if fc.CmdPort != nil {
		c.CmdPort = *fc.CmdPort
	}
	if fc.USBHz != nil {
		c.USBHz = *fc.USBHz
	}
	if fc.TCPHz != nil {
		c.TCPHz = *fc.TCPHz
	}
	if fc.CtrlHz != nil {
		c.CtrlHz = *fc.CtrlHz
	}
	if fc.CmdTimeoutS != nil {
		c.CmdTimeout = time.Duration(*fc.CmdTimeoutS * float64(time.Second))
	}
	if fc.USBTimeoutMode != nil {
		m, err := ParseTimeoutMode(*fc.USBTimeoutMode)
		if err != nil {
			return err
		}
		c.TimeoutMode = m
	}
	if fc.ControlMode != nil {
		m, err := ParseControlMode(*fc.ControlMode)
		if err != nil {
			return err
		}
		c.Mode = m
	}
	if fc.CtrlPriority != nil {
		c.CtrlThreadPrio = *fc.CtrlPriority
	}
	if fc.ArmOnStart != nil {
		c.ArmOnStart = *fc.ArmOnStart
	}
	if fc.BinaryLog != nil {
		c.BinaryLog = *fc.BinaryLog
	}
	if fc.LogPath != nil {
		c.LogPath = *fc.LogPath
	}
	if fc.LogRotateMB != nil {
		c.LogRotateMB = *fc.LogRotateMB
	}
	if fc.LogRotateKeep != nil {
		c.LogRotateKeep = *fc.LogRotateKeep
	}
	if fc.FlagEventMask != nil {
		c.FlagEventMask = *fc.FlagEventMask
	}
	if fc.FlagStartBit != nil {
		c.FlagStartBit = *fc.FlagStartBit
	}
	if fc.FlagStopBit != nil {
		c.FlagStopBit = *fc.FlagStopBit
	}
	if fc.FlagResetBit != nil {
		c.FlagResetBit = *fc.FlagResetBit
	}
	if fc.MonitorAddr != nil {
		c.MonitorAddr = *fc.MonitorAddr
	}
	return nil
}
