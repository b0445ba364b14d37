package board

import (
	"go.bug.st/serial"
)

// Dial returns an Opener for the real serial device at path, configured
// 8N1 with no flow control.
func Dial(path string, baud int) Opener {
	return func() (Porter, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(path, mode)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}
