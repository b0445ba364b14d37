//go:build !linux

package gateway

import "errors"

// setRealtimePriority is unsupported off Linux.
func setRealtimePriority(prio int) error {
	return errors.New("realtime scheduling not supported on this platform")
}
