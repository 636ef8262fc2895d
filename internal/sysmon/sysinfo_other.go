//go:build !linux

package sysmon

import "errors"

func readSysinfo() (float64, error) {
	return 0, errors.New("sysinfo unavailable on this platform")
}
