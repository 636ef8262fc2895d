//go:build linux

package sysmon

import "golang.org/x/sys/unix"

// readSysinfo approximates available memory as free plus buffer RAM. Coarser
// than MemAvailable (it ignores reclaimable page cache), which is why it is
// only the fallback.
func readSysinfo() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	bytes := (uint64(info.Freeram) + uint64(info.Bufferram)) * uint64(info.Unit)
	return float64(bytes) / (1 << 30), nil
}
