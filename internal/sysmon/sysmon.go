// Package sysmon reads host memory availability.
//
// Readings report memory immediately available for new allocations (not
// merely free). A host that cannot report produces an unknown snapshot,
// never an error: callers must treat unknown as "do not block", not as zero.
package sysmon

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Snapshot sources.
const (
	SourceMeminfo = "meminfo"
	SourceSysinfo = "sysinfo"
)

// Snapshot is one point-in-time reading of available memory. Never cached.
type Snapshot struct {
	AvailableGB float64
	Known       bool
	Source      string
}

// Monitor reports available memory. Implementations must be side-effect
// free and safe for concurrent use without synchronization.
type Monitor interface {
	AvailableMemory() Snapshot
}

// MonitorFunc adapts a function to the Monitor interface.
type MonitorFunc func() Snapshot

// AvailableMemory implements Monitor.
func (f MonitorFunc) AvailableMemory() Snapshot { return f() }

// HostMonitor reads the kernel's own accounting: MemAvailable from
// /proc/meminfo first, the sysinfo syscall as fallback.
type HostMonitor struct {
	// MeminfoPath overrides the default /proc/meminfo location.
	MeminfoPath string
}

// NewHostMonitor creates a monitor reading from the running host.
func NewHostMonitor() *HostMonitor {
	return &HostMonitor{}
}

// AvailableMemory implements Monitor.
func (m *HostMonitor) AvailableMemory() Snapshot {
	path := m.MeminfoPath
	if path == "" {
		path = "/proc/meminfo"
	}
	if gb, err := readMemAvailable(path); err == nil {
		return Snapshot{AvailableGB: gb, Known: true, Source: SourceMeminfo}
	}
	if gb, err := readSysinfo(); err == nil {
		return Snapshot{AvailableGB: gb, Known: true, Source: SourceSysinfo}
	}
	return Snapshot{}
}

// readMemAvailable parses the MemAvailable line (kB) out of a meminfo file.
func readMemAvailable(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed MemAvailable line: %q", line)
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable: %w", err)
		}
		return kb / (1024 * 1024), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no MemAvailable field in %s", path)
}

var _ Monitor = (*HostMonitor)(nil)
