package ota

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadProbe reports a station's current system-load indicator, the
// 1-minute load average on Linux. Exposed as a func type so tests can
// substitute a fixed value without touching /proc.
type LoadProbe func() (float64, error)

// DefaultLoadProbe reads /proc/loadavg's first field. Returns an error
// on platforms without it; callers should treat a probe error as "load
// unknown" rather than blocking updates indefinitely.
func DefaultLoadProbe() (float64, error) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("ota: read /proc/loadavg: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("ota: empty /proc/loadavg")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("ota: parse load average: %w", err)
	}
	return load, nil
}
