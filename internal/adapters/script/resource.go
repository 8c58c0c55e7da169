package script

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ResourceGate reports host CPU and memory utilization, used to decide
// whether a cronjob should run now or wait. On Linux it reads
// /proc/loadavg and /proc/meminfo directly; anywhere /proc is
// unavailable it falls back to runtime.MemStats/NumGoroutine as a rough
// proxy, the same signals the teacher's own performance monitor reports.
type ResourceGate struct{}

func NewResourceGate() *ResourceGate {
	return &ResourceGate{}
}

// CPUPercent returns load average (1-minute) divided by core count, as a
// percentage.
func (g *ResourceGate) CPUPercent() (float64, error) {
	loadAvg, err := readLoadAverage()
	if err != nil {
		return g.fallbackCPUPercent(), nil
	}
	cores := float64(runtime.NumCPU())
	return (loadAvg / cores) * 100, nil
}

// MemPercent returns used memory over total memory, as a percentage.
func (g *ResourceGate) MemPercent() (float64, error) {
	used, total, err := readMemInfo()
	if err != nil {
		return g.fallbackMemPercent(), nil
	}
	if total == 0 {
		return 0, fmt.Errorf("reported zero total memory")
	}
	return (used / total) * 100, nil
}

func (g *ResourceGate) fallbackCPUPercent() float64 {
	// No /proc available (e.g. non-Linux); approximate load via active
	// goroutine count relative to a nominal per-core budget.
	cores := runtime.NumCPU()
	return float64(runtime.NumGoroutine()) / float64(cores*50) * 100
}

func (g *ResourceGate) fallbackMemPercent() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys == 0 {
		return 0
	}
	return float64(m.Alloc) / float64(m.Sys) * 100
}

func readLoadAverage() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/loadavg")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func readMemInfo() (used, total float64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	values := map[string]float64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		valueField := strings.Fields(strings.TrimSpace(parts[1]))
		if len(valueField) == 0 {
			continue
		}
		v, convErr := strconv.ParseFloat(valueField[0], 64)
		if convErr != nil {
			continue
		}
		values[key] = v
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}

	memTotal, ok := values["MemTotal"]
	if !ok {
		return 0, 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
	}
	memAvailable, ok := values["MemAvailable"]
	if !ok {
		return 0, 0, fmt.Errorf("MemAvailable not found in /proc/meminfo")
	}

	return memTotal - memAvailable, memTotal, nil
}
