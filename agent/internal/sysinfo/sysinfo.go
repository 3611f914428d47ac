// Package sysinfo reads host telemetry for the agent's periodic
// system_metrics events. Everything comes from /proc and syscalls; any
// field that cannot be read is simply omitted from the snapshot.
package sysinfo

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type Collector struct {
	bootTime time.Time
}

func New() *Collector {
	return &Collector{bootTime: time.Now().UTC()}
}

// Collect returns a flat snapshot of the host. Numeric values are float64
// so they survive the payload's JSON number handling unchanged.
func (c *Collector) Collect() map[string]any {
	out := map[string]any{
		"agent_uptime_seconds": time.Since(c.bootTime).Seconds(),
		"num_cpu":              float64(runtime.NumCPU()),
		"go_version":           runtime.Version(),
		"os":                   runtime.GOOS,
		"arch":                 runtime.GOARCH,
	}

	if hostname, err := os.Hostname(); err == nil {
		out["hostname"] = hostname
	}
	if uptime, ok := readUptime(); ok {
		out["uptime_seconds"] = uptime
	}
	if load1, load5, load15, ok := readLoadAvg(); ok {
		out["load_1m"] = load1
		out["load_5m"] = load5
		out["load_15m"] = load15
	}
	if total, available, ok := readMemInfo(); ok {
		out["mem_total_kb"] = total
		out["mem_available_kb"] = available
	}
	if totalBytes, freeBytes, ok := statDisk("/"); ok {
		out["disk_total_bytes"] = totalBytes
		out["disk_free_bytes"] = freeBytes
	}
	if release, ok := readFirstLine("/proc/sys/kernel/osrelease"); ok {
		out["kernel_release"] = release
	}
	return out
}

func readUptime() (float64, bool) {
	line, ok := readFirstLine("/proc/uptime")
	if !ok {
		return 0, false
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, false
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	return uptime, err == nil
}

func readLoadAvg() (float64, float64, float64, bool) {
	line, ok := readFirstLine("/proc/loadavg")
	if !ok {
		return 0, 0, 0, false
	}
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, 0, 0, false
	}
	load1, err1 := strconv.ParseFloat(fields[0], 64)
	load5, err2 := strconv.ParseFloat(fields[1], 64)
	load15, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return load1, load5, load15, true
}

func readMemInfo() (float64, float64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0, false
	}
	var total, available float64
	var haveTotal, haveAvailable bool
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, haveTotal = v, true
		case "MemAvailable:":
			available, haveAvailable = v, true
		}
		if haveTotal && haveAvailable {
			break
		}
	}
	return total, available, haveTotal && haveAvailable
}

func statDisk(path string) (float64, float64, bool) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, false
	}
	bsize := float64(st.Bsize)
	return float64(st.Blocks) * bsize, float64(st.Bavail) * bsize, true
}

func readFirstLine(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	line := strings.SplitN(string(data), "\n", 2)[0]
	return strings.TrimSpace(line), line != ""
}
