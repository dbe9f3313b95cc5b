// Package sysmon provides the resource probes used for backpressure and
// status reporting: process memory, free system memory, disk space and the
// SoC temperature.
package sysmon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// MemoryUsageMB returns this process's resident set size in MB. Probe
// failures report zero usage, which never triggers backpressure.
func MemoryUsageMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0
	}
	return float64(info.RSS) / (1 << 20)
}

// MemoryFreeMB returns the system's available memory in MB.
func MemoryFreeMB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(vm.Available) / (1 << 20)
}

// DiskFreeGB returns the free space in GB on the filesystem holding path.
func DiskFreeGB(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return float64(stat.Bavail) * float64(stat.Bsize) / (1 << 30), nil
}

// DiskSpaceLow reports whether free space on path's filesystem is below
// minGB, along with the measured free space.
func DiskSpaceLow(path string, minGB float64) (bool, float64) {
	free, err := DiskFreeGB(path)
	if err != nil {
		return false, 0
	}
	return free < minGB, free
}

// TemperatureString reads the SoC thermal zone, formatted for status lines.
// Hosts without a thermal zone report "N/A".
func TemperatureString() string {
	data, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return "N/A"
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return "N/A"
	}
	return fmt.Sprintf("%dC", milli/1000)
}
