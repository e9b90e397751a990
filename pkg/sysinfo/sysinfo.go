package sysinfo

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type SystemInfo struct {
	OS              string  `json:"os"`
	Architecture    string  `json:"architecture"`
	CPUModel        string  `json:"cpu_model"`
	CPUCores        int     `json:"cpu_cores"`
	CPUThreads      int     `json:"cpu_threads"`
	GoMaxProcs      int     `json:"gomaxprocs"`
	TotalMemory     uint64  `json:"total_memory"`
	AvailableMemory uint64  `json:"available_memory"`
	GoVersion       string  `json:"go_version"`
	Hostname        string  `json:"hostname"`
	Platform        string  `json:"platform"`
	KernelVersion   string  `json:"kernel_version,omitempty"`
	LoadAverage     float64 `json:"load_average"`
}

// Collect snapshots the host a benchmark runs on. Fields gopsutil cannot
// read on this platform are left zero.
func Collect() (*SystemInfo, error) {
	info := &SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		CPUCores:     runtime.NumCPU(),
		GoMaxProcs:   runtime.GOMAXPROCS(0),
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = strings.TrimSpace(cpus[0].ModelName)
	}
	if threads, err := cpu.Counts(true); err == nil {
		info.CPUThreads = threads
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total
		info.AvailableMemory = vm.Available
	}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.KernelVersion = h.KernelVersion
	}
	if avg, err := load.Avg(); err == nil {
		info.LoadAverage = avg.Load1
	}

	return info, nil
}

// Summary is a one-line description for log output.
func (i *SystemInfo) Summary() string {
	model := i.CPUModel
	if model == "" {
		model = "unknown CPU"
	}
	return fmt.Sprintf("%s/%s, %s, %d cores, GOMAXPROCS %d, %s",
		i.OS, i.Architecture, model, i.CPUCores, i.GoMaxProcs, i.GoVersion)
}
