// Package vitals reads host-wide counters (hostname, kernel, uptime, load
// averages, memory) into an immutable snapshot.
package vitals

import (
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// Snapshot holds one point-in-time view of system vitals.
type Snapshot struct {
	Hostname      string     `json:"hostname"`
	KernelVersion string     `json:"kernel_version"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	LoadAvg       [3]float64 `json:"load_avg"`
	TotalRAM      uint64     `json:"total_ram"`
	FreeRAM       uint64     `json:"free_ram"`
}

// MemoryUsedPercent returns used memory as a percentage of total.
func (s Snapshot) MemoryUsedPercent() float64 {
	if s.TotalRAM == 0 {
		return 0
	}
	return 100.0 * (1.0 - float64(s.FreeRAM)/float64(s.TotalRAM))
}

// Reader captures system vitals.
type Reader struct {
	log *logrus.Logger
}

// NewReader creates a vitals Reader.
func NewReader(log *logrus.Logger) *Reader {
	return &Reader{log: log}
}

// Read captures a Snapshot. Each unavailable source contributes zero values
// and one probe failure; Read itself never fails.
func (r *Reader) Read() (Snapshot, int) {
	var snap Snapshot
	failures := 0

	if info, err := host.Info(); err != nil {
		r.log.WithError(err).Debug("Failed to read host info")
		failures++
	} else {
		snap.Hostname = info.Hostname
		snap.KernelVersion = info.KernelVersion
		snap.UptimeSeconds = float64(info.Uptime)
	}

	if avg, err := load.Avg(); err != nil {
		r.log.WithError(err).Debug("Failed to read load averages")
		failures++
	} else {
		snap.LoadAvg = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		r.log.WithError(err).Debug("Failed to read memory info")
		failures++
	} else {
		snap.TotalRAM = vm.Total
		snap.FreeRAM = vm.Free
	}

	return snap, failures
}
