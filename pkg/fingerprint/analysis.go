package fingerprint

import (
	"time"

	"github.com/opsgrid/sentinel/pkg/netprobe"
	"github.com/opsgrid/sentinel/pkg/procscan"
)

// Thresholds configure quick analysis. Zero values are replaced by defaults.
type Thresholds struct {
	HighFDCount     int           `yaml:"high_fd_count"`
	LongRunning     time.Duration `yaml:"long_running"`
	VeryLongRunning time.Duration `yaml:"very_long_running"`
	HighMemoryBytes uint64        `yaml:"high_memory_bytes"`
}

// DefaultThresholds returns the default quick-analysis thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighFDCount:     100,
		LongRunning:     7 * 24 * time.Hour,
		VeryLongRunning: 30 * 24 * time.Hour,
		HighMemoryBytes: 1 << 30,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.HighFDCount == 0 {
		t.HighFDCount = def.HighFDCount
	}
	if t.LongRunning == 0 {
		t.LongRunning = def.LongRunning
	}
	if t.VeryLongRunning == 0 {
		t.VeryLongRunning = def.VeryLongRunning
	}
	if t.HighMemoryBytes == 0 {
		t.HighMemoryBytes = def.HighMemoryBytes
	}
	return t
}

// Analysis summarizes notable findings in one fingerprint. All counts are
// non-negative and derived purely from the fingerprint.
type Analysis struct {
	ZombieProcesses int `json:"zombie_processes"`
	HighFDProcesses int `json:"high_fd_processes"`
	LongRunning     int `json:"long_running_processes"`
	VeryLongRunning int `json:"very_long_running_processes"`
	// StuckProcesses counts processes observed in disk-wait. A single
	// snapshot cannot measure how long a process has been waiting, so this
	// is a candidate count; duration-based confirmation requires comparing
	// successive snapshots in the watch loop.
	StuckProcesses         int `json:"stuck_processes"`
	HighMemoryProcesses    int `json:"high_memory_processes"`
	UnusualListeners       int `json:"unusual_listeners"`
	ConfigPermissionIssues int `json:"config_permission_issues"`
}

// Analyze derives a quick-analysis summary from a fingerprint.
func Analyze(fp *Fingerprint, th Thresholds) Analysis {
	th = th.withDefaults()
	now := fp.Timestamp
	var a Analysis

	for _, p := range fp.Processes {
		switch p.State {
		case procscan.StateZombie:
			a.ZombieProcesses++
		case procscan.StateDiskWait:
			a.StuckProcesses++
		}
		if p.FDCount > th.HighFDCount {
			a.HighFDProcesses++
		}
		if !p.StartTime.IsZero() {
			age := now.Sub(p.StartTime)
			if age > th.VeryLongRunning {
				a.VeryLongRunning++
			}
			if age > th.LongRunning {
				a.LongRunning++
			}
		}
		if p.RSSBytes > th.HighMemoryBytes {
			a.HighMemoryProcesses++
		}
	}

	for _, l := range fp.Listeners {
		if !netprobe.IsCommonPort(l.LocalPort) {
			a.UnusualListeners++
		}
	}

	for _, c := range fp.Configs {
		if c.Exists && c.WorldWritable {
			a.ConfigPermissionIssues++
		}
	}

	return a
}
