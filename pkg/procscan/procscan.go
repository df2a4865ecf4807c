// Package procscan enumerates the process table from /proc. Each scan is a
// single read-only pass; processes that exit mid-scan are skipped.
package procscan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the process lifecycle state.
type State string

const (
	StateRunning  State = "running"
	StateSleeping State = "sleeping"
	StateDiskWait State = "disk-wait"
	StateZombie   State = "zombie"
	StateStopped  State = "stopped"
	StateUnknown  State = "unknown"
)

// Record describes one process at capture time. Records are owned by the
// fingerprint that captured them and never mutated afterwards.
type Record struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	FDCount   int       `json:"fd_count"`
	RSSBytes  uint64    `json:"rss_bytes"`
	StartTime time.Time `json:"start_time"`
}

// Scanner reads the process table.
type Scanner struct {
	// Root is the proc filesystem mount point, normally /proc.
	Root string

	log      *logrus.Logger
	pageSize uint64
}

// NewScanner creates a Scanner rooted at /proc.
func NewScanner(log *logrus.Logger) *Scanner {
	return &Scanner{Root: "/proc", log: log, pageSize: uint64(os.Getpagesize())}
}

// Scan enumerates all processes. It fails only if the proc root itself cannot
// be read; individual processes that vanish mid-scan are silently skipped.
func (s *Scanner) Scan() ([]Record, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("read proc root: %w", err)
	}

	bootTime := s.bootTime()
	records := make([]Record, 0, len(entries))

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		rec, err := s.readProcess(pid, bootTime)
		if err != nil {
			// Process exited between enumeration and read.
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// readProcess reads one process's record from /proc/[pid].
func (s *Scanner) readProcess(pid int, bootTime time.Time) (Record, error) {
	procPath := filepath.Join(s.Root, strconv.Itoa(pid))

	statBytes, err := os.ReadFile(filepath.Join(procPath, "stat"))
	if err != nil {
		return Record{}, err
	}
	name, state, startTicks, rssPages, ok := parseStat(string(statBytes))
	if !ok {
		return Record{}, fmt.Errorf("malformed stat for pid %d", pid)
	}

	rec := Record{
		PID:       pid,
		Name:      name,
		State:     state,
		RSSBytes:  rssPages * s.pageSize,
		StartTime: bootTime.Add(ticksToDuration(startTicks)),
	}

	// fd dir may be unreadable without privileges; count stays zero.
	if fds, err := os.ReadDir(filepath.Join(procPath, "fd")); err == nil {
		rec.FDCount = len(fds)
	}

	return rec, nil
}

// clockTicksPerSecond is the kernel's USER_HZ, fixed at 100 on Linux.
const clockTicksPerSecond = 100

// ticksToDuration converts a USER_HZ tick count to a duration. Dividing
// before converting to nanoseconds keeps large tick counts (hosts up for
// years) from overflowing int64.
func ticksToDuration(ticks int64) time.Duration {
	secs := ticks / clockTicksPerSecond
	rem := ticks % clockTicksPerSecond
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/clockTicksPerSecond
}

// parseStat extracts comm, state, start time ticks and RSS pages from a
// /proc/[pid]/stat line. The comm field sits between the outermost parens and
// may itself contain spaces or parens.
func parseStat(stat string) (name string, state State, startTicks int64, rssPages uint64, ok bool) {
	open := strings.Index(stat, "(")
	close := strings.LastIndex(stat, ")")
	if open == -1 || close == -1 || close+2 > len(stat) {
		return "", StateUnknown, 0, 0, false
	}
	name = stat[open+1 : close]

	fields := strings.Fields(stat[close+2:])
	// After comm: state, ppid, ... starttime is field 22 overall (index 19
	// here), rss is field 24 (index 21).
	if len(fields) < 1 {
		return "", StateUnknown, 0, 0, false
	}
	state = stateFromLetter(fields[0])
	if len(fields) >= 20 {
		startTicks, _ = strconv.ParseInt(fields[19], 10, 64)
	}
	if len(fields) >= 22 {
		rssPages, _ = strconv.ParseUint(fields[21], 10, 64)
	}
	return name, state, startTicks, rssPages, true
}

// stateFromLetter maps a /proc stat state letter to a lifecycle state.
func stateFromLetter(s string) State {
	if s == "" {
		return StateUnknown
	}
	switch s[0] {
	case 'R':
		return StateRunning
	case 'S':
		return StateSleeping
	case 'D':
		return StateDiskWait
	case 'Z':
		return StateZombie
	case 'T', 't':
		return StateStopped
	default:
		return StateUnknown
	}
}

// bootTime reads the btime line from /proc/stat. Falls back to now, which
// makes start times approximate rather than failing the scan.
func (s *Scanner) bootTime() time.Time {
	data, err := os.ReadFile(filepath.Join(s.Root, "stat"))
	if err != nil {
		s.log.WithError(err).Debug("Failed to read boot time")
		return time.Now()
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				btime, _ := strconv.ParseInt(fields[1], 10, 64)
				return time.Unix(btime, 0)
			}
		}
	}
	return time.Now()
}
