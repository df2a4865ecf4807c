package baseline

import (
	"math"
	"testing"
	"time"

	"github.com/opsgrid/sentinel/pkg/digest"
	"github.com/opsgrid/sentinel/pkg/fingerprint"
	"github.com/opsgrid/sentinel/pkg/integrity"
	"github.com/opsgrid/sentinel/pkg/netprobe"
	"github.com/opsgrid/sentinel/pkg/procscan"
	"github.com/opsgrid/sentinel/pkg/vitals"
)

// makeFingerprint builds a fingerprint with a known shape for learner tests.
func makeFingerprint(procs int, usedPct float64, load1 float64, ports []int, configs map[string]digest.Digest) *fingerprint.Fingerprint {
	fp := &fingerprint.Fingerprint{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		System: vitals.Snapshot{
			TotalRAM: 1000,
			FreeRAM:  uint64(1000 - 10*usedPct),
			LoadAvg:  [3]float64{load1, 0, 0},
		},
	}
	for i := 0; i < procs; i++ {
		fp.Processes = append(fp.Processes, procscan.Record{PID: i + 1, State: procscan.StateSleeping})
	}
	for _, p := range ports {
		fp.Listeners = append(fp.Listeners, netprobe.Listener{Protocol: "tcp", LocalPort: p, State: "LISTEN"})
	}
	for path, d := range configs {
		fp.Configs = append(fp.Configs, integrity.Record{Path: path, Exists: true, Digest: d})
	}
	return fp
}

func TestNew_SingleSample(t *testing.T) {
	d := digest.Sum([]byte("v1"))
	fp := makeFingerprint(50, 40.0, 1.5, []int{22, 80}, map[string]digest.Digest{"/etc/passwd": d})

	b := New(fp)

	if b.Samples != 1 {
		t.Errorf("samples = %d, want 1", b.Samples)
	}
	if b.ProcessCount.Min != 50 || b.ProcessCount.Max != 50 || b.ProcessCount.Mean != 50 {
		t.Errorf("process count range = %+v, want 50/50/50", b.ProcessCount)
	}
	if b.Load1.Min != 1.5 || b.Load1.Max != 1.5 {
		t.Errorf("load range = %+v", b.Load1)
	}
	if !b.ExpectedPorts[22] || !b.ExpectedPorts[80] || len(b.ExpectedPorts) != 2 {
		t.Errorf("expected ports = %v", b.ExpectedPorts)
	}
	if b.ConfigDigests["/etc/passwd"] != d {
		t.Errorf("config digest = %s", b.ConfigDigests["/etc/passwd"].Hex())
	}
}

func TestLearn_SameSampleTwice(t *testing.T) {
	fp := makeFingerprint(50, 40.0, 1.5, []int{22}, nil)

	b := New(fp)
	b.Learn(fp)

	if b.Samples != 2 {
		t.Errorf("samples = %d, want 2", b.Samples)
	}
	for name, r := range map[string]MetricRange{
		"process_count": b.ProcessCount,
		"memory_pct":    b.MemoryUsedPct,
		"load1":         b.Load1,
	} {
		if r.Min != r.Max {
			t.Errorf("%s: min %v != max %v after identical samples", name, r.Min, r.Max)
		}
		if math.Abs(r.Mean-r.Min) > 1e-9 {
			t.Errorf("%s: mean %v drifted from observed %v", name, r.Mean, r.Min)
		}
	}
}

func TestLearn_FoldsRanges(t *testing.T) {
	b := New(makeFingerprint(50, 40.0, 1.0, []int{22}, nil))
	b.Learn(makeFingerprint(70, 60.0, 3.0, []int{443}, nil))
	b.Learn(makeFingerprint(60, 50.0, 2.0, nil, nil))

	if b.Samples != 3 {
		t.Errorf("samples = %d, want 3", b.Samples)
	}
	if b.ProcessCount.Min != 50 || b.ProcessCount.Max != 70 {
		t.Errorf("process count range = %+v", b.ProcessCount)
	}
	if math.Abs(b.ProcessCount.Mean-60.0) > 1e-9 {
		t.Errorf("process count mean = %v, want 60", b.ProcessCount.Mean)
	}
	// Ports union, never removed.
	if !b.ExpectedPorts[22] || !b.ExpectedPorts[443] {
		t.Errorf("expected ports = %v", b.ExpectedPorts)
	}
}

func TestLearn_OverwritesConfigDigests(t *testing.T) {
	d1 := digest.Sum([]byte("v1"))
	d2 := digest.Sum([]byte("v2"))

	b := New(makeFingerprint(1, 10, 0.1, nil, map[string]digest.Digest{"/etc/hosts": d1}))
	b.Learn(makeFingerprint(1, 10, 0.1, nil, map[string]digest.Digest{"/etc/hosts": d2}))

	if b.ConfigDigests["/etc/hosts"] != d2 {
		t.Error("baseline should track the latest observed digest")
	}
}
