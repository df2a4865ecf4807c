// Package baseline maintains a persisted statistical model of a host's
// normal state, built incrementally from fingerprints.
package baseline

import (
	"time"

	"github.com/opsgrid/sentinel/pkg/digest"
	"github.com/opsgrid/sentinel/pkg/fingerprint"
)

// MetricRange is the learned envelope of one numeric metric.
type MetricRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// init sets the range from its first observation.
func (r *MetricRange) init(v float64) {
	r.Min, r.Max, r.Mean = v, v, v
}

// observe folds one more sample into the range. n is the sample count after
// this observation. The mean update is Welford-style: numerically stable and
// free of unbounded sums.
func (r *MetricRange) observe(v float64, n uint64) {
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
	r.Mean += (v - r.Mean) / float64(n)
}

// Contains reports whether v lies inside the learned [min, max] envelope.
func (r MetricRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Baseline is the learned model of normal host state. Samples is at least 1
// once a baseline exists.
type Baseline struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Samples   uint64    `json:"samples"`

	ProcessCount  MetricRange `json:"process_count"`
	MemoryUsedPct MetricRange `json:"memory_used_pct"`
	Load1         MetricRange `json:"load1"`

	// ExpectedPorts grows by union on every learn; removal is an
	// administrative decision, never automatic.
	ExpectedPorts map[int]bool `json:"expected_ports"`
	// ConfigDigests tracks the latest observed digest per path, not history.
	ConfigDigests map[string]digest.Digest `json:"config_digests"`
}

// New initializes a baseline from its first fingerprint.
func New(fp *fingerprint.Fingerprint) *Baseline {
	b := &Baseline{
		CreatedAt:     fp.Timestamp,
		UpdatedAt:     fp.Timestamp,
		Samples:       1,
		ExpectedPorts: make(map[int]bool),
		ConfigDigests: make(map[string]digest.Digest),
	}
	b.ProcessCount.init(float64(len(fp.Processes)))
	b.MemoryUsedPct.init(fp.System.MemoryUsedPercent())
	b.Load1.init(fp.System.LoadAvg[0])
	for _, port := range fp.ListenerPorts() {
		b.ExpectedPorts[port] = true
	}
	for path, d := range fp.ConfigDigests() {
		b.ConfigDigests[path] = d
	}
	return b
}

// Learn folds one fingerprint into the baseline.
func (b *Baseline) Learn(fp *fingerprint.Fingerprint) {
	b.Samples++
	b.UpdatedAt = fp.Timestamp

	b.ProcessCount.observe(float64(len(fp.Processes)), b.Samples)
	b.MemoryUsedPct.observe(fp.System.MemoryUsedPercent(), b.Samples)
	b.Load1.observe(fp.System.LoadAvg[0], b.Samples)

	for _, port := range fp.ListenerPorts() {
		b.ExpectedPorts[port] = true
	}
	for path, d := range fp.ConfigDigests() {
		b.ConfigDigests[path] = d
	}
}
