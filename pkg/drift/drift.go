// Package drift compares a fingerprint against a learned baseline, or two
// fingerprints against each other, and reports classified deviations.
package drift

import (
	"fmt"
	"sort"
	"time"

	"github.com/opsgrid/sentinel/pkg/baseline"
	"github.com/opsgrid/sentinel/pkg/fingerprint"
)

// Kind classifies a deviation finding.
type Kind string

const (
	KindNewListener     Kind = "new-listener"
	KindMissingListener Kind = "missing-listener"
	KindConfigDigest    Kind = "config-digest-mismatch"
	KindMetricRange     Kind = "metric-out-of-range"
)

// Finding is one observed deviation with its evidence.
type Finding struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`

	Port      int     `json:"port,omitempty"`
	Path      string  `json:"path,omitempty"`
	OldDigest string  `json:"old_digest,omitempty"`
	NewDigest string  `json:"new_digest,omitempty"`
	Metric string `json:"metric,omitempty"`
	// Zero is a legitimate observed value and a legitimate envelope bound,
	// so the metric numbers never use omitempty.
	Observed float64 `json:"observed"`
	RangeMin float64 `json:"range_min"`
	RangeMax float64 `json:"range_max"`
}

// Report is the outcome of one comparison. An empty Findings slice is the
// valid "no drift" result, never nil.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Findings    []Finding `json:"findings"`
}

// Empty reports whether no deviations were found.
func (r Report) Empty() bool {
	return len(r.Findings) == 0
}

// Compare checks a fingerprint against a learned baseline.
func Compare(b *baseline.Baseline, fp *fingerprint.Fingerprint) Report {
	report := Report{GeneratedAt: time.Now(), Findings: []Finding{}}

	current := make(map[int]bool)
	for _, port := range fp.ListenerPorts() {
		current[port] = true
		if !b.ExpectedPorts[port] {
			report.Findings = append(report.Findings, Finding{
				Kind:   KindNewListener,
				Port:   port,
				Detail: fmt.Sprintf("port %d is listening but not in the baseline", port),
			})
		}
	}
	for _, port := range sortedPorts(b.ExpectedPorts) {
		if !current[port] {
			report.Findings = append(report.Findings, Finding{
				Kind:   KindMissingListener,
				Port:   port,
				Detail: fmt.Sprintf("expected listener on port %d is gone", port),
			})
		}
	}

	report.Findings = append(report.Findings, configFindings(b, fp)...)
	report.Findings = append(report.Findings, metricFindings(b, fp)...)
	return report
}

// configFindings reports digest drift for every tracked path observed in the
// current fingerprint; a tracked path now unreadable is also drift.
func configFindings(b *baseline.Baseline, fp *fingerprint.Fingerprint) []Finding {
	var findings []Finding
	currentDigests := fp.ConfigDigests()

	probed := make(map[string]bool, len(fp.Configs))
	for _, c := range fp.Configs {
		probed[c.Path] = true
	}

	for _, path := range sortedPaths(b.ConfigDigests) {
		if !probed[path] {
			continue // path not tracked in this capture
		}
		old := b.ConfigDigests[path]
		cur, readable := currentDigests[path]
		switch {
		case !readable:
			findings = append(findings, Finding{
				Kind:      KindConfigDigest,
				Path:      path,
				OldDigest: old.Hex(),
				Detail:    fmt.Sprintf("tracked config %s is no longer readable", path),
			})
		case cur != old:
			findings = append(findings, Finding{
				Kind:      KindConfigDigest,
				Path:      path,
				OldDigest: old.Hex(),
				NewDigest: cur.Hex(),
				Detail:    fmt.Sprintf("config %s content changed", path),
			})
		}
	}
	return findings
}

// metricFindings reports current values outside the learned [min,max] envelope.
func metricFindings(b *baseline.Baseline, fp *fingerprint.Fingerprint) []Finding {
	var findings []Finding
	metrics := []struct {
		name     string
		observed float64
		envelope baseline.MetricRange
	}{
		{"process_count", float64(len(fp.Processes)), b.ProcessCount},
		{"memory_used_pct", fp.System.MemoryUsedPercent(), b.MemoryUsedPct},
		{"load1", fp.System.LoadAvg[0], b.Load1},
	}
	for _, m := range metrics {
		if !m.envelope.Contains(m.observed) {
			findings = append(findings, Finding{
				Kind:     KindMetricRange,
				Metric:   m.name,
				Observed: m.observed,
				RangeMin: m.envelope.Min,
				RangeMax: m.envelope.Max,
				Detail: fmt.Sprintf("%s %.2f outside learned range [%.2f, %.2f]",
					m.name, m.observed, m.envelope.Min, m.envelope.Max),
			})
		}
	}
	return findings
}

// Diff compares two fingerprints directly: listener and config-digest deltas
// from old to current. Metric envelopes need a learned baseline and do not
// apply here.
func Diff(old, current *fingerprint.Fingerprint) Report {
	report := Report{GeneratedAt: time.Now(), Findings: []Finding{}}

	oldPorts := make(map[int]bool)
	for _, p := range old.ListenerPorts() {
		oldPorts[p] = true
	}
	curPorts := make(map[int]bool)
	for _, p := range current.ListenerPorts() {
		curPorts[p] = true
		if !oldPorts[p] {
			report.Findings = append(report.Findings, Finding{
				Kind:   KindNewListener,
				Port:   p,
				Detail: fmt.Sprintf("port %d is listening but was not before", p),
			})
		}
	}
	for _, p := range sortedPorts(oldPorts) {
		if !curPorts[p] {
			report.Findings = append(report.Findings, Finding{
				Kind:   KindMissingListener,
				Port:   p,
				Detail: fmt.Sprintf("previous listener on port %d is gone", p),
			})
		}
	}

	oldDigests := old.ConfigDigests()
	curDigests := current.ConfigDigests()
	for _, path := range sortedPaths(oldDigests) {
		oldD := oldDigests[path]
		curD, ok := curDigests[path]
		switch {
		case !ok:
			report.Findings = append(report.Findings, Finding{
				Kind:      KindConfigDigest,
				Path:      path,
				OldDigest: oldD.Hex(),
				Detail:    fmt.Sprintf("config %s is no longer readable", path),
			})
		case curD != oldD:
			report.Findings = append(report.Findings, Finding{
				Kind:      KindConfigDigest,
				Path:      path,
				OldDigest: oldD.Hex(),
				NewDigest: curD.Hex(),
				Detail:    fmt.Sprintf("config %s content changed", path),
			})
		}
	}

	return report
}

func sortedPorts(ports map[int]bool) []int {
	out := make([]int, 0, len(ports))
	for p := range ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func sortedPaths[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
