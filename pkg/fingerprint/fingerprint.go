// Package fingerprint assembles probe outputs into one immutable, timestamped
// snapshot of host state and derives a quick-analysis summary from it.
package fingerprint

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsgrid/sentinel/pkg/digest"
	"github.com/opsgrid/sentinel/pkg/integrity"
	"github.com/opsgrid/sentinel/pkg/netprobe"
	"github.com/opsgrid/sentinel/pkg/procscan"
	"github.com/opsgrid/sentinel/pkg/vitals"
)

// Fingerprint is one point-in-time capture of host state. It is immutable
// after assembly; partial probe failures are recorded in ProbeFailures and
// never abort assembly.
type Fingerprint struct {
	Timestamp     time.Time             `json:"timestamp"`
	System        vitals.Snapshot       `json:"system"`
	Processes     []procscan.Record     `json:"processes"`
	Configs       []integrity.Record    `json:"configs"`
	Listeners     []netprobe.Listener   `json:"listeners,omitempty"`
	Connections   []netprobe.Connection `json:"connections,omitempty"`
	ProbeFailures int                   `json:"probe_failures"`
}

// ListenerPorts returns the distinct listening ports, sorted ascending.
func (fp *Fingerprint) ListenerPorts() []int {
	seen := make(map[int]bool)
	for _, l := range fp.Listeners {
		seen[l.LocalPort] = true
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// ConfigDigests returns path -> digest for readable tracked configs.
func (fp *Fingerprint) ConfigDigests() map[string]digest.Digest {
	m := make(map[string]digest.Digest, len(fp.Configs))
	for _, c := range fp.Configs {
		if c.Exists {
			m[c.Path] = c.Digest
		}
	}
	return m
}

// Options configures an Assembler.
type Options struct {
	// ConfigPaths are the files tracked for integrity.
	ConfigPaths []string
	// IncludeNetwork enables the socket table probe.
	IncludeNetwork bool
	// ProcRoot overrides the proc mount point, for tests.
	ProcRoot string
}

// Assembler composes probe outputs into fingerprints. Assembly itself does no
// parsing; it only runs the probes and counts their failures.
type Assembler struct {
	opts Options
	log  *logrus.Logger

	vitals  *vitals.Reader
	procs   *procscan.Scanner
	configs *integrity.Prober
	net     *netprobe.Prober
}

// NewAssembler creates an Assembler.
func NewAssembler(opts Options, log *logrus.Logger) *Assembler {
	a := &Assembler{
		opts:    opts,
		log:     log,
		vitals:  vitals.NewReader(log),
		procs:   procscan.NewScanner(log),
		configs: integrity.NewProber(log),
		net:     netprobe.New(log),
	}
	if opts.ProcRoot != "" {
		a.procs.Root = opts.ProcRoot
		a.net.Root = opts.ProcRoot
	}
	return a
}

// Capture runs all probes and assembles a Fingerprint. It never fails; every
// unavailable source adds to the probe-failure count.
func (a *Assembler) Capture() Fingerprint {
	fp := Fingerprint{Timestamp: time.Now()}

	snap, failures := a.vitals.Read()
	fp.System = snap
	fp.ProbeFailures += failures

	procs, err := a.procs.Scan()
	if err != nil {
		a.log.WithError(err).Warn("Process table unavailable")
		fp.ProbeFailures++
	}
	fp.Processes = procs

	configs, failures := a.configs.Probe(a.opts.ConfigPaths)
	fp.Configs = configs
	fp.ProbeFailures += failures

	if a.opts.IncludeNetwork {
		res := a.net.Probe()
		fp.Listeners = res.Listeners
		fp.Connections = res.Connections
		fp.ProbeFailures += res.Failures
	}

	return fp
}
