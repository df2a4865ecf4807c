// Package integrity probes tracked configuration files: metadata, a bounded
// content read, and a content digest for drift comparison.
package integrity

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsgrid/sentinel/pkg/digest"
)

// MaxProbeBytes bounds how much of a file is read for digesting. Files larger
// than this are digested over their first MaxProbeBytes only.
const MaxProbeBytes = 10 * 1024 * 1024

// Record describes one tracked config file at capture time.
type Record struct {
	Path          string        `json:"path"`
	Exists        bool          `json:"exists"`
	Mode          os.FileMode   `json:"mode"`
	Size          int64         `json:"size"`
	ModTime       time.Time     `json:"mod_time"`
	Digest        digest.Digest `json:"digest"`
	WorldWritable bool          `json:"world_writable"`
}

// Prober computes integrity records for tracked paths.
type Prober struct {
	log *logrus.Logger
}

// NewProber creates a Prober.
func NewProber(log *logrus.Logger) *Prober {
	return &Prober{log: log}
}

// Probe returns one record per requested path, in request order, plus the
// number of unreadable paths. An unreadable path yields a record with
// Exists=false and the sentinel digest; the batch never aborts.
func (p *Prober) Probe(paths []string) ([]Record, int) {
	records := make([]Record, 0, len(paths))
	failures := 0
	for _, path := range paths {
		rec := p.probeOne(path)
		if !rec.Exists {
			failures++
		}
		records = append(records, rec)
	}
	return records, failures
}

func (p *Prober) probeOne(path string) Record {
	rec := Record{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		p.log.WithError(err).WithField("path", path).Debug("Cannot stat config")
		return rec
	}
	rec.Mode = info.Mode()
	rec.Size = info.Size()
	rec.ModTime = info.ModTime()
	rec.WorldWritable = info.Mode().Perm()&0o002 != 0

	f, err := os.Open(path)
	if err != nil {
		p.log.WithError(err).WithField("path", path).Debug("Cannot open config")
		return rec
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxProbeBytes))
	if err != nil {
		p.log.WithError(err).WithField("path", path).Debug("Cannot read config")
		return rec
	}

	rec.Exists = true
	rec.Digest = digest.Sum(data)
	return rec
}
