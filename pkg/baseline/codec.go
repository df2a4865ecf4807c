package baseline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/opsgrid/sentinel/pkg/digest"
)

// Binary baseline format, big-endian, fixed field order:
//
//	magic      [4]byte  "SNTB"
//	version    uint16
//	created    int64    unix seconds
//	updated    int64    unix seconds
//	samples    uint64
//	ranges     3 x (min, max, mean float64)   process count, memory%, load1
//	portCount  uint32, then portCount x uint16, ascending
//	pathCount  uint32, then pathCount x (pathLen uint16, path bytes, digest [32]byte), path-sorted
var magic = [4]byte{'S', 'N', 'T', 'B'}

// FormatVersion is the current baseline format version.
const FormatVersion uint16 = 1

// ErrBadMagic is returned when the file does not start with the baseline marker.
var ErrBadMagic = errors.New("baseline: unrecognized file format")

// ErrIncompatibleVersion is returned for versions newer than this reader
// understands. Readers fail closed rather than partially interpret the file.
var ErrIncompatibleVersion = errors.New("baseline: format version not supported")

// Encode serializes the baseline.
func Encode(b *Baseline) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])

	w := func(v interface{}) {
		// bytes.Buffer writes cannot fail.
		binary.Write(&buf, binary.BigEndian, v) //nolint:errcheck
	}
	w(FormatVersion)
	w(b.CreatedAt.Unix())
	w(b.UpdatedAt.Unix())
	w(b.Samples)

	for _, r := range []MetricRange{b.ProcessCount, b.MemoryUsedPct, b.Load1} {
		w(math.Float64bits(r.Min))
		w(math.Float64bits(r.Max))
		w(math.Float64bits(r.Mean))
	}

	ports := make([]int, 0, len(b.ExpectedPorts))
	for p := range b.ExpectedPorts {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	w(uint32(len(ports)))
	for _, p := range ports {
		w(uint16(p))
	}

	paths := make([]string, 0, len(b.ConfigDigests))
	for p := range b.ConfigDigests {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w(uint32(len(paths)))
	for _, p := range paths {
		if len(p) > math.MaxUint16 {
			return nil, fmt.Errorf("baseline: path too long: %d bytes", len(p))
		}
		w(uint16(len(p)))
		buf.WriteString(p)
		d := b.ConfigDigests[p]
		buf.Write(d[:])
	}

	return buf.Bytes(), nil
}

// Decode parses a serialized baseline, failing closed on unknown magic or a
// newer version.
func Decode(data []byte) (*Baseline, error) {
	r := bytes.NewReader(data)

	var m [4]byte
	if _, err := r.Read(m[:]); err != nil || m != magic {
		return nil, ErrBadMagic
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("baseline: truncated header: %w", err)
	}
	if version > FormatVersion {
		return nil, fmt.Errorf("%w: file version %d, reader supports up to %d",
			ErrIncompatibleVersion, version, FormatVersion)
	}

	b := &Baseline{
		ExpectedPorts: make(map[int]bool),
		ConfigDigests: make(map[string]digest.Digest),
	}

	var created, updated int64
	if err := binary.Read(r, binary.BigEndian, &created); err != nil {
		return nil, truncated(err)
	}
	if err := binary.Read(r, binary.BigEndian, &updated); err != nil {
		return nil, truncated(err)
	}
	b.CreatedAt = time.Unix(created, 0)
	b.UpdatedAt = time.Unix(updated, 0)

	if err := binary.Read(r, binary.BigEndian, &b.Samples); err != nil {
		return nil, truncated(err)
	}

	for _, rng := range []*MetricRange{&b.ProcessCount, &b.MemoryUsedPct, &b.Load1} {
		var bits [3]uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, truncated(err)
		}
		rng.Min = math.Float64frombits(bits[0])
		rng.Max = math.Float64frombits(bits[1])
		rng.Mean = math.Float64frombits(bits[2])
	}

	var portCount uint32
	if err := binary.Read(r, binary.BigEndian, &portCount); err != nil {
		return nil, truncated(err)
	}
	for i := uint32(0); i < portCount; i++ {
		var port uint16
		if err := binary.Read(r, binary.BigEndian, &port); err != nil {
			return nil, truncated(err)
		}
		b.ExpectedPorts[int(port)] = true
	}

	var pathCount uint32
	if err := binary.Read(r, binary.BigEndian, &pathCount); err != nil {
		return nil, truncated(err)
	}
	for i := uint32(0); i < pathCount; i++ {
		var pathLen uint16
		if err := binary.Read(r, binary.BigEndian, &pathLen); err != nil {
			return nil, truncated(err)
		}
		path := make([]byte, pathLen)
		if _, err := io.ReadFull(r, path); err != nil {
			return nil, truncated(err)
		}
		var d digest.Digest
		if _, err := io.ReadFull(r, d[:]); err != nil {
			return nil, truncated(err)
		}
		b.ConfigDigests[string(path)] = d
	}

	return b, nil
}

func truncated(err error) error {
	return fmt.Errorf("baseline: truncated file: %w", err)
}
