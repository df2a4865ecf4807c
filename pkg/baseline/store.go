package baseline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opsgrid/sentinel/pkg/fingerprint"
)

// ErrNotFound is returned when no baseline has been learned yet.
var ErrNotFound = errors.New("baseline not found")

// Store persists one baseline file. Saves are atomic: encode to a temp file
// in the same directory, then rename over the target, so a crash mid-write
// leaves the prior baseline intact.
type Store struct {
	Path string

	log *logrus.Logger
}

// NewStore creates a Store for the baseline at path.
func NewStore(path string, log *logrus.Logger) *Store {
	return &Store{Path: path, log: log}
}

// DefaultPath returns the default baseline location (~/.sentinel/baseline.bin).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sentinel/baseline.bin"
	}
	return filepath.Join(home, ".sentinel", "baseline.bin")
}

// Load reads and decodes the stored baseline. Returns ErrNotFound if no
// baseline exists; decode failures (ErrBadMagic, ErrIncompatibleVersion) are
// hard errors, never silently migrated.
func (s *Store) Load() (*Baseline, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read baseline: %w", err)
	}
	return Decode(data)
}

// Save atomically writes the baseline.
func (s *Store) Save(b *Baseline) error {
	data, err := Encode(b)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create baseline dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".baseline-*")
	if err != nil {
		return fmt.Errorf("create temp baseline: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close baseline: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod baseline: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replace baseline: %w", err)
	}
	return nil
}

// Learn folds a fingerprint into the stored baseline, creating it on first
// use. An advisory lock serializes concurrent learners; the read-modify-write
// is atomic from any other reader's perspective.
func (s *Store) Learn(fp *fingerprint.Fingerprint) (*Baseline, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.Load()
	switch {
	case errors.Is(err, ErrNotFound):
		b = New(fp)
		s.log.WithField("path", s.Path).Info("Creating new baseline")
	case err != nil:
		return nil, err
	default:
		b.Learn(fp)
	}

	if err := s.Save(b); err != nil {
		return nil, err
	}
	return b, nil
}

// lock takes an exclusive advisory flock next to the baseline file.
func (s *Store) lock() (func(), error) {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create baseline dir: %w", err)
	}

	f, err := os.OpenFile(s.Path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open baseline lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock baseline: %w", err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck
		f.Close()
	}, nil
}
