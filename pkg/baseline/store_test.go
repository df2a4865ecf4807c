package baseline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/opsgrid/sentinel/pkg/digest"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.bin")
	s := NewStore(path, logrus.New())

	fp := makeFingerprint(42, 35.0, 0.8, []int{22, 443}, map[string]digest.Digest{
		"/etc/hosts":  digest.Sum([]byte("hosts")),
		"/etc/passwd": digest.Sum([]byte("passwd")),
	})
	b := New(fp)
	b.Learn(makeFingerprint(48, 55.0, 1.2, []int{80}, nil))

	if err := s.Save(b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Samples != b.Samples {
		t.Errorf("samples = %d, want %d", got.Samples, b.Samples)
	}
	if got.ProcessCount != b.ProcessCount || got.MemoryUsedPct != b.MemoryUsedPct || got.Load1 != b.Load1 {
		t.Errorf("ranges differ after round trip: %+v vs %+v", got, b)
	}
	if len(got.ExpectedPorts) != 3 || !got.ExpectedPorts[22] || !got.ExpectedPorts[80] || !got.ExpectedPorts[443] {
		t.Errorf("ports = %v", got.ExpectedPorts)
	}
	if got.ConfigDigests["/etc/hosts"] != b.ConfigDigests["/etc/hosts"] {
		t.Error("config digests differ after round trip")
	}
	if got.CreatedAt.Unix() != b.CreatedAt.Unix() {
		t.Errorf("created at = %v, want %v", got.CreatedAt, b.CreatedAt)
	}
}

func TestStore_Load_NotFound(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "none.bin"), logrus.New())
	if _, err := s.Load(); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Load_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.bin")
	if err := os.WriteFile(path, []byte("this is not a baseline file"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path, logrus.New())
	if _, err := s.Load(); !errors.Is(err, ErrBadMagic) {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestStore_Load_NewerVersion(t *testing.T) {
	b := New(makeFingerprint(1, 10, 0.1, nil, nil))
	data, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	// Bump the version field (bytes 4-5, big-endian) past what we support.
	data[4] = 0xFF
	data[5] = 0xFF

	path := filepath.Join(t.TempDir(), "baseline.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path, logrus.New())
	if _, err := s.Load(); !errors.Is(err, ErrIncompatibleVersion) {
		t.Errorf("err = %v, want ErrIncompatibleVersion", err)
	}
}

func TestStore_Load_Truncated(t *testing.T) {
	b := New(makeFingerprint(1, 10, 0.1, []int{22}, nil))
	data, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "baseline.bin")
	if err := os.WriteFile(path, data[:len(data)-3], 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path, logrus.New())
	if _, err := s.Load(); err == nil {
		t.Error("expected error for truncated file")
	}
}

func TestStore_Learn_CreatesThenFolds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "baseline.bin")
	s := NewStore(path, logrus.New())

	fp := makeFingerprint(10, 20.0, 0.5, []int{22}, nil)

	b1, err := s.Learn(fp)
	if err != nil {
		t.Fatalf("first Learn: %v", err)
	}
	if b1.Samples != 1 {
		t.Errorf("samples after first learn = %d, want 1", b1.Samples)
	}

	b2, err := s.Learn(fp)
	if err != nil {
		t.Fatalf("second Learn: %v", err)
	}
	if b2.Samples != 2 {
		t.Errorf("samples after second learn = %d, want 2", b2.Samples)
	}
	if b2.ProcessCount.Min != b2.ProcessCount.Max {
		t.Error("identical samples should keep min == max")
	}

	// Stored copy matches.
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Samples != 2 {
		t.Errorf("persisted samples = %d, want 2", got.Samples)
	}
}

func TestStore_Save_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "baseline.bin"), logrus.New())
	if err := s.Save(New(makeFingerprint(1, 10, 0.1, nil, nil))); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "baseline.bin" {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}
