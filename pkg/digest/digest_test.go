package digest

import "testing"

func TestSum_KnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		// FIPS 180-4 / RFC 6234 reference vectors.
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"abcdbcdecdefdefgefghfghighijhijkijkljklmklmnlmnomnopnopq",
			"248d6a61d20638b8e5c026930c3e6039a33ce45964ff2167f6ecedd419db06c1"},
	}
	for _, tt := range tests {
		got := Sum([]byte(tt.in)).Hex()
		if got != tt.want {
			t.Errorf("Sum(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSum_Deterministic(t *testing.T) {
	data := []byte("the same bytes every time")
	if Sum(data) != Sum(data) {
		t.Error("Sum is not deterministic")
	}
}

func TestZeroSentinel(t *testing.T) {
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() = false")
	}
	if Sum([]byte{}).IsZero() {
		t.Error("digest of empty input must not equal the sentinel")
	}
}

func TestParseRoundTrip(t *testing.T) {
	d := Sum([]byte("round trip"))
	parsed, err := Parse(d.Hex())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != d {
		t.Errorf("Parse(%s) = %s", d.Hex(), parsed.Hex())
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("abc"); err == nil {
		t.Error("Parse should reject short input")
	}
	if _, err := Parse("zz7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"); err == nil {
		t.Error("Parse should reject non-hex input")
	}
}
