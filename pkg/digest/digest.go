// Package digest provides the content digest used for config integrity
// comparison. Digests are SHA-256 (FIPS 180-4) and render as lowercase hex.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Digest is a 256-bit content digest.
type Digest [Size]byte

// Zero is the sentinel digest recorded for unreadable inputs.
var Zero Digest

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is the unreadable-input sentinel.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Parse decodes a 64-character hex string into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != Size*2 {
		return d, fmt.Errorf("digest: expected %d hex characters, got %d", Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	copy(d[:], b)
	return d, nil
}

// MarshalText renders the digest as hex for JSON and text encoders.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText parses a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
