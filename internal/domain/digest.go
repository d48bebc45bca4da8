package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest is a 32-byte commitment hash.
type Digest [32]byte

// Hex returns the 0x-prefixed hex form.
func (d Digest) Hex() string { return "0x" + hex.EncodeToString(d[:]) }

// IsZero reports whether every byte is zero.
func (d Digest) IsZero() bool { return d == Digest{} }

// ParseDigest decodes a 64-character hex string with optional 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return d, fmt.Errorf("domain: parse digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("domain: parse digest: want %d bytes, got %d", len(d), len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

func (d Digest) MarshalText() ([]byte, error) { return []byte(d.Hex()), nil }

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
