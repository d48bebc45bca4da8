// Package commitment builds and verifies the commit-reveal digests that hide
// a bettor's prediction until the confidential reveal step.
//
// The digest is keccak256(le64(low) || le64(high) || le64(target) || salt).
package commitment

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// SaltSize is the length of salts produced by NewSalt. Verification accepts
// salts of any length.
const SaltSize = 32

// Preimage is the hidden prediction bound by a commitment.
type Preimage struct {
	Low    int64
	High   int64
	Target int64
	Salt   []byte
}

// Encode returns the hashed byte layout of the preimage.
func (p Preimage) Encode() []byte {
	buf := make([]byte, 24, 24+len(p.Salt))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(p.Low))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.High))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(p.Target))
	return append(buf, p.Salt...)
}

// Commit computes the digest binding low, high, target and salt.
func Commit(low, high, target int64, salt []byte) domain.Digest {
	return Preimage{Low: low, High: high, Target: target, Salt: salt}.Digest()
}

// Digest computes the commitment for the preimage.
func (p Preimage) Digest() domain.Digest {
	var d domain.Digest
	copy(d[:], crypto.Keccak256(p.Encode()))
	return d
}

// Verify reports whether the preimage opens digest. The comparison does not
// exit early on the first differing byte.
func Verify(digest domain.Digest, low, high, target int64, salt []byte) bool {
	got := Commit(low, high, target, salt)
	return subtle.ConstantTimeCompare(got[:], digest[:]) == 1
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("commitment: generate salt: %w", err)
	}
	return salt, nil
}
