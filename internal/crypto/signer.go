package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a request signature cannot be recovered.
var ErrBadSignature = errors.New("crypto/signer: malformed signature")

// Signer signs API requests with a secp256k1 key so the server can recover
// the caller identity.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the identity derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// RequestDigest is the keccak256 of method || path || timestamp || nonce ||
// body. The nonce is length-prefixed so it cannot bleed into the body.
func RequestDigest(method, path string, timestamp int64, nonce string, body []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(strings.ToUpper(method)),
		[]byte(path),
		[]byte(strconv.FormatInt(timestamp, 10)),
		[]byte(strconv.Itoa(len(nonce))+":"+nonce),
		body,
	)
}

// SignRequest returns the hex EIP-191 personal signature over the request
// digest.
func (s *Signer) SignRequest(method, path string, timestamp int64, nonce string, body []byte) (string, error) {
	return s.signDigest(accounts.TextHash(RequestDigest(method, path, timestamp, nonce, body)))
}

// RecoverRequest returns the identity that produced sigHex for the request.
func RecoverRequest(method, path string, timestamp int64, nonce string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash := accounts.TextHash(RequestDigest(method, path, timestamp, nonce, body))
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets expect v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}
