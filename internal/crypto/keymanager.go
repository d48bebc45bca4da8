// Package crypto provides request signing, admin confirmation tokens and
// encrypted key backups.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	backupVersion = 2
	kdfIterations = 480_000
	kdfSaltLen    = 16
)

// keyBackup is the on-disk backup of an identity key. The address is stored
// in the clear and bound into the ciphertext as associated data, so a backup
// can be matched to an identity before its password is known and cannot be
// relabelled.
type keyBackup struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Iterations int            `json:"iterations"`
	Salt       hexutil.Bytes  `json:"salt"`
	Nonce      hexutil.Bytes  `json:"nonce"`
	Ciphertext hexutil.Bytes  `json:"ciphertext"`
}

func (b keyBackup) aead(password string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), b.Salt, b.Iterations, 32, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: backup cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// KeyConfig tells LoadKey where the operator key lives.
type KeyConfig struct {
	// RawPrivateKey wins when set; the 0x prefix is optional.
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

// EncryptKey seals a hex private key under password and returns the JSON
// backup read by DecryptKey.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	b := keyBackup{
		Version:    backupVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		Iterations: kdfIterations,
		Salt:       make([]byte, kdfSaltLen),
	}
	if _, err := rand.Read(b.Salt); err != nil {
		return nil, fmt.Errorf("crypto: backup salt: %w", err)
	}
	gcm, err := b.aead(password)
	if err != nil {
		return nil, err
	}
	b.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(b.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: backup nonce: %w", err)
	}
	b.Ciphertext = gcm.Seal(nil, b.Nonce, ethcrypto.FromECDSA(pk), b.Address.Bytes())
	return json.MarshalIndent(b, "", "  ")
}

// DecryptKey opens a backup produced by EncryptKey and returns the private
// key as unprefixed hex.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	pk, err := openBackup(encryptedJSON, password)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(ethcrypto.FromECDSA(pk))[2:], nil
}

func openBackup(encryptedJSON []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var b keyBackup
	if err := json.Unmarshal(encryptedJSON, &b); err != nil {
		return nil, fmt.Errorf("crypto: parse backup: %w", err)
	}
	if b.Version != backupVersion {
		return nil, fmt.Errorf("crypto: unsupported backup version %d", b.Version)
	}
	if b.Iterations < 1 || len(b.Salt) == 0 {
		return nil, errors.New("crypto: backup is missing key derivation parameters")
	}

	gcm, err := b.aead(password)
	if err != nil {
		return nil, err
	}
	if len(b.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: backup nonce is %d bytes", len(b.Nonce))
	}
	raw, err := gcm.Open(nil, b.Nonce, b.Ciphertext, b.Address.Bytes())
	if err != nil {
		return nil, errors.New("crypto: backup did not decrypt (wrong password or tampered file)")
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: backup holds an invalid key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey); got != b.Address {
		return nil, fmt.Errorf("crypto: backup key is %s but is labelled %s", got.Hex(), b.Address.Hex())
	}
	return pk, nil
}

// LoadKey resolves the operator key: a raw key first, then an encrypted
// backup file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		pk, err := parseKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hexutil.Encode(ethcrypto.FromECDSA(pk))[2:], nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read backup: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no key configured: set a raw key or an encrypted key path")
}

// BackupAddress reads the identity a backup belongs to without decrypting it.
func BackupAddress(encryptedJSON []byte) (common.Address, error) {
	var b keyBackup
	if err := json.Unmarshal(encryptedJSON, &b); err != nil {
		return common.Address{}, fmt.Errorf("crypto: parse backup: %w", err)
	}
	return b.Address, nil
}

// VerifyBackup decrypts a backup and checks that it holds the key of want.
func VerifyBackup(encryptedJSON []byte, password string, want common.Address) error {
	if label, err := BackupAddress(encryptedJSON); err == nil && label != want {
		return fmt.Errorf("crypto: backup belongs to %s, not %s", label.Hex(), want.Hex())
	}
	if _, err := openBackup(encryptedJSON, password); err != nil {
		return err
	}
	return nil
}

// BackupFile encrypts the key and writes it to path with owner-only
// permissions. It refuses to overwrite an existing file.
func BackupFile(path, privateKeyHex, password string) error {
	blob, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: create backup %s: %w", path, err)
	}
	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		return fmt.Errorf("crypto: write backup %s: %w", path, err)
	}
	return f.Close()
}
