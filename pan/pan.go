// Package pan implements PAN-at-rest privacy:
// AES-256-GCM encryption under a key derived via golang.org/x/crypto/hkdf,
// a deterministic HMAC-SHA256 hash for equality lookup, and a display
// mask. PIN block cryptography stays on the HSM side; this package never
// touches PIN data.
package pan

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32 // AES-256

// Vault derives encryption and hashing keys from a single root secret and
// performs PAN-at-rest operations.
type Vault struct {
	encKey  []byte
	hashKey []byte
}

// NewVault derives Vault's keys from rootSecret via HKDF-SHA256 with
// distinct info strings, so the encryption and hashing keys are
// independent even though they share one root.
func NewVault(rootSecret []byte) (*Vault, error) {
	encKey, err := derive(rootSecret, "fep/pan/encrypt")
	if err != nil {
		return nil, err
	}
	hashKey, err := derive(rootSecret, "fep/pan/hash")
	if err != nil {
		return nil, err
	}
	return &Vault{encKey: encKey, hashKey: hashKey}, nil
}

func derive(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, keySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("pan: derive key: %w", err)
	}
	return out, nil
}

// Encrypt returns AES-256-GCM ciphertext (nonce prepended) for the
// cleartext PAN. The result is never equal to the cleartext.
func (v *Vault) Encrypt(pan string) (string, error) {
	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return "", fmt.Errorf("pan: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("pan: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("pan: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(pan), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (v *Vault) Decrypt(encoded string) (string, error) {
	ciphertext, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("pan: decode: %w", err)
	}
	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return "", fmt.Errorf("pan: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("pan: new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("pan: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("pan: open: %w", err)
	}
	return string(plain), nil
}

// Hash returns a deterministic HMAC-SHA256 digest of pan, used for
// equality lookup (findByMaskedPanAndDateRange-style queries).
func (v *Vault) Hash(pan string) string {
	mac := hmac.New(sha256.New, v.hashKey)
	mac.Write([]byte(pan))
	return hex.EncodeToString(mac.Sum(nil))
}

// Mask renders pan for display: first 6 / last 4 digits visible, the
// rest replaced with '*' (common PAN masking convention).
func Mask(pan string) string {
	if len(pan) <= 10 {
		return pan
	}
	first6 := pan[:6]
	last4 := pan[len(pan)-4:]
	middle := make([]byte, len(pan)-10)
	for i := range middle {
		middle[i] = '*'
	}
	return first6 + string(middle) + last4
}
