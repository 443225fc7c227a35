// Package vault reveals per-user API credentials stored encrypted at rest.
//
// Payloads use the layout version:iv:ciphertext:tag with every component
// base64 encoded. The key is SHA-256 of the configured secret and the cipher
// is AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Version1 is the only payload version currently produced and accepted.
	Version1 = "v1"

	ivSize  = 16
	tagSize = 16
)

// ErrIntegrity matches every IntegrityError via errors.Is.
var ErrIntegrity = errors.New("vault: integrity check failed")

// IntegrityError reports a malformed or forged credential payload.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "vault: integrity check failed: " + e.Reason
}

// Is lets callers match with errors.Is(err, ErrIntegrity).
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Code is picked up by the handler summary logger as err_code.
func (e *IntegrityError) Code() string { return "VAULT_INTEGRITY" }

func integrity(reason string) error {
	return &IntegrityError{Reason: reason}
}

// Vault binds the configured secret so callers only pass the payload.
type Vault struct {
	secret string
}

// New returns a Vault using secret for key derivation.
func New(secret string) *Vault {
	return &Vault{secret: secret}
}

// Reveal decrypts blob with the bound secret.
func (v *Vault) Reveal(blob string) (string, error) {
	return Reveal(blob, v.secret)
}

// Seal encrypts plaintext with the bound secret.
func (v *Vault) Seal(plaintext string) (string, error) {
	return Seal(plaintext, v.secret)
}

// Reveal decrypts a version:iv:ciphertext:tag payload. The authentication tag
// is verified before any plaintext is returned.
func Reveal(blob, secret string) (string, error) {
	parts := strings.Split(strings.TrimSpace(blob), ":")
	if len(parts) < 4 {
		return "", integrity(fmt.Sprintf("expected 4 parts, got %d", len(parts)))
	}
	if parts[0] != Version1 {
		return "", integrity("unsupported version " + parts[0])
	}

	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) == 0 {
		return "", integrity("bad iv")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", integrity("bad ciphertext")
	}
	tag, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(tag) != tagSize {
		return "", integrity("bad tag")
	}

	gcm, err := newGCM(secret, len(iv))
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", integrity("tag mismatch")
	}
	return string(plaintext), nil
}

// Seal produces a v1 payload for plaintext.
func Seal(plaintext, secret string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}
	gcm, err := newGCM(secret, ivSize)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		Version1,
		enc.EncodeToString(iv),
		enc.EncodeToString(ciphertext),
		enc.EncodeToString(tag),
	}, ":"), nil
}

func newGCM(secret string, nonceSize int) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}
	return gcm, nil
}
