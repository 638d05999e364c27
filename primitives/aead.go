package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	// AES256KeyLength is the length of generated AES keys
	AES256KeyLength = 32
	// AESGCMNonceLength is the length of an AES-GCM nonce
	AESGCMNonceLength = 12
)

// SymmetricKey is an imported AES key.
type SymmetricKey struct {
	raw  []byte
	aead cipher.AEAD
}

// Len returns the key length in bytes.
func (k *SymmetricKey) Len() int {
	return len(k.raw)
}

// AESGCM implements Symmetric with AES-GCM. Ciphertexts carry their random
// nonce as a prefix: nonce || sealed.
type AESGCM struct{}

var _ Symmetric = AESGCM{}

func (AESGCM) GenerateKey() (*SymmetricKey, error) {
	raw := make([]byte, AES256KeyLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}
	return newSymmetricKey(raw)
}

func (AESGCM) ImportKey(format KeyFormat, raw []byte) (*SymmetricKey, error) {
	if format != FormatRaw {
		return nil, fmt.Errorf("%w: %s for AES key", ErrUnsupportedFormat, format)
	}
	return newSymmetricKey(raw)
}

func (AESGCM) ExportKey(key *SymmetricKey, format KeyFormat) ([]byte, error) {
	if format != FormatRaw {
		return nil, fmt.Errorf("%w: %s for AES key", ErrUnsupportedFormat, format)
	}
	if key == nil {
		return nil, fmt.Errorf("nil AES key")
	}
	out := make([]byte, len(key.raw))
	copy(out, key.raw)
	return out, nil
}

func (AESGCM) Encrypt(key *SymmetricKey, plaintext []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("nil AES key")
	}
	nonce := make([]byte, AESGCMNonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return key.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (AESGCM) Decrypt(key *SymmetricKey, ciphertext []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("nil AES key")
	}
	if len(ciphertext) < AESGCMNonceLength+key.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}
	nonce, sealed := ciphertext[:AESGCMNonceLength], ciphertext[AESGCMNonceLength:]
	pt, err := key.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to AES decrypt: %w", err)
	}
	return pt, nil
}

func newSymmetricKey(raw []byte) (*SymmetricKey, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	key := make([]byte, len(raw))
	copy(key, raw)
	return &SymmetricKey{raw: key, aead: aead}, nil
}
