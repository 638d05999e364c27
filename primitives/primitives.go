// Package primitives supplies the asymmetric and symmetric operations the
// delegation core is built on. Keys cross this package as opaque handles.
package primitives

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// KeyFormat names an import/export encoding.
type KeyFormat string

const (
	FormatSPKI  KeyFormat = "spki"
	FormatPKCS8 KeyFormat = "pkcs8"
	FormatRaw   KeyFormat = "raw"
)

// ErrUnsupportedFormat is returned when an adapter cannot handle a key format.
var ErrUnsupportedFormat = errors.New("unsupported key format")

// KeyPair holds an asymmetric key pair as opaque handles.
type KeyPair struct {
	Public  crypto.PublicKey
	Private crypto.PrivateKey
}

// Asymmetric is public-key encryption over opaque key handles.
type Asymmetric interface {
	GenerateKeyPair() (*KeyPair, error)
	ImportPublicKey(format KeyFormat, material []byte) (crypto.PublicKey, error)
	ImportPrivateKey(format KeyFormat, material []byte) (crypto.PrivateKey, error)
	ExportPublicKey(pk crypto.PublicKey, format KeyFormat) ([]byte, error)
	ExportPrivateKey(sk crypto.PrivateKey, format KeyFormat) ([]byte, error)
	Encrypt(pk crypto.PublicKey, plaintext []byte) ([]byte, error)
	Decrypt(sk crypto.PrivateKey, ciphertext []byte) ([]byte, error)
}

// Symmetric is authenticated symmetric encryption.
type Symmetric interface {
	GenerateKey() (*SymmetricKey, error)
	ImportKey(format KeyFormat, raw []byte) (*SymmetricKey, error)
	ExportKey(key *SymmetricKey, format KeyFormat) ([]byte, error)
	Encrypt(key *SymmetricKey, plaintext []byte) ([]byte, error)
	Decrypt(key *SymmetricKey, ciphertext []byte) ([]byte, error)
}

// Suite bundles one asymmetric and one symmetric adapter together with the
// formats used to publish and store asymmetric keys.
type Suite struct {
	Asymmetric       Asymmetric
	Symmetric        Symmetric
	PublicKeyFormat  KeyFormat
	PrivateKeyFormat KeyFormat
}

// NewRSASuite returns RSA-OAEP with AES-256-GCM, publishing SPKI public keys
// and storing PKCS8 private keys.
func NewRSASuite(bits int) Suite {
	return Suite{
		Asymmetric:       NewRSA(bits),
		Symmetric:        AESGCM{},
		PublicKeyFormat:  FormatSPKI,
		PrivateKeyFormat: FormatPKCS8,
	}
}

// NewHPKESuite returns X25519 HPKE with AES-256-GCM using raw key encodings.
func NewHPKESuite() Suite {
	return Suite{
		Asymmetric:       NewHPKE(),
		Symmetric:        AESGCM{},
		PublicKeyFormat:  FormatRaw,
		PrivateKeyFormat: FormatRaw,
	}
}

// Validate reports a suite missing one of its adapters.
func (s Suite) Validate() error {
	if s.Asymmetric == nil || s.Symmetric == nil {
		return fmt.Errorf("primitives suite needs both asymmetric and symmetric adapters")
	}
	if s.PublicKeyFormat == "" || s.PrivateKeyFormat == "" {
		return fmt.Errorf("primitives suite needs key formats")
	}
	return nil
}

// RandomUUID returns a random version 4 UUID string.
func RandomUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func SHA1(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}
