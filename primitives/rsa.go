package primitives

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"fmt"
)

// DefaultRSABits is the modulus size of generated data-owner key pairs.
const DefaultRSABits = 2048

// RSA implements Asymmetric with RSA-OAEP over SHA-1, the padding browsers
// use for RSA-OAEP keys exported as SPKI/PKCS8.
type RSA struct {
	bits int
}

var _ Asymmetric = (*RSA)(nil)

func NewRSA(bits int) *RSA {
	if bits <= 0 {
		bits = DefaultRSABits
	}
	return &RSA{bits: bits}
}

func (r *RSA) GenerateKeyPair() (*KeyPair, error) {
	sk, err := rsa.GenerateKey(rand.Reader, r.bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{Public: &sk.PublicKey, Private: sk}, nil
}

func (r *RSA) ImportPublicKey(format KeyFormat, material []byte) (crypto.PublicKey, error) {
	if format != FormatSPKI {
		return nil, fmt.Errorf("%w: %s for RSA public key", ErrUnsupportedFormat, format)
	}
	pk, err := x509.ParsePKIXPublicKey(material)
	if err != nil {
		return nil, fmt.Errorf("invalid SPKI public key: %w", err)
	}
	rsaPK, ok := pk.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("SPKI key is %T, not RSA", pk)
	}
	return rsaPK, nil
}

func (r *RSA) ImportPrivateKey(format KeyFormat, material []byte) (crypto.PrivateKey, error) {
	if format != FormatPKCS8 {
		return nil, fmt.Errorf("%w: %s for RSA private key", ErrUnsupportedFormat, format)
	}
	sk, err := x509.ParsePKCS8PrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("invalid PKCS8 private key: %w", err)
	}
	rsaSK, ok := sk.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PKCS8 key is %T, not RSA", sk)
	}
	return rsaSK, nil
}

func (r *RSA) ExportPublicKey(pk crypto.PublicKey, format KeyFormat) ([]byte, error) {
	if format != FormatSPKI {
		return nil, fmt.Errorf("%w: %s for RSA public key", ErrUnsupportedFormat, format)
	}
	rsaPK, err := rsaPublic(pk)
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKIXPublicKey(rsaPK)
}

func (r *RSA) ExportPrivateKey(sk crypto.PrivateKey, format KeyFormat) ([]byte, error) {
	if format != FormatPKCS8 {
		return nil, fmt.Errorf("%w: %s for RSA private key", ErrUnsupportedFormat, format)
	}
	rsaSK, err := rsaPrivate(sk)
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKCS8PrivateKey(rsaSK)
}

func (r *RSA) Encrypt(pk crypto.PublicKey, plaintext []byte) ([]byte, error) {
	rsaPK, err := rsaPublic(pk)
	if err != nil {
		return nil, err
	}
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, rsaPK, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to RSA encrypt: %w", err)
	}
	return ct, nil
}

func (r *RSA) Decrypt(sk crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	rsaSK, err := rsaPrivate(sk)
	if err != nil {
		return nil, err
	}
	pt, err := rsa.DecryptOAEP(sha1.New(), nil, rsaSK, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to RSA decrypt: %w", err)
	}
	return pt, nil
}

func rsaPublic(pk crypto.PublicKey) (*rsa.PublicKey, error) {
	switch k := pk.(type) {
	case *rsa.PublicKey:
		return k, nil
	case rsa.PublicKey:
		return &k, nil
	default:
		return nil, fmt.Errorf("expected RSA public key, got %T", pk)
	}
}

func rsaPrivate(sk crypto.PrivateKey) (*rsa.PrivateKey, error) {
	k, ok := sk.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected RSA private key, got %T", sk)
	}
	return k, nil
}
