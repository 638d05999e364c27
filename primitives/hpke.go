package primitives

import (
	"crypto"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"golang.org/x/crypto/cryptobyte"
)

// HPKE implements Asymmetric with RFC 9180 base-mode HPKE. Each ciphertext is
// framed as a uint16 length-prefixed encapsulated key followed by the sealed
// payload.
type HPKE struct {
	suite hpke.Suite
}

var _ Asymmetric = (*HPKE)(nil)

// NewHPKE returns an X25519 / HKDF-SHA256 / AES-256-GCM adapter.
func NewHPKE() *HPKE {
	return &HPKE{
		suite: hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES256GCM),
	}
}

func (h *HPKE) Suite() hpke.Suite {
	return h.suite
}

func (h *HPKE) KEMScheme() kem.Scheme {
	kemID, _, _ := h.suite.Params()
	return kemID.Scheme()
}

func (h *HPKE) GenerateKeyPair() (*KeyPair, error) {
	pk, sk, err := h.KEMScheme().GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate KEM key pair: %w", err)
	}
	return &KeyPair{Public: pk, Private: sk}, nil
}

func (h *HPKE) ImportPublicKey(format KeyFormat, material []byte) (crypto.PublicKey, error) {
	if format != FormatRaw {
		return nil, fmt.Errorf("%w: %s for KEM public key", ErrUnsupportedFormat, format)
	}
	pk, err := h.KEMScheme().UnmarshalBinaryPublicKey(material)
	if err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	return pk, nil
}

func (h *HPKE) ImportPrivateKey(format KeyFormat, material []byte) (crypto.PrivateKey, error) {
	if format != FormatRaw {
		return nil, fmt.Errorf("%w: %s for KEM private key", ErrUnsupportedFormat, format)
	}
	sk, err := h.KEMScheme().UnmarshalBinaryPrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	return sk, nil
}

func (h *HPKE) ExportPublicKey(pk crypto.PublicKey, format KeyFormat) ([]byte, error) {
	if format != FormatRaw {
		return nil, fmt.Errorf("%w: %s for KEM public key", ErrUnsupportedFormat, format)
	}
	kemPK, ok := pk.(kem.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected KEM public key, got %T", pk)
	}
	return kemPK.MarshalBinary()
}

func (h *HPKE) ExportPrivateKey(sk crypto.PrivateKey, format KeyFormat) ([]byte, error) {
	if format != FormatRaw {
		return nil, fmt.Errorf("%w: %s for KEM private key", ErrUnsupportedFormat, format)
	}
	kemSK, ok := sk.(kem.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected KEM private key, got %T", sk)
	}
	return kemSK.MarshalBinary()
}

func (h *HPKE) Encrypt(pk crypto.PublicKey, plaintext []byte) ([]byte, error) {
	kemPK, ok := pk.(kem.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected KEM public key, got %T", pk)
	}

	sender, err := h.suite.NewSender(kemPK, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}
	encapKey, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to setup encryption: %w", err)
	}
	ct, err := sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(encapKey)
	})
	b.AddBytes(ct)
	return b.Bytes()
}

func (h *HPKE) Decrypt(sk crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	kemSK, ok := sk.(kem.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected KEM private key, got %T", sk)
	}

	s := cryptobyte.String(ciphertext)
	var encapKey cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&encapKey) || s.Empty() {
		return nil, fmt.Errorf("invalid HPKE ciphertext framing")
	}

	receiver, err := h.suite.NewReceiver(kemSK, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create receiver: %w", err)
	}
	opener, err := receiver.Setup(encapKey)
	if err != nil {
		return nil, fmt.Errorf("failed to setup decryption: %w", err)
	}
	pt, err := opener.Open(s, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return pt, nil
}
