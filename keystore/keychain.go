package keystore

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/go-jose/go-jose/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/e2e-delegation/primitives"
	"github.com/tinfoilsh/e2e-delegation/protocol"
)

// storedKeyPair is the persisted representation of a key pair
type storedKeyPair struct {
	PublicKey     string               `json:"publicKey"`
	PrivateKey    string               `json:"privateKey"`
	PublicFormat  primitives.KeyFormat `json:"publicFormat"`
	PrivateFormat primitives.KeyFormat `json:"privateFormat"`
}

// Keychain stores one key pair per data owner under
// protocol.KeychainPrefix + id.
type Keychain struct {
	store Store
	suite primitives.Suite
}

func NewKeychain(store Store, suite primitives.Suite) *Keychain {
	return &Keychain{store: store, suite: suite}
}

// StorageKey returns the store key of a data owner's key pair.
func StorageKey(dataOwnerID string) string {
	return protocol.KeychainPrefix + dataOwnerID
}

// SaveKeyPair exports pair with the suite formats and stores it.
func (k *Keychain) SaveKeyPair(dataOwnerID string, pair *primitives.KeyPair) error {
	pub, err := k.suite.Asymmetric.ExportPublicKey(pair.Public, k.suite.PublicKeyFormat)
	if err != nil {
		return fmt.Errorf("failed to export public key: %w", err)
	}
	priv, err := k.suite.Asymmetric.ExportPrivateKey(pair.Private, k.suite.PrivateKeyFormat)
	if err != nil {
		return fmt.Errorf("failed to export private key: %w", err)
	}

	data, err := json.Marshal(storedKeyPair{
		PublicKey:     hex.EncodeToString(pub),
		PrivateKey:    hex.EncodeToString(priv),
		PublicFormat:  k.suite.PublicKeyFormat,
		PrivateFormat: k.suite.PrivateKeyFormat,
	})
	if err != nil {
		return err
	}
	if err := k.store.Put(StorageKey(dataOwnerID), data); err != nil {
		return fmt.Errorf("failed to store key pair for %s: %w", dataOwnerID, err)
	}
	log.WithField("data_owner", dataOwnerID).Debug("key pair stored")
	return nil
}

// LoadKeyPair reads and imports the key pair of a data owner. A missing pair
// is reported with ErrNotFound.
func (k *Keychain) LoadKeyPair(dataOwnerID string) (*primitives.KeyPair, error) {
	data, err := k.store.Get(StorageKey(dataOwnerID))
	if err != nil {
		return nil, err
	}

	var stored storedKeyPair
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupt key pair for %s: %w", dataOwnerID, err)
	}
	if stored.PublicFormat == "" || stored.PrivateFormat == "" {
		return nil, fmt.Errorf("corrupt key pair for %s: missing formats", dataOwnerID)
	}

	pub, err := hex.DecodeString(stored.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("corrupt public key for %s: %w", dataOwnerID, err)
	}
	priv, err := hex.DecodeString(stored.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("corrupt private key for %s: %w", dataOwnerID, err)
	}

	pk, err := k.suite.Asymmetric.ImportPublicKey(stored.PublicFormat, pub)
	if err != nil {
		return nil, err
	}
	sk, err := k.suite.Asymmetric.ImportPrivateKey(stored.PrivateFormat, priv)
	if err != nil {
		return nil, err
	}
	return &primitives.KeyPair{Public: pk, Private: sk}, nil
}

func (k *Keychain) DeleteKeyPair(dataOwnerID string) error {
	return k.store.Delete(StorageKey(dataOwnerID))
}

// ImportPKCS8Hex imports a hex PKCS8 private key. The public half always
// comes from publicKeyHex, the key published by the directory, and the
// two must form a working pair before anything is stored.
func (k *Keychain) ImportPKCS8Hex(dataOwnerID, privateKeyHex, publicKeyHex string) (*primitives.KeyPair, error) {
	priv, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex private key: %w", err)
	}
	sk, err := k.suite.Asymmetric.ImportPrivateKey(primitives.FormatPKCS8, priv)
	if err != nil {
		return nil, err
	}
	pk, err := k.publishedKey(publicKeyHex)
	if err != nil {
		return nil, err
	}

	pair := &primitives.KeyPair{Public: pk, Private: sk}
	if err := k.verifyPair(pair); err != nil {
		return nil, err
	}
	if err := k.SaveKeyPair(dataOwnerID, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// ImportJWK imports an RSA private key in JWK form. When the JWK lacks its
// modulus or exponent they are taken from publicKeyHex.
func (k *Keychain) ImportJWK(dataOwnerID string, jwk []byte, publicKeyHex string) (*primitives.KeyPair, error) {
	pk, err := k.publishedKey(publicKeyHex)
	if err != nil {
		return nil, err
	}
	rsaPK, ok := pk.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("JWK import needs an RSA suite, published key is %T", pk)
	}

	completed, err := completeJWK(jwk, rsaPK)
	if err != nil {
		return nil, err
	}
	var parsed jose.JSONWebKey
	if err := parsed.UnmarshalJSON(completed); err != nil {
		return nil, fmt.Errorf("invalid JWK: %w", err)
	}
	sk, ok := parsed.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("JWK holds %T, not an RSA private key", parsed.Key)
	}
	if sk.N.Cmp(rsaPK.N) != 0 || sk.E != rsaPK.E {
		return nil, fmt.Errorf("JWK private key does not match the published public key of %s", dataOwnerID)
	}
	sk.Precompute()

	pair := &primitives.KeyPair{Public: rsaPK, Private: sk}
	if err := k.verifyPair(pair); err != nil {
		return nil, err
	}
	if err := k.SaveKeyPair(dataOwnerID, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// ExportJWK renders an RSA key pair as a private JWK.
func ExportJWK(pair *primitives.KeyPair) ([]byte, error) {
	sk, ok := pair.Private.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("JWK export needs an RSA private key, got %T", pair.Private)
	}
	return jose.JSONWebKey{Key: sk, Algorithm: "RSA-OAEP", Use: "enc"}.MarshalJSON()
}

func (k *Keychain) publishedKey(publicKeyHex string) (crypto.PublicKey, error) {
	if publicKeyHex == "" {
		return nil, errors.New("data owner has no published public key")
	}
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex public key: %w", err)
	}
	return k.suite.Asymmetric.ImportPublicKey(k.suite.PublicKeyFormat, pub)
}

func (k *Keychain) verifyPair(pair *primitives.KeyPair) error {
	ct, err := k.suite.Asymmetric.Encrypt(pair.Public, []byte(protocol.ValidityChallenge))
	if err != nil {
		return fmt.Errorf("failed to verify key pair: %w", err)
	}
	pt, err := k.suite.Asymmetric.Decrypt(pair.Private, ct)
	if err != nil || string(pt) != protocol.ValidityChallenge {
		return errors.New("private key does not match the published public key")
	}
	return nil
}

func completeJWK(jwk []byte, pk *rsa.PublicKey) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(jwk, &fields); err != nil {
		return nil, fmt.Errorf("invalid JWK: %w", err)
	}
	if _, ok := fields["kty"]; !ok {
		fields["kty"] = "RSA"
	}
	_, hasN := fields["n"]
	_, hasE := fields["e"]
	if !hasN || !hasE {
		fields["n"] = base64.RawURLEncoding.EncodeToString(pk.N.Bytes())
		fields["e"] = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pk.E)).Bytes())
	}
	return json.Marshal(fields)
}
