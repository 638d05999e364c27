package primitives

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tinfoilsh/e2e-delegation/protocol"
)

// DeriveContentKey derives the AES-256 key that encrypts an entity's own
// content from its encryption secret:
//
//	key = HKDF-SHA256(secret, salt = entityID, info = ContentKeyLabel)
//
// Binding the entity id as salt keeps two entities that somehow share a
// secret from sharing a content key.
func DeriveContentKey(secret, entityID string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret must not be empty")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity id must not be empty")
	}

	keyReader := hkdf.New(sha256.New, []byte(secret), []byte(entityID), []byte(protocol.ContentKeyLabel))
	key := make([]byte, AES256KeyLength)
	if _, err := io.ReadFull(keyReader, key); err != nil {
		return nil, fmt.Errorf("failed to derive content key: %w", err)
	}
	return key, nil
}
