package delegation

import (
	"context"
	"fmt"

	"github.com/tinfoilsh/e2e-delegation/primitives"
)

// EncryptContent seals plaintext under the content key of entity, derived
// from the first encryption secret ownerID can read.
func (c *Crypto) EncryptContent(ctx context.Context, entity *Entity, ownerID string, plaintext []byte) ([]byte, error) {
	secrets, err := c.contentSecrets(ctx, entity, ownerID)
	if err != nil {
		return nil, err
	}
	key, err := c.contentKey(secrets[0], entity.ID)
	if err != nil {
		return nil, err
	}
	return c.suite.Symmetric.Encrypt(key, plaintext)
}

// DecryptContent opens ciphertext with the content keys of entity readable
// by ownerID, trying each secret in turn.
func (c *Crypto) DecryptContent(ctx context.Context, entity *Entity, ownerID string, ciphertext []byte) ([]byte, error) {
	secrets, err := c.contentSecrets(ctx, entity, ownerID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, secret := range secrets {
		key, err := c.contentKey(secret, entity.ID)
		if err != nil {
			return nil, err
		}
		pt, err := c.suite.Symmetric.Decrypt(key, ciphertext)
		if err == nil {
			return pt, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to decrypt content of %s: %w", entity.ID, lastErr)
}

func (c *Crypto) contentSecrets(ctx context.Context, entity *Entity, ownerID string) ([]string, error) {
	if entity == nil {
		return nil, errNilEntity
	}
	extracted, err := c.ExtractEncryptionsSKs(ctx, entity, ownerID)
	if err != nil {
		return nil, err
	}
	if len(extracted.Keys) == 0 {
		return nil, dataOwnerError(ownerID, fmt.Errorf("%w for %s", ErrNoEncryptionKey, entity.ID))
	}
	return extracted.Keys, nil
}

func (c *Crypto) contentKey(secret, entityID string) (*primitives.SymmetricKey, error) {
	raw, err := primitives.DeriveContentKey(secret, entityID)
	if err != nil {
		return nil, err
	}
	return c.suite.Symmetric.ImportKey(primitives.FormatRaw, raw)
}
