package delegation

import (
	"context"
	"errors"
	"fmt"
)

var errNilEntity = errors.New("delegation: nil entity")

// InitObjectDelegations creates the delegation metadata of a new entity:
// one delegation and, when parent is set, one crypted foreign key, both
// for ownerID only.
func (c *Crypto) InitObjectDelegations(ctx context.Context, created, parent *Entity, ownerID, parentSecretForeignKey string) (*DelegationInit, error) {
	if created == nil {
		return nil, errNilEntity
	}
	secretID, err := c.newSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret id: %w", err)
	}
	key, err := c.exchangeKeyWith(ctx, ownerID, ownerID)
	if err != nil {
		return nil, err
	}

	delegation, err := c.encryptEntry(key, ownerID, ownerID, created.ID, secretID)
	if err != nil {
		return nil, err
	}
	res := &DelegationInit{
		Delegations:        Delegations{ownerID: {delegation}},
		CryptedForeignKeys: Delegations{},
		SecretForeignKeys:  []string{},
		SecretID:           secretID,
	}
	if parent != nil {
		cfk, err := c.encryptEntry(key, ownerID, ownerID, created.ID, parent.ID)
		if err != nil {
			return nil, err
		}
		res.CryptedForeignKeys[ownerID] = []Delegation{cfk}
	}
	if parentSecretForeignKey != "" {
		res.SecretForeignKeys = append(res.SecretForeignKeys, parentSecretForeignKey)
	}
	return res, nil
}

// InitEncryptionKeys creates the encryption key of a new entity under a
// secret of its own, unrelated to its delegation secret.
func (c *Crypto) InitEncryptionKeys(ctx context.Context, created *Entity, ownerID string) (*EncryptionKeyInit, error) {
	if created == nil {
		return nil, errNilEntity
	}
	secretID, err := c.newSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret id: %w", err)
	}
	key, err := c.exchangeKeyWith(ctx, ownerID, ownerID)
	if err != nil {
		return nil, err
	}
	entry, err := c.encryptEntry(key, ownerID, ownerID, created.ID, secretID)
	if err != nil {
		return nil, err
	}
	return &EncryptionKeyInit{
		EncryptionKeys: Delegations{ownerID: {entry}},
		SecretID:       secretID,
	}, nil
}
