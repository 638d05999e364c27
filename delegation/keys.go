package delegation

import (
	"bytes"
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/e2e-delegation/dataowner"
	"github.com/tinfoilsh/e2e-delegation/primitives"
	"github.com/tinfoilsh/e2e-delegation/protocol"
)

// GenerateKeyForDelegate creates a new exchange key between ownerID and
// delegateID, wraps it under both public keys and stores the pair as
// hcPartyKeys[delegateID] of the owner. A stale owner revision fails with
// dataowner.ErrConflict and is not retried.
func (c *Crypto) GenerateKeyForDelegate(ctx context.Context, ownerID, delegateID string) (*dataowner.DataOwner, error) {
	owner, err := c.dir.GetDataOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	delegate := owner
	if delegateID != ownerID {
		if delegate, err = c.dir.GetDataOwner(ctx, delegateID); err != nil {
			return nil, err
		}
	}
	if delegate.PublicKey == "" {
		return nil, dataOwnerError(delegateID, ErrMissingPublicKey)
	}
	if owner.PublicKey == "" {
		return nil, dataOwnerError(ownerID, ErrMissingPublicKey)
	}

	ownerPK, err := c.publicKey(owner)
	if err != nil {
		return nil, err
	}
	delegatePK, err := c.publicKey(delegate)
	if err != nil {
		return nil, err
	}

	key, err := c.suite.Symmetric.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate exchange key: %w", err)
	}
	raw, err := c.suite.Symmetric.ExportKey(key, primitives.FormatRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to export exchange key: %w", err)
	}
	forOwner, err := c.suite.Asymmetric.Encrypt(ownerPK, raw)
	if err != nil {
		return nil, dataOwnerError(ownerID, fmt.Errorf("failed to wrap exchange key: %w", err))
	}
	forDelegate, err := c.suite.Asymmetric.Encrypt(delegatePK, raw)
	if err != nil {
		return nil, dataOwnerError(delegateID, fmt.Errorf("failed to wrap exchange key: %w", err))
	}

	updated := owner.Clone()
	if updated.HcPartyKeys == nil {
		updated.HcPartyKeys = make(map[string]dataowner.ExchangeKeyPair)
	}
	updated.HcPartyKeys[delegateID] = dataowner.ExchangeKeyPair{
		hex.EncodeToString(forOwner),
		hex.EncodeToString(forDelegate),
	}

	saved, err := c.dir.UpdateDataOwner(ctx, updated)
	if err != nil {
		// The write may still have been applied; reread on the next attempt.
		c.dir.EmptyCache(ownerID)
		return nil, fmt.Errorf("failed to store exchange key of %s for %s: %w", ownerID, delegateID, err)
	}

	c.dir.EmptyCache(ownerID)
	if delegateID != ownerID {
		c.dir.EmptyCache(delegateID)
	}
	c.forgetExchangeKey(ownerID, delegateID)

	log.WithFields(log.Fields{
		"owner":    ownerID,
		"delegate": delegateID,
	}).Debug("exchange key generated")
	return saved, nil
}

// exchangeKeyWith returns the exchange key ownerID uses to write entries for
// delegateID, generating it first when the owner has none yet.
func (c *Crypto) exchangeKeyWith(ctx context.Context, ownerID, delegateID string) (*primitives.SymmetricKey, error) {
	owner, err := c.dir.GetDataOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	pair, ok := owner.HcPartyKeys[delegateID]
	if !ok {
		if pair, err = c.provisionExchangeKey(ctx, ownerID, delegateID); err != nil {
			return nil, err
		}
	}
	key, err := c.DecryptHcPartyKey(ctx, ownerID, delegateID, pair.ForOwner(), true)
	if err != nil {
		return nil, err
	}
	return key.Key, nil
}

// provisionExchangeKey generates a missing exchange key. Generation is
// serialized per owner so that concurrent shares of one owner do not race
// on its revision.
func (c *Crypto) provisionExchangeKey(ctx context.Context, ownerID, delegateID string) (dataowner.ExchangeKeyPair, error) {
	lock := c.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	owner, err := c.dir.GetDataOwner(ctx, ownerID)
	if err != nil {
		return dataowner.ExchangeKeyPair{}, err
	}
	if pair, ok := owner.HcPartyKeys[delegateID]; ok {
		return pair, nil
	}

	saved, err := c.GenerateKeyForDelegate(ctx, ownerID, delegateID)
	if err != nil {
		return dataowner.ExchangeKeyPair{}, err
	}
	return saved.HcPartyKeys[delegateID], nil
}

// CheckPrivateKeyValidity reports whether the local private key of owner
// opens a challenge encrypted with its published public key. It never fails.
func (c *Crypto) CheckPrivateKeyValidity(ctx context.Context, owner *dataowner.DataOwner) bool {
	if owner == nil || owner.PublicKey == "" {
		return false
	}
	logger := log.WithField("data_owner", owner.ID)

	pk, err := c.publicKey(owner)
	if err != nil {
		logger.WithError(err).Debug("private key check failed")
		return false
	}
	ct, err := c.suite.Asymmetric.Encrypt(pk, []byte(protocol.ValidityChallenge))
	if err != nil {
		logger.WithError(err).Debug("private key check failed")
		return false
	}
	pair, err := c.keyPair(owner.ID)
	if err != nil {
		logger.WithError(err).Debug("private key check failed")
		return false
	}
	pt, err := c.suite.Asymmetric.Decrypt(pair.Private, ct)
	if err != nil {
		logger.WithError(err).Debug("private key check failed")
		return false
	}
	return bytes.Equal(pt, []byte(protocol.ValidityChallenge))
}

// GenerateDataOwnerKeyPair creates a key pair for a data owner without a
// public key, stores it in the keychain and publishes the public half. An
// owner unknown to the directory is created.
func (c *Crypto) GenerateDataOwnerKeyPair(ctx context.Context, ownerID string) (*dataowner.DataOwner, error) {
	owner, err := c.dir.GetDataOwner(ctx, ownerID)
	switch {
	case errors.Is(err, dataowner.ErrNotFound):
		owner = &dataowner.DataOwner{ID: ownerID}
	case err != nil:
		return nil, err
	case owner.PublicKey != "":
		return nil, dataOwnerError(ownerID, ErrPublicKeyExists)
	}

	pair, err := c.suite.Asymmetric.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	pub, err := c.suite.Asymmetric.ExportPublicKey(pair.Public, c.suite.PublicKeyFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}
	if err := c.keychain.SaveKeyPair(ownerID, pair); err != nil {
		return nil, err
	}

	updated := owner.Clone()
	updated.PublicKey = hex.EncodeToString(pub)
	saved, err := c.dir.UpdateDataOwner(ctx, updated)
	if err != nil {
		return nil, fmt.Errorf("failed to publish public key of %s: %w", ownerID, err)
	}
	c.CacheKeyPair(ownerID, pair)
	c.EmptyHcpCache(ownerID)
	return saved, nil
}

func (c *Crypto) publicKey(owner *dataowner.DataOwner) (crypto.PublicKey, error) {
	raw, err := hex.DecodeString(owner.PublicKey)
	if err != nil {
		return nil, dataOwnerError(owner.ID, fmt.Errorf("invalid public key: %w", err))
	}
	pk, err := c.suite.Asymmetric.ImportPublicKey(c.suite.PublicKeyFormat, raw)
	if err != nil {
		return nil, dataOwnerError(owner.ID, fmt.Errorf("invalid public key: %w", err))
	}
	return pk, nil
}
