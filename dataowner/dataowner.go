// Package dataowner models the actors that hold keys (healthcare parties,
// patients, devices) and the directory that publishes their public keys,
// hierarchy and exchange keys.
package dataowner

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a data owner id is unknown to the directory.
	ErrNotFound = errors.New("data owner not found")
	// ErrConflict is returned when an update carries a stale revision.
	ErrConflict = errors.New("data owner revision conflict")
)

// ExchangeKeyPair holds the two hex RSA ciphertexts of one exchange key:
// index 0 is encrypted for the owner, index 1 for the delegate.
type ExchangeKeyPair [2]string

func (p ExchangeKeyPair) ForOwner() string {
	return p[0]
}

func (p ExchangeKeyPair) ForDelegate() string {
	return p[1]
}

// DataOwner is the directory view of a key-holding actor.
type DataOwner struct {
	ID          string                     `json:"id"`
	Rev         string                     `json:"rev,omitempty"`
	PublicKey   string                     `json:"publicKey,omitempty"`
	ParentID    string                     `json:"parentId,omitempty"`
	HcPartyKeys map[string]ExchangeKeyPair `json:"hcPartyKeys,omitempty"`
}

// Clone returns a deep copy.
func (d *DataOwner) Clone() *DataOwner {
	if d == nil {
		return nil
	}
	c := *d
	if d.HcPartyKeys != nil {
		c.HcPartyKeys = make(map[string]ExchangeKeyPair, len(d.HcPartyKeys))
		for k, v := range d.HcPartyKeys {
			c.HcPartyKeys[k] = v
		}
	}
	return &c
}

// Directory resolves data owners and persists their exchange keys.
type Directory interface {
	GetDataOwner(ctx context.Context, id string) (*DataOwner, error)
	// GetExchangeKeysForDelegate returns, for every delegator holding an
	// exchange key with delegateID, the hex ciphertext encrypted for the delegate.
	GetExchangeKeysForDelegate(ctx context.Context, delegateID string) (map[string]string, error)
	// UpdateDataOwner persists owner. A stale Rev fails with ErrConflict.
	UpdateDataOwner(ctx context.Context, owner *DataOwner) (*DataOwner, error)
}

// NotFoundError wraps ErrNotFound with the unknown id.
func NotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ConflictError wraps ErrConflict with the stale revision.
func ConflictError(id, rev string) error {
	return fmt.Errorf("%w: %s at rev %q", ErrConflict, id, rev)
}
