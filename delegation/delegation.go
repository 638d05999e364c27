// Package delegation is the client-side access-control layer that lets data
// owners share encrypted entities. Every entity carries three collections of
// encrypted entries keyed by delegate id:
//
//   - Delegations: "<entityId>:<secretForeignKey>", used to find children
//   - CryptedForeignKeys: "<entityId>:<parentId>", the link to the parent
//   - EncryptionKeys: "<entityId>:<encryptionSecret>", the content key seed
//
// Each entry is AES-encrypted under the exchange key shared by its owner and
// its delegate. Exchange keys are themselves published by the directory as
// two RSA ciphertexts, one per party.
package delegation

import (
	"github.com/tinfoilsh/e2e-delegation/primitives"
)

// Delegation is one encrypted entry. Key is the hex AES ciphertext.
type Delegation struct {
	Owner       string `json:"owner"`
	DelegatedTo string `json:"delegatedTo"`
	Key         string `json:"key"`
}

// Delegations maps a delegate id to its ordered entries.
type Delegations map[string][]Delegation

// Clone returns a deep copy. A nil map clones to an empty one.
func (d Delegations) Clone() Delegations {
	out := make(Delegations, len(d))
	for k, v := range d {
		out[k] = append([]Delegation(nil), v...)
	}
	return out
}

// EncryptedMetadata groups the three parallel collections of an entity and
// the plaintext secret foreign keys it was created with.
type EncryptedMetadata struct {
	Delegations        Delegations `json:"delegations,omitempty"`
	CryptedForeignKeys Delegations `json:"cryptedForeignKeys,omitempty"`
	EncryptionKeys     Delegations `json:"encryptionKeys,omitempty"`
	SecretForeignKeys  []string    `json:"secretForeignKeys,omitempty"`
}

func (m EncryptedMetadata) Clone() EncryptedMetadata {
	return EncryptedMetadata{
		Delegations:        m.Delegations.Clone(),
		CryptedForeignKeys: m.CryptedForeignKeys.Clone(),
		EncryptionKeys:     m.EncryptionKeys.Clone(),
		SecretForeignKeys:  append([]string(nil), m.SecretForeignKeys...),
	}
}

// Entity is the part of a backend entity the delegation layer reads and writes.
type Entity struct {
	ID  string `json:"id"`
	Rev string `json:"rev,omitempty"`
	EncryptedMetadata
}

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{ID: e.ID, Rev: e.Rev, EncryptedMetadata: e.EncryptedMetadata.Clone()}
}

// ExchangeKey is a decrypted exchange key together with its delegator.
type ExchangeKey struct {
	DelegatorID string
	Key         *primitives.SymmetricKey
}

// DelegationInit is the result of creating or extending the delegations and
// crypted foreign keys of an entity.
type DelegationInit struct {
	Delegations        Delegations
	CryptedForeignKeys Delegations
	SecretForeignKeys  []string
	SecretID           string
}

// EncryptionKeyInit is the result of creating or extending encryption keys.
type EncryptionKeyInit struct {
	EncryptionKeys Delegations
	SecretID       string
}

// ExtractedKeys is the output of a hierarchical extraction. HcPartyID is
// the data owner the walk ended at.
type ExtractedKeys struct {
	Keys      []string
	HcPartyID string
}

// ShareResult reports the outcome of sharing with one delegate.
type ShareResult struct {
	DelegateID string
	Err        error
}

func (r ShareResult) OK() bool {
	return r.Err == nil
}
