package delegation

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tinfoilsh/e2e-delegation/primitives"
	"github.com/tinfoilsh/e2e-delegation/protocol"
)

// AppendObjectDelegationsAndCryptedForeignKeys shares modified with
// delegateID: it adds "<id>:<secretID>" to delegations[delegateID] and,
// when parent is set, "<id>:<parentId>" to cryptedForeignKeys[delegateID].
// Entries of other delegates are returned unchanged. An empty secretID
// returns the existing metadata.
func (c *Crypto) AppendObjectDelegationsAndCryptedForeignKeys(ctx context.Context, modified, parent *Entity, ownerID, delegateID, secretID string) (*DelegationInit, error) {
	if modified == nil {
		return nil, errNilEntity
	}
	result := &DelegationInit{
		Delegations:        modified.Delegations.Clone(),
		CryptedForeignKeys: modified.CryptedForeignKeys.Clone(),
		SecretForeignKeys:  append([]string{}, modified.SecretForeignKeys...),
		SecretID:           secretID,
	}
	if secretID == "" {
		return result, nil
	}

	key, err := c.exchangeKeyWith(ctx, ownerID, delegateID)
	if err != nil {
		return nil, err
	}

	var delegations, cryptedForeignKeys []Delegation
	var g errgroup.Group
	g.Go(func() error {
		var err error
		delegations, err = c.appendEntry(key, modified.ID, ownerID, delegateID, modified.Delegations[delegateID], secretID)
		return err
	})
	if parent != nil {
		g.Go(func() error {
			var err error
			cryptedForeignKeys, err = c.appendEntry(key, modified.ID, ownerID, delegateID, modified.CryptedForeignKeys[delegateID], parent.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Delegations[delegateID] = delegations
	if parent != nil {
		result.CryptedForeignKeys[delegateID] = cryptedForeignKeys
	}
	return result, nil
}

// AppendEncryptionKeys shares the content secret of modified with delegateID.
func (c *Crypto) AppendEncryptionKeys(ctx context.Context, modified *Entity, ownerID, delegateID, secretID string) (*EncryptionKeyInit, error) {
	if modified == nil {
		return nil, errNilEntity
	}
	result := &EncryptionKeyInit{
		EncryptionKeys: modified.EncryptionKeys.Clone(),
		SecretID:       secretID,
	}
	if secretID == "" {
		return result, nil
	}

	key, err := c.exchangeKeyWith(ctx, ownerID, delegateID)
	if err != nil {
		return nil, err
	}
	entries, err := c.appendEntry(key, modified.ID, ownerID, delegateID, modified.EncryptionKeys[delegateID], secretID)
	if err != nil {
		return nil, err
	}
	result.EncryptionKeys[delegateID] = entries
	return result, nil
}

// appendEntry adds "<entityID>:<value>" to existing and collapses entries
// that decrypt to the same plaintext, keeping the first one. Entries written
// by other owners cannot be opened with key and are kept as they are.
func (c *Crypto) appendEntry(key *primitives.SymmetricKey, entityID, ownerID, delegateID string, existing []Delegation, value string) ([]Delegation, error) {
	plaintexts := make([]string, len(existing))
	opened := make([]bool, len(existing))

	var g errgroup.Group
	for i, entry := range existing {
		if entry.Owner != ownerID {
			continue
		}
		g.Go(func() error {
			pt, err := c.decryptEntry(key, entry)
			if err != nil {
				c.diag.Report(Event{
					Kind:        EventUndecryptableDelegation,
					DataOwnerID: delegateID,
					EntityID:    entityID,
					Related:     entry.Owner,
					Err:         err,
				})
				return nil
			}
			plaintexts[i], opened[i] = pt, true
			return nil
		})
	}
	_ = g.Wait()

	wanted := entityID + protocol.EntrySeparator + value
	seen := make(map[string]bool, len(existing)+1)
	merged := make([]Delegation, 0, len(existing)+1)
	for i, entry := range existing {
		if opened[i] {
			if seen[plaintexts[i]] {
				continue
			}
			seen[plaintexts[i]] = true
		}
		merged = append(merged, entry)
	}
	if seen[wanted] {
		return merged, nil
	}

	entry, err := c.encryptEntry(key, ownerID, delegateID, entityID, value)
	if err != nil {
		return nil, err
	}
	return append(merged, entry), nil
}

// AddDelegationsAndEncryptionKeys runs both extenders for one delegate and
// merges their output into a copy of child.
func (c *Crypto) AddDelegationsAndEncryptionKeys(ctx context.Context, parent, child *Entity, ownerID, delegateID, secretDelegationKey, secretEncryptionKey string) (*Entity, error) {
	if child == nil {
		return nil, errNilEntity
	}

	var (
		delegations *DelegationInit
		encryption  *EncryptionKeyInit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		delegations, err = c.AppendObjectDelegationsAndCryptedForeignKeys(gctx, child, parent, ownerID, delegateID, secretDelegationKey)
		return err
	})
	g.Go(func() error {
		var err error
		encryption, err = c.AppendEncryptionKeys(gctx, child, ownerID, delegateID, secretEncryptionKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := child.Clone()
	out.Delegations = mergeDelegations(child.Delegations, delegations.Delegations)
	out.CryptedForeignKeys = mergeDelegations(child.CryptedForeignKeys, delegations.CryptedForeignKeys)
	out.EncryptionKeys = mergeDelegations(child.EncryptionKeys, encryption.EncryptionKeys)
	return out, nil
}

// mergeDelegations keeps every src entry and adds the dest entries whose
// (owner, delegatedTo) edge src does not already have.
func mergeDelegations(dest, src Delegations) Delegations {
	out := make(Delegations, len(dest)+len(src))
	for delegateID, entries := range dest {
		out[delegateID] = append([]Delegation(nil), entries...)
	}
	for delegateID, srcEntries := range src {
		type edge struct{ owner, delegatedTo string }
		edges := make(map[edge]bool, len(srcEntries))
		merged := make([]Delegation, 0, len(srcEntries))
		for _, e := range srcEntries {
			edges[edge{e.Owner, e.DelegatedTo}] = true
			merged = append(merged, e)
		}
		for _, e := range dest[delegateID] {
			if !edges[edge{e.Owner, e.DelegatedTo}] {
				merged = append(merged, e)
			}
		}
		out[delegateID] = merged
	}
	return out
}
