package delegation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tinfoilsh/e2e-delegation/primitives"
)

// ExtractDelegationsSFKs returns the secret foreign keys of entity readable
// by hcPartyID and its ancestors.
func (c *Crypto) ExtractDelegationsSFKs(ctx context.Context, entity *Entity, hcPartyID string) (*ExtractedKeys, error) {
	return c.extract(ctx, entity, hcPartyID, func(e *Entity) Delegations { return e.Delegations })
}

// ExtractCryptedFKs returns the parent ids of entity readable by hcPartyID
// and its ancestors.
func (c *Crypto) ExtractCryptedFKs(ctx context.Context, entity *Entity, hcPartyID string) (*ExtractedKeys, error) {
	return c.extract(ctx, entity, hcPartyID, func(e *Entity) Delegations { return e.CryptedForeignKeys })
}

// ExtractEncryptionsSKs returns the content secrets of entity readable by
// hcPartyID and its ancestors.
func (c *Crypto) ExtractEncryptionsSKs(ctx context.Context, entity *Entity, hcPartyID string) (*ExtractedKeys, error) {
	return c.extract(ctx, entity, hcPartyID, func(e *Entity) Delegations { return e.EncryptionKeys })
}

// extract walks from hcPartyID up to the root of its hierarchy and collects
// the distinct values of every entry of the collection it can decrypt,
// nearest level first. The result is anchored at the last level visited.
func (c *Crypto) extract(ctx context.Context, entity *Entity, hcPartyID string, pick func(*Entity) Delegations) (*ExtractedKeys, error) {
	var collection Delegations
	if entity != nil {
		collection = pick(entity)
	}

	keys := []string{}
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	id := hcPartyID
	for {
		if visited[id] {
			return nil, dataOwnerError(id, ErrHierarchyCycle)
		}
		visited[id] = true

		if entries := collection[id]; len(entries) > 0 {
			values, err := c.extractLevel(ctx, entity.ID, id, collection)
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				if !seen[v] {
					seen[v] = true
					keys = append(keys, v)
				}
			}
		}

		owner, err := c.dir.GetDataOwner(ctx, id)
		if err != nil {
			return nil, err
		}
		if owner.ParentID == "" {
			return &ExtractedKeys{Keys: keys, HcPartyID: id}, nil
		}
		if len(collection[id]) == 0 {
			c.diag.Report(Event{Kind: EventHierarchyFallback, DataOwnerID: id, EntityID: entityID(entity), Related: owner.ParentID})
		}
		id = owner.ParentID
	}
}

// extractLevel decrypts collection[hcPartyID]. Entries without an owner, or
// that cannot be opened, or that name another entity are reported and skipped.
func (c *Crypto) extractLevel(ctx context.Context, entityID, hcPartyID string, collection Delegations) ([]string, error) {
	exchangeKeys, err := c.keysInDelegations(ctx, hcPartyID, collection, false, true)
	if err != nil {
		return nil, err
	}
	byDelegator := make(map[string]*primitives.SymmetricKey, len(exchangeKeys))
	for _, k := range exchangeKeys {
		byDelegator[k.DelegatorID] = k.Key
	}

	entries := collection[hcPartyID]
	values := make([]string, len(entries))
	found := make([]bool, len(entries))

	var g errgroup.Group
	for i, entry := range entries {
		if entry.Owner == "" {
			c.diag.Report(Event{
				Kind:        EventCorruptedDelegation,
				DataOwnerID: hcPartyID,
				EntityID:    entityID,
				Err:         fmt.Errorf("%w: no owner", ErrCorruptedDelegation),
			})
			continue
		}
		key, ok := byDelegator[entry.Owner]
		if !ok {
			// Missing exchange keys were reported while resolving them.
			continue
		}
		g.Go(func() error {
			pt, err := c.decryptEntry(key, entry)
			if err != nil {
				c.diag.Report(Event{
					Kind:        EventUndecryptableDelegation,
					DataOwnerID: hcPartyID,
					EntityID:    entityID,
					Related:     entry.Owner,
					Err:         err,
				})
				return nil
			}
			value, err := splitEntry(pt, entityID)
			if err != nil {
				c.diag.Report(Event{
					Kind:        EventCorruptedDelegation,
					DataOwnerID: hcPartyID,
					EntityID:    entityID,
					Related:     entry.Owner,
					Err:         err,
				})
				return nil
			}
			values[i], found[i] = value, true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(values))
	for i, v := range values {
		if found[i] {
			out = append(out, v)
		}
	}
	return out, nil
}

func entityID(e *Entity) string {
	if e == nil {
		return ""
	}
	return e.ID
}
