package delegation

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ShareWithMany shares child with every delegate of delegateIDs. Delegates
// are extended concurrently and independently: a failure only affects the
// delegate it happened for and is reported in its ShareResult. Results
// follow the order of delegateIDs. The returned entity carries the entries
// of every delegate that succeeded.
func (c *Crypto) ShareWithMany(ctx context.Context, parent, child *Entity, ownerID string, delegateIDs []string, secretDelegationKey, secretEncryptionKey string) (*Entity, []ShareResult) {
	results := make([]ShareResult, len(delegateIDs))
	if child == nil {
		for i, id := range delegateIDs {
			results[i] = ShareResult{DelegateID: id, Err: errNilEntity}
		}
		return nil, results
	}

	var (
		mu  sync.Mutex
		out = child.Clone()
	)
	var g errgroup.Group
	for i, delegateID := range delegateIDs {
		results[i].DelegateID = delegateID
		g.Go(func() error {
			shared, err := c.AddDelegationsAndEncryptionKeys(ctx, parent, child, ownerID, delegateID, secretDelegationKey, secretEncryptionKey)
			if err != nil {
				results[i].Err = err
				c.diag.Report(Event{
					Kind:        EventShareFailed,
					DataOwnerID: ownerID,
					EntityID:    child.ID,
					Related:     delegateID,
					Err:         err,
				})
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			// Only the delegate's own slots differ from child.
			copySlot(out.Delegations, shared.Delegations, delegateID)
			copySlot(out.CryptedForeignKeys, shared.CryptedForeignKeys, delegateID)
			copySlot(out.EncryptionKeys, shared.EncryptionKeys, delegateID)
			return nil
		})
	}
	_ = g.Wait()
	return out, results
}

func copySlot(dst, src Delegations, delegateID string) {
	if entries, ok := src[delegateID]; ok {
		dst[delegateID] = entries
	}
}
