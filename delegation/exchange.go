package delegation

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/tinfoilsh/e2e-delegation/primitives"
)

// DecryptHcPartyKey decrypts the exchange key between delegatorID and
// delegateID. encryptedForDelegator selects whose private key opens
// encryptedHex. Results are cached per delegator, delegate and direction.
func (c *Crypto) DecryptHcPartyKey(ctx context.Context, delegatorID, delegateID, encryptedHex string, encryptedForDelegator bool) (ExchangeKey, error) {
	cacheKey := exchangeCacheKey(delegatorID, delegateID, encryptedForDelegator)

	c.mu.Lock()
	if key, ok := c.exchangeKeys[cacheKey]; ok {
		c.mu.Unlock()
		return ExchangeKey{DelegatorID: delegatorID, Key: key}, nil
	}
	epoch := c.epoch
	c.mu.Unlock()

	keyOwner := delegateID
	if encryptedForDelegator {
		keyOwner = delegatorID
	}

	v, err, _ := c.group.Do(cacheKey+"|"+strconv.FormatUint(epoch, 10), func() (any, error) {
		pair, err := c.keyPair(keyOwner)
		if err != nil {
			return nil, err
		}
		ct, err := hex.DecodeString(encryptedHex)
		if err != nil {
			return nil, fmt.Errorf("invalid exchange key ciphertext from %s to %s: %w", delegatorID, delegateID, err)
		}
		raw, err := c.suite.Asymmetric.Decrypt(pair.Private, ct)
		if err != nil {
			return nil, dataOwnerError(keyOwner, fmt.Errorf("failed to decrypt exchange key from %s to %s: %w", delegatorID, delegateID, err))
		}
		key, err := c.suite.Symmetric.ImportKey(primitives.FormatRaw, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to import exchange key from %s to %s: %w", delegatorID, delegateID, err)
		}

		c.mu.Lock()
		if c.epoch == epoch {
			c.exchangeKeys[cacheKey] = key
		}
		c.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return ExchangeKey{}, err
	}
	return ExchangeKey{DelegatorID: delegatorID, Key: v.(*primitives.SymmetricKey)}, nil
}

// DecryptAndImportAesHcPartyKeysForDelegators resolves, from the point of
// view of delegateID, the exchange keys every delegator shares with it.
// A delegator absent from the delegate's reverse index fails the call with
// ErrMissingExchangeKey.
func (c *Crypto) DecryptAndImportAesHcPartyKeysForDelegators(ctx context.Context, delegatorIDs []string, delegateID string) ([]ExchangeKey, error) {
	return c.keysForDelegators(ctx, delegatorIDs, delegateID, false)
}

// keysForDelegators resolves exchange keys for delegatorIDs. With skipMissing
// set, delegators without a reverse entry are reported and left out instead.
func (c *Crypto) keysForDelegators(ctx context.Context, delegatorIDs []string, delegateID string, skipMissing bool) ([]ExchangeKey, error) {
	reverse, err := c.dir.GetExchangeKeysForDelegate(ctx, delegateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange keys for %s: %w", delegateID, err)
	}

	if !skipMissing {
		for _, delegatorID := range delegatorIDs {
			if _, ok := reverse[delegatorID]; !ok {
				return nil, dataOwnerError(delegatorID, fmt.Errorf("%w: with delegate %s", ErrMissingExchangeKey, delegateID))
			}
		}
	}

	keys := make([]*ExchangeKey, len(delegatorIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, delegatorID := range delegatorIDs {
		encrypted, ok := reverse[delegatorID]
		if !ok {
			c.diag.Report(Event{
				Kind:        EventMissingExchangeKey,
				DataOwnerID: delegateID,
				Related:     delegatorID,
			})
			continue
		}
		g.Go(func() error {
			key, err := c.DecryptHcPartyKey(gctx, delegatorID, delegateID, encrypted, false)
			if err != nil {
				return err
			}
			keys[i] = &key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ExchangeKey, 0, len(keys))
	for _, k := range keys {
		if k != nil {
			out = append(out, *k)
		}
	}
	return out, nil
}

// DecryptAndImportAesHcPartyKeysInDelegations resolves the exchange keys of
// every distinct owner of delegations[hcPartyID]. When there is none and
// fallbackOnParent is set, the walk continues with the parent data owner.
func (c *Crypto) DecryptAndImportAesHcPartyKeysInDelegations(ctx context.Context, hcPartyID string, delegations Delegations, fallbackOnParent bool) ([]ExchangeKey, error) {
	return c.keysInDelegations(ctx, hcPartyID, delegations, fallbackOnParent, false)
}

func (c *Crypto) keysInDelegations(ctx context.Context, hcPartyID string, delegations Delegations, fallbackOnParent, skipMissing bool) ([]ExchangeKey, error) {
	visited := make(map[string]bool)
	id := hcPartyID
	for {
		if visited[id] {
			return nil, dataOwnerError(id, ErrHierarchyCycle)
		}
		visited[id] = true

		if owners := distinctOwners(delegations[id]); len(owners) > 0 {
			return c.keysForDelegators(ctx, owners, id, skipMissing)
		}
		if !fallbackOnParent {
			return []ExchangeKey{}, nil
		}

		owner, err := c.dir.GetDataOwner(ctx, id)
		if err != nil {
			return nil, err
		}
		if owner.ParentID == "" {
			return []ExchangeKey{}, nil
		}
		c.diag.Report(Event{Kind: EventHierarchyFallback, DataOwnerID: id, Related: owner.ParentID})
		id = owner.ParentID
	}
}

func distinctOwners(entries []Delegation) []string {
	seen := make(map[string]bool, len(entries))
	var owners []string
	for _, e := range entries {
		if e.Owner == "" || seen[e.Owner] {
			continue
		}
		seen[e.Owner] = true
		owners = append(owners, e.Owner)
	}
	return owners
}
