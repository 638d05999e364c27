package dataowner

import (
	"context"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CachedDirectory memoizes data owners and reverse exchange-key indexes of
// another Directory. Entries are only dropped by EmptyCache, one id at a time.
type CachedDirectory struct {
	dir Directory

	mu      sync.Mutex
	owners  map[string]*DataOwner
	reverse map[string]map[string]string
	// generation is bumped by EmptyCache so that a fetch that started before
	// the invalidation does not repopulate the entry with stale data.
	generation map[string]uint64

	group singleflight.Group
}

var _ Directory = (*CachedDirectory)(nil)

func NewCachedDirectory(dir Directory) *CachedDirectory {
	return &CachedDirectory{
		dir:        dir,
		owners:     make(map[string]*DataOwner),
		reverse:    make(map[string]map[string]string),
		generation: make(map[string]uint64),
	}
}

func (c *CachedDirectory) GetDataOwner(ctx context.Context, id string) (*DataOwner, error) {
	c.mu.Lock()
	if o, ok := c.owners[id]; ok {
		c.mu.Unlock()
		return o.Clone(), nil
	}
	gen := c.generation[id]
	c.mu.Unlock()

	v, err := c.share(ctx, flightKey("owner", id, gen), func(ctx context.Context) (any, error) {
		o, err := c.dir.GetDataOwner(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation[id] == gen {
			c.owners[id] = o.Clone()
		}
		c.mu.Unlock()
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DataOwner).Clone(), nil
}

func (c *CachedDirectory) GetExchangeKeysForDelegate(ctx context.Context, delegateID string) (map[string]string, error) {
	c.mu.Lock()
	if keys, ok := c.reverse[delegateID]; ok {
		c.mu.Unlock()
		return copyKeys(keys), nil
	}
	gen := c.generation[delegateID]
	c.mu.Unlock()

	v, err := c.share(ctx, flightKey("reverse", delegateID, gen), func(ctx context.Context) (any, error) {
		keys, err := c.dir.GetExchangeKeysForDelegate(ctx, delegateID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation[delegateID] == gen {
			c.reverse[delegateID] = copyKeys(keys)
		}
		c.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return copyKeys(v.(map[string]string)), nil
}

// UpdateDataOwner forwards to the underlying directory. Callers invalidate
// the affected entries with EmptyCache once the update succeeded.
func (c *CachedDirectory) UpdateDataOwner(ctx context.Context, owner *DataOwner) (*DataOwner, error) {
	return c.dir.UpdateDataOwner(ctx, owner)
}

// EmptyCache drops the cached data owner and reverse index for id.
func (c *CachedDirectory) EmptyCache(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.owners, id)
	delete(c.reverse, id)
	c.generation[id]++
	log.WithField("data_owner", id).Debug("directory cache entry invalidated")
}

// share runs fetch once per key for all concurrent callers. The fetch is
// detached from the cancellation of whichever caller started it; each caller
// stops waiting when its own context is done.
func (c *CachedDirectory) share(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fetch(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func flightKey(kind, id string, gen uint64) string {
	return kind + "|" + id + "|" + strconv.FormatUint(gen, 10)
}

func copyKeys(keys map[string]string) map[string]string {
	out := make(map[string]string, len(keys))
	for k, v := range keys {
		out[k] = v
	}
	return out
}
