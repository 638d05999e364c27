package dataowner

import (
	"context"
	"strconv"
	"sync"
)

// MemoryDirectory is an in-process Directory with optimistic revisions.
// Revisions are decimal counters bumped on every successful update.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[string]*DataOwner
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory(owners ...*DataOwner) *MemoryDirectory {
	d := &MemoryDirectory{owners: make(map[string]*DataOwner)}
	for _, o := range owners {
		d.Put(o)
	}
	return d
}

// Put registers or replaces owner regardless of its revision.
func (d *MemoryDirectory) Put(owner *DataOwner) *DataOwner {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := owner.Clone()
	stored.Rev = nextRev(d.owners[owner.ID])
	d.owners[owner.ID] = stored
	return stored.Clone()
}

func (d *MemoryDirectory) GetDataOwner(ctx context.Context, id string) (*DataOwner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	o, ok := d.owners[id]
	if !ok {
		return nil, NotFoundError(id)
	}
	return o.Clone(), nil
}

func (d *MemoryDirectory) GetExchangeKeysForDelegate(ctx context.Context, delegateID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make(map[string]string)
	for id, o := range d.owners {
		if pair, ok := o.HcPartyKeys[delegateID]; ok {
			keys[id] = pair.ForDelegate()
		}
	}
	return keys, nil
}

// UpdateDataOwner stores owner when its Rev matches the stored one. An
// unknown owner with an empty Rev is created.
func (d *MemoryDirectory) UpdateDataOwner(ctx context.Context, owner *DataOwner) (*DataOwner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.owners[owner.ID]
	switch {
	case !ok && owner.Rev != "":
		return nil, NotFoundError(owner.ID)
	case ok && current.Rev != owner.Rev:
		return nil, ConflictError(owner.ID, owner.Rev)
	}

	stored := owner.Clone()
	stored.Rev = nextRev(current)
	d.owners[owner.ID] = stored
	return stored.Clone(), nil
}

func nextRev(current *DataOwner) string {
	if current == nil {
		return "1"
	}
	n, err := strconv.Atoi(current.Rev)
	if err != nil {
		return "1"
	}
	return strconv.Itoa(n + 1)
}
