package records

import (
	"context"
	"encoding/json"
)

// Handle is a reference to a partition that has been
// opened, and therefore exists
type Handle struct {
	store *Store
	name  string
}

// Name returns the partition name
func (handle *Handle) Name() string {
	return handle.name
}

// Get is like Store.Get for this partition
func (handle *Handle) Get(ctx context.Context, key string) (*Record, error) {
	return handle.store.Get(ctx, handle.name, key)
}

// Put is like Store.Put for this partition
func (handle *Handle) Put(ctx context.Context, record Record) error {
	return handle.store.Put(ctx, handle.name, record)
}

// Delete is like Store.Delete for this partition
func (handle *Handle) Delete(ctx context.Context, key string) error {
	return handle.store.Delete(ctx, handle.name, key)
}

// Scan is like Store.Scan for this partition
func (handle *Handle) Scan(ctx context.Context) (map[string]json.RawMessage, error) {
	return handle.store.Scan(ctx, handle.name)
}

// ScanPrefix is like Store.ScanPrefix for this partition
func (handle *Handle) ScanPrefix(ctx context.Context, prefix string) ([]Record, error) {
	return handle.store.ScanPrefix(ctx, handle.name, prefix)
}
