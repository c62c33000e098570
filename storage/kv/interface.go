package kv

import (
	"errors"

	"github.com/jrife/devkv/storage/kv/keys"
)

var (
	// ErrClosed indicates that the root store was closed
	ErrClosed = errors.New("root store was closed")
	// ErrNoSuchPartition indicates that the partition doesn't exist. It hasn't been created yet
	ErrNoSuchPartition = errors.New("partition does not exist")
	// ErrKeyRequired indicates that an empty or nil key was passed to a map operation
	ErrKeyRequired = errors.New("key required")
	// ErrReadOnly indicates that a read-only transaction attempted an update
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrTxnDone indicates the transaction was already committed or rolled back
	ErrTxnDone = errors.New("transaction already committed or rolled back")
)

// SortOrder describes sort order for keys
// Either SortOrderAsc or SortOrderDesc
type SortOrder int

const (
	// SortOrderAsc sorts in increasing order
	SortOrderAsc SortOrder = iota
	// SortOrderDesc sorts in decreasing order
	SortOrderDesc
)

// PluginOptions is a set of driver-specific options
// used to configure a root store
type PluginOptions map[string]interface{}

// Plugin represents a kv storage plugin
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// NewRootStore returns an instance of the plugin store
	NewRootStore(options PluginOptions) (RootStore, error)
	// NewTempRootStore returns an instance of the plugin store
	// initialized with some sane defaults. It is meant for
	// tests that need an initialized instance of the plugin's
	// store without knowing how to initialize it
	NewTempRootStore() (RootStore, error)
}

// RootStore is the parent store from which all partitions are descended
type RootStore interface {
	// Delete closes then deletes this store and all its contents.
	// If the root store doesn't exist it should return nil and have
	// no effect.
	Delete() error
	// Close closes the store. Function calls to any I/O objects
	// descended from this store occurring after Close returns
	// must have no effect and return ErrClosed. Close must not
	// return until all transactions have either rolled back or
	// committed.
	Close() error
	// Partitions lists all the partitions inside this root store by name.
	// Results must be in ascending lexicographical order. It must return
	// ErrClosed if its invocation starts after Close() returns.
	Partitions() ([][]byte, error)
	// Partition returns a handle for the partition with this name. It does not
	// guarantee that this partition exists yet and should not create the
	// partition. It must not return nil.
	Partition(name []byte) Partition
}

// Partition is a reference to a named partition of a root store.
// Strict-serializability must be enforced on all transactions
// within a partition. Partitions are independent and do not
// require coordination between them.
//
// Consumers should assume that Begin() may block and should finish
// every transaction they begin, either by committing or rolling back.
// Beginning a second read-write transaction on the same goroutine before
// finishing the first may deadlock.
type Partition interface {
	// Name returns the name of this partition
	Name() []byte
	// Create creates this partition if it does not exist. It has no
	// effect if the partition already exists. It must be safe to call
	// concurrently from multiple goroutines. It must return ErrClosed
	// if its invocation starts after Close() on the root store returns.
	Create() error
	// Begin starts a transaction for this partition. writable should be
	// true for read-write transactions and false for read-only transactions.
	// If Begin() is called after Close() on the root store returns it must
	// return ErrClosed. Otherwise if this partition does not exist it must
	// return ErrNoSuchPartition.
	Begin(writable bool) (Transaction, error)
}

// MapUpdater is an interface for updating a sorted
// key-value map
type MapUpdater interface {
	// Put puts a key. Put must return ErrKeyRequired
	// if key is nil or empty.
	Put(key, value []byte) error
	// Delete deletes a key. It must return ErrKeyRequired if the key
	// is nil or empty. If the key doesn't exist it has no effect
	// and returns nil.
	Delete(key []byte) error
}

// MapReader is an interface for reading a sorted
// key-value map
type MapReader interface {
	// Get gets a key. It must observe updates to that key made
	// previously by this transation. Get must return ErrKeyRequired
	// if the key is nil or empty. It must return nil if the
	// requested key does not exist. The returned slice is owned
	// by the caller.
	Get(key []byte) ([]byte, error)
	// Keys creates an iterator that iterates over the range
	// of keys
	Keys(keys keys.Range, order SortOrder) (Iterator, error)
}

// Map combines MapReader and MapUpdater
type Map interface {
	MapUpdater
	MapReader
}

// Transaction is a transaction for a partition. It must only be
// used by one goroutine at a time.
type Transaction interface {
	Map
	// Commit commits the transaction
	Commit() error
	// Rollback rolls back the transaction. Calling Rollback
	// after Commit has no effect.
	Rollback() error
}

// Iterator iterates over a set of keys. It must only be
// used by one goroutine at a time. Consumers should not
// attempt to use an iterator once its parent transaction
// has been rolled back. Behavior is undefined in this case.
// The transaction must not mutate the partition while the iterator
// is in use.
type Iterator interface {
	// Next advances the iterator to the next key
	// A fresh iterator must call Next once to
	// advance to the first key. Next returns false
	// if there is no next key or if it encounters an
	// error.
	Next() bool
	// Key returns the current key
	Key() []byte
	// Value returns the current value
	Value() []byte
	// Error returns the error, if any.
	Error() error
}

// KV is a key-value pair
type KV [2][]byte

// Keys reads up to limit key-value pairs from
// the iterator. limit < 0 means no limit.
func Keys(iter Iterator, limit int) ([]KV, error) {
	result := []KV{}

	for (limit < 0 || len(result) < limit) && iter.Next() {
		result = append(result, KV{copyBytes(iter.Key()), copyBytes(iter.Value())})
	}

	if iter.Error() != nil {
		return nil, iter.Error()
	}

	return result, nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	c := make([]byte, len(b))
	copy(c, b)

	return c
}
