package memory

import (
	"bytes"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/devkv/storage/kv"
	"github.com/jrife/devkv/storage/kv/keys"
)

const (
	// DriverName is the name of this plugin
	DriverName = "memory"
)

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&Plugin{},
	}
}

var _ kv.Plugin = (*Plugin)(nil)

// Plugin is the kv.Plugin for the in-memory driver.
// Its root stores hold everything in ordered maps and
// lose their contents when closed.
type Plugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *Plugin) Name() string {
	return DriverName
}

// NewRootStore implements kv.Plugin.NewRootStore. It
// takes no options.
func (plugin *Plugin) NewRootStore(options kv.PluginOptions) (kv.RootStore, error) {
	return New(), nil
}

// NewTempRootStore implements kv.Plugin.NewTempRootStore
func (plugin *Plugin) NewTempRootStore() (kv.RootStore, error) {
	return New(), nil
}

func newMap() *treemap.Map {
	return treemap.NewWith(func(a, b interface{}) int {
		return bytes.Compare(a.([]byte), b.([]byte))
	})
}

var _ kv.RootStore = (*RootStore)(nil)

// RootStore is an in-memory kv.RootStore. A single
// RWMutex guards all partitions: read-only transactions
// share it and read-write transactions hold it exclusively
// until they commit or roll back.
type RootStore struct {
	mu         sync.RWMutex
	closed     bool
	partitions *treemap.Map
}

// New creates an empty in-memory root store
func New() *RootStore {
	return &RootStore{partitions: newMap()}
}

// Close implements kv.RootStore.Close
func (rootStore *RootStore) Close() error {
	rootStore.mu.Lock()
	defer rootStore.mu.Unlock()

	rootStore.closed = true
	rootStore.partitions = newMap()

	return nil
}

// Delete implements kv.RootStore.Delete
func (rootStore *RootStore) Delete() error {
	return rootStore.Close()
}

// Partitions implements kv.RootStore.Partitions
func (rootStore *RootStore) Partitions() ([][]byte, error) {
	rootStore.mu.RLock()
	defer rootStore.mu.RUnlock()

	if rootStore.closed {
		return nil, kv.ErrClosed
	}

	partitions := [][]byte{}

	for _, name := range rootStore.partitions.Keys() {
		partitions = append(partitions, append([]byte{}, name.([]byte)...))
	}

	return partitions, nil
}

// Partition implements kv.RootStore.Partition
func (rootStore *RootStore) Partition(name []byte) kv.Partition {
	return &partition{rootStore: rootStore, name: name}
}

var _ kv.Partition = (*partition)(nil)

type partition struct {
	rootStore *RootStore
	name      []byte
}

func (partition *partition) Name() []byte {
	return partition.name
}

func (partition *partition) Create() error {
	partition.rootStore.mu.Lock()
	defer partition.rootStore.mu.Unlock()

	if partition.rootStore.closed {
		return kv.ErrClosed
	}

	if _, ok := partition.rootStore.partitions.Get(partition.name); ok {
		return nil
	}

	partition.rootStore.partitions.Put(append([]byte{}, partition.name...), newMap())

	return nil
}

func (partition *partition) Begin(writable bool) (kv.Transaction, error) {
	rootStore := partition.rootStore

	if writable {
		rootStore.mu.Lock()
	} else {
		rootStore.mu.RLock()
	}

	unlock := func() {
		if writable {
			rootStore.mu.Unlock()
		} else {
			rootStore.mu.RUnlock()
		}
	}

	if rootStore.closed {
		unlock()

		return nil, kv.ErrClosed
	}

	m, ok := rootStore.partitions.Get(partition.name)

	if !ok {
		unlock()

		return nil, kv.ErrNoSuchPartition
	}

	txn := &transaction{partition: partition, writable: writable, unlock: unlock, m: m.(*treemap.Map)}

	if writable {
		// Writes go to a private copy that replaces the
		// partition map on commit
		txn.m = clone(txn.m)
	}

	return txn, nil
}

func clone(m *treemap.Map) *treemap.Map {
	c := newMap()
	iter := m.Iterator()

	for iter.Next() {
		c.Put(iter.Key(), iter.Value())
	}

	return c
}

var _ kv.Transaction = (*transaction)(nil)

type transaction struct {
	partition *partition
	writable  bool
	done      bool
	unlock    func()
	m         *treemap.Map
}

func (transaction *transaction) Put(key, value []byte) error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	if len(key) == 0 {
		return kv.ErrKeyRequired
	}

	if !transaction.writable {
		return kv.ErrReadOnly
	}

	transaction.m.Put(append([]byte{}, key...), append([]byte{}, value...))

	return nil
}

func (transaction *transaction) Delete(key []byte) error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	if len(key) == 0 {
		return kv.ErrKeyRequired
	}

	if !transaction.writable {
		return kv.ErrReadOnly
	}

	transaction.m.Remove(key)

	return nil
}

func (transaction *transaction) Get(key []byte) ([]byte, error) {
	if transaction.done {
		return nil, kv.ErrTxnDone
	}

	if len(key) == 0 {
		return nil, kv.ErrKeyRequired
	}

	value, ok := transaction.m.Get(key)

	if !ok {
		return nil, nil
	}

	return append([]byte{}, value.([]byte)...), nil
}

func (transaction *transaction) Keys(keys keys.Range, order kv.SortOrder) (kv.Iterator, error) {
	if transaction.done {
		return nil, kv.ErrTxnDone
	}

	iter := transaction.m.Iterator()

	if order == kv.SortOrderDesc {
		iter.End()
	}

	return &iterator{iter: iter, keys: keys, order: order}, nil
}

func (transaction *transaction) Commit() error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	if transaction.writable {
		transaction.partition.rootStore.partitions.Put(transaction.partition.name, transaction.m)
	}

	transaction.finish()

	return nil
}

func (transaction *transaction) Rollback() error {
	if transaction.done {
		return nil
	}

	transaction.finish()

	return nil
}

func (transaction *transaction) finish() {
	transaction.done = true
	transaction.unlock()
}

var _ kv.Iterator = (*iterator)(nil)

type iterator struct {
	iter  treemap.Iterator
	keys  keys.Range
	order kv.SortOrder
	valid bool
	done  bool
}

func (iter *iterator) Next() bool {
	if iter.done {
		return false
	}

	hasMore := false

	if iter.order == kv.SortOrderDesc {
		for hasMore = iter.iter.Prev(); hasMore && iter.keys.Max != nil && keys.Compare(iter.iter.Key().([]byte), iter.keys.Max) >= 0; hasMore = iter.iter.Prev() {
		}

		iter.valid = hasMore && (iter.keys.Min == nil || keys.Compare(iter.iter.Key().([]byte), iter.keys.Min) >= 0)
	} else {
		for hasMore = iter.iter.Next(); hasMore && iter.keys.Min != nil && keys.Compare(iter.iter.Key().([]byte), iter.keys.Min) < 0; hasMore = iter.iter.Next() {
		}

		iter.valid = hasMore && (iter.keys.Max == nil || keys.Compare(iter.iter.Key().([]byte), iter.keys.Max) < 0)
	}

	iter.done = !iter.valid

	return iter.valid
}

func (iter *iterator) Key() []byte {
	if !iter.valid {
		return nil
	}

	return iter.iter.Key().([]byte)
}

func (iter *iterator) Value() []byte {
	if !iter.valid {
		return nil
	}

	return iter.iter.Value().([]byte)
}

func (iter *iterator) Error() error {
	return nil
}
