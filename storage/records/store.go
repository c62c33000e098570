package records

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jrife/devkv/storage/kv"
	"github.com/jrife/devkv/storage/kv/keys"
	"github.com/jrife/devkv/utils/log"
	"go.uber.org/zap"
)

// StoreConfig contains configuration
// for a store
type StoreConfig struct {
	Logger    *zap.Logger
	RootStore kv.RootStore
}

// Store is the partitioned record store. It is safe
// for concurrent use.
type Store struct {
	logger    *zap.Logger
	rootStore kv.RootStore
	// partitions known to exist. Partitions are never
	// deleted so entries never go stale.
	ensured sync.Map
}

// New creates a record store on top of a kv root store
func New(config StoreConfig) *Store {
	store := &Store{logger: config.Logger, rootStore: config.RootStore}

	if store.logger == nil {
		store.logger = zap.L()
	}

	return store
}

// EnsurePartition creates the named partition if it does
// not exist yet. It is idempotent and may be called concurrently
// for the same name.
func (store *Store) EnsurePartition(ctx context.Context, name string) error {
	if name == "" {
		return &StoreError{Op: OpOpen, Err: ErrPartitionRequired}
	}

	if _, ok := store.ensured.Load(name); ok {
		return nil
	}

	logger := log.WithContext(ctx, store.logger).With(zap.String("operation", "EnsurePartition"), zap.String("partition", name))
	logger.Debug("creating partition")

	if err := store.rootStore.Partition([]byte(name)).Create(); err != nil {
		logger.Error("could not create partition", zap.Error(err))

		return &StoreError{Op: OpOpen, Partition: name, Err: err}
	}

	store.ensured.Store(name, struct{}{})

	return nil
}

// Open ensures the partition exists and returns a handle to it
func (store *Store) Open(ctx context.Context, name string) (*Handle, error) {
	if err := store.EnsurePartition(ctx, name); err != nil {
		return nil, err
	}

	return &Handle{store: store, name: name}, nil
}

// Partitions lists the names of all partitions in ascending order
func (store *Store) Partitions(ctx context.Context) ([]string, error) {
	names, err := store.rootStore.Partitions()

	if err != nil {
		return nil, &StoreError{Op: OpScan, Err: err}
	}

	partitions := make([]string, len(names))

	for i, name := range names {
		partitions[i] = string(name)
	}

	return partitions, nil
}

// Get reads the record stored under key. It returns nil, nil
// if there is no such record.
func (store *Store) Get(ctx context.Context, partition string, key string) (*Record, error) {
	logger := log.WithContext(ctx, store.logger).With(zap.String("operation", "Get"), zap.String("partition", partition))
	logger.Debug("start", zap.String("key", key))

	var record *Record

	err := store.view(ctx, OpGet, partition, key, func(transaction kv.Transaction) error {
		raw, err := transaction.Get([]byte(key))

		if err != nil {
			return err
		}

		if raw == nil {
			return nil
		}

		r, err := decode([]byte(key), raw)

		if err != nil {
			return err
		}

		record = &r

		return nil
	})

	logger.Debug("return", zap.Bool("found", record != nil), zap.Error(err))

	return record, err
}

// Put upserts record, keyed on its id
func (store *Store) Put(ctx context.Context, partition string, record Record) error {
	logger := log.WithContext(ctx, store.logger).With(zap.String("operation", "Put"), zap.String("partition", partition))
	logger.Debug("start", zap.String("key", record.ID))

	if record.ID == "" {
		err := &StoreError{Op: OpPut, Partition: partition, Err: ErrIDRequired}
		logger.Debug("return", zap.Error(err))

		return err
	}

	err := store.update(ctx, OpPut, partition, record.ID, func(transaction kv.Transaction) error {
		raw, err := encode(record)

		if err != nil {
			return err
		}

		return transaction.Put([]byte(record.ID), raw)
	})

	logger.Debug("return", zap.Error(err))

	return err
}

// Delete removes the record stored under key. Deleting
// a missing key has no effect.
func (store *Store) Delete(ctx context.Context, partition string, key string) error {
	logger := log.WithContext(ctx, store.logger).With(zap.String("operation", "Delete"), zap.String("partition", partition))
	logger.Debug("start", zap.String("key", key))

	err := store.update(ctx, OpDelete, partition, key, func(transaction kv.Transaction) error {
		return transaction.Delete([]byte(key))
	})

	logger.Debug("return", zap.Error(err))

	return err
}

// Scan returns the data of every record in the partition
// keyed by record key. Records without data map to null.
func (store *Store) Scan(ctx context.Context, partition string) (map[string]json.RawMessage, error) {
	logger := log.WithContext(ctx, store.logger).With(zap.String("operation", "Scan"), zap.String("partition", partition))
	logger.Debug("start")

	result := map[string]json.RawMessage{}

	err := store.scan(ctx, partition, keys.All(), func(record Record) {
		result[record.ID] = record.DataOrNull()
	})

	if err != nil {
		result = nil
	}

	logger.Debug("return", zap.Int("records", len(result)), zap.Error(err))

	return result, err
}

// ScanPrefix returns all records whose key starts with
// prefix, in ascending key order. The key equal to prefix
// itself is not included.
func (store *Store) ScanPrefix(ctx context.Context, partition string, prefix string) ([]Record, error) {
	logger := log.WithContext(ctx, store.logger).With(zap.String("operation", "ScanPrefix"), zap.String("partition", partition))
	logger.Debug("start", zap.String("prefix", prefix))

	result := []Record{}

	err := store.scan(ctx, partition, keys.All().Prefix([]byte(prefix)), func(record Record) {
		result = append(result, record)
	})

	if err != nil {
		result = nil
	}

	logger.Debug("return", zap.Int("records", len(result)), zap.Error(err))

	return result, err
}

// Update shallow-merges partial into the data of the record
// stored under key, creating the record if it does not exist. See
// Merge for the merge rules. The read and the write are two separate
// transactions: a write to the same key that lands between them is lost.
func (store *Store) Update(ctx context.Context, partition string, key string, partial json.RawMessage) (Record, error) {
	existing, err := store.Get(ctx, partition, key)

	if err != nil {
		return Record{}, err
	}

	record := Record{ID: key}

	if existing != nil {
		record = *existing
	}

	merged, err := Merge(record.Data, partial)

	if err != nil {
		return Record{}, &StoreError{Op: OpPut, Partition: partition, Key: key, Err: err}
	}

	record.ID = key
	record.Data = merged

	if err := store.Put(ctx, partition, record); err != nil {
		return Record{}, err
	}

	return record, nil
}

func (store *Store) scan(ctx context.Context, partition string, r keys.Range, fn func(record Record)) error {
	return store.view(ctx, OpScan, partition, "", func(transaction kv.Transaction) error {
		iter, err := transaction.Keys(r, kv.SortOrderAsc)

		if err != nil {
			return err
		}

		for iter.Next() {
			record, err := decode(iter.Key(), iter.Value())

			if err != nil {
				return err
			}

			fn(record)
		}

		return iter.Error()
	})
}

func (store *Store) view(ctx context.Context, op string, partition string, key string, fn func(transaction kv.Transaction) error) error {
	return store.transact(ctx, false, op, partition, key, fn)
}

func (store *Store) update(ctx context.Context, op string, partition string, key string, fn func(transaction kv.Transaction) error) error {
	return store.transact(ctx, true, op, partition, key, fn)
}

func (store *Store) transact(ctx context.Context, writable bool, op string, partition string, key string, fn func(transaction kv.Transaction) error) error {
	if err := store.EnsurePartition(ctx, partition); err != nil {
		return err
	}

	transaction, err := store.rootStore.Partition([]byte(partition)).Begin(writable)

	if err != nil {
		return &StoreError{Op: op, Partition: partition, Key: key, Err: err}
	}

	defer transaction.Rollback()

	if err := fn(transaction); err != nil {
		return &StoreError{Op: op, Partition: partition, Key: key, Err: err}
	}

	if err := transaction.Commit(); err != nil {
		return &StoreError{Op: op, Partition: partition, Key: key, Err: err}
	}

	return nil
}
