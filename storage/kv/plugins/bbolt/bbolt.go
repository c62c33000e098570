package bbolt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jrife/devkv/storage/kv"
	"github.com/jrife/devkv/storage/kv/keys"
	"github.com/jrife/devkv/utils/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// DriverName is the name of this plugin
	DriverName = "bbolt"
)

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&Plugin{},
	}
}

var _ kv.Plugin = (*Plugin)(nil)

// Plugin is the kv.Plugin for bbolt
type Plugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *Plugin) Name() string {
	return DriverName
}

// NewRootStore implements kv.Plugin.NewRootStore. Recognized options:
//   path    (string, required) path of the database file
//   timeout (string, optional) how long to wait for the file lock, e.g. "1s"
func (plugin *Plugin) NewRootStore(options kv.PluginOptions) (kv.RootStore, error) {
	var config RootStoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Path = pathString
	}

	if timeout, ok := options["timeout"]; ok {
		timeoutString, ok := timeout.(string)

		if !ok {
			return nil, fmt.Errorf("\"timeout\" must be a string")
		}

		d, err := time.ParseDuration(timeoutString)

		if err != nil {
			return nil, fmt.Errorf("\"timeout\" is not a valid duration: %s", err)
		}

		config.Timeout = d
	}

	return New(config)
}

// NewTempRootStore implements kv.Plugin.NewTempRootStore
func (plugin *Plugin) NewTempRootStore() (kv.RootStore, error) {
	return plugin.NewRootStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("bbolt-%s", uuid.MustUUID())),
	})
}

// RootStoreConfig configures a bbolt root store
type RootStoreConfig struct {
	Path    string
	Timeout time.Duration
}

var _ kv.RootStore = (*RootStore)(nil)

// RootStore is a kv.RootStore backed by a single bbolt
// database file. Each partition is a top-level bucket.
type RootStore struct {
	db *bolt.DB
}

// New opens or creates the bbolt database described by config
func New(config RootStoreConfig) (*RootStore, error) {
	db, err := bolt.Open(config.Path, 0600, &bolt.Options{Timeout: config.Timeout})

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %s", config.Path, err)
	}

	return &RootStore{db: db}, nil
}

// Close implements kv.RootStore.Close
func (rootStore *RootStore) Close() error {
	return rootStore.db.Close()
}

// Delete implements kv.RootStore.Delete
func (rootStore *RootStore) Delete() error {
	path := rootStore.db.Path()

	if err := rootStore.Close(); err != nil {
		return fmt.Errorf("could not close store: %s", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %s", path, err)
	}

	return nil
}

// Partitions implements kv.RootStore.Partitions
func (rootStore *RootStore) Partitions() ([][]byte, error) {
	partitions := [][]byte{}

	err := rootStore.db.View(func(txn *bolt.Tx) error {
		return txn.ForEach(func(name []byte, _ *bolt.Bucket) error {
			partitions = append(partitions, append([]byte{}, name...))

			return nil
		})
	})

	if err != nil {
		return nil, wrapError("could not list partitions", err)
	}

	return partitions, nil
}

// Partition implements kv.RootStore.Partition
func (rootStore *RootStore) Partition(name []byte) kv.Partition {
	return &partition{db: rootStore.db, name: name}
}

var _ kv.Partition = (*partition)(nil)

type partition struct {
	db   *bolt.DB
	name []byte
}

func (partition *partition) Name() []byte {
	return partition.name
}

func (partition *partition) Create() error {
	err := partition.db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(partition.name)

		return err
	})

	return wrapError("could not create partition", err)
}

func (partition *partition) Begin(writable bool) (kv.Transaction, error) {
	txn, err := partition.db.Begin(writable)

	if err != nil {
		return nil, wrapError("could not begin transaction", err)
	}

	bucket := txn.Bucket(partition.name)

	if bucket == nil {
		txn.Rollback()

		return nil, kv.ErrNoSuchPartition
	}

	return &transaction{txn: txn, bucket: bucket}, nil
}

var _ kv.Transaction = (*transaction)(nil)

type transaction struct {
	txn    *bolt.Tx
	bucket *bolt.Bucket
}

func (transaction *transaction) Put(key, value []byte) error {
	if len(key) == 0 {
		return kv.ErrKeyRequired
	}

	if !transaction.txn.Writable() {
		return kv.ErrReadOnly
	}

	return wrapError("could not put key", transaction.bucket.Put(key, value))
}

func (transaction *transaction) Delete(key []byte) error {
	if len(key) == 0 {
		return kv.ErrKeyRequired
	}

	if !transaction.txn.Writable() {
		return kv.ErrReadOnly
	}

	return wrapError("could not delete key", transaction.bucket.Delete(key))
}

func (transaction *transaction) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, kv.ErrKeyRequired
	}

	value := transaction.bucket.Get(key)

	if value == nil {
		return nil, nil
	}

	// bbolt values are only valid for the life of the transaction
	return append([]byte{}, value...), nil
}

func (transaction *transaction) Keys(keys keys.Range, order kv.SortOrder) (kv.Iterator, error) {
	return &iterator{cursor: transaction.bucket.Cursor(), keys: keys, order: order}, nil
}

func (transaction *transaction) Commit() error {
	if !transaction.txn.Writable() {
		// bbolt refuses to commit read-only transactions
		return transaction.Rollback()
	}

	return wrapError("could not commit transaction", transaction.txn.Commit())
}

func (transaction *transaction) Rollback() error {
	err := transaction.txn.Rollback()

	if err == bolt.ErrTxClosed {
		return nil
	}

	return wrapError("could not roll back transaction", err)
}

var _ kv.Iterator = (*iterator)(nil)

type iterator struct {
	cursor  *bolt.Cursor
	keys    keys.Range
	order   kv.SortOrder
	started bool
	key     []byte
	value   []byte
}

func (iter *iterator) first() ([]byte, []byte) {
	if iter.order == kv.SortOrderDesc {
		if iter.keys.Max == nil {
			return iter.cursor.Last()
		}

		k, _ := iter.cursor.Seek(iter.keys.Max)

		if k == nil {
			return iter.cursor.Last()
		}

		// Seek lands on the first key >= Max which is excluded
		return iter.cursor.Prev()
	}

	if iter.keys.Min == nil {
		return iter.cursor.First()
	}

	return iter.cursor.Seek(iter.keys.Min)
}

func (iter *iterator) Next() bool {
	var k, v []byte

	if !iter.started {
		iter.started = true
		k, v = iter.first()
	} else if iter.key == nil {
		return false
	} else if iter.order == kv.SortOrderDesc {
		k, v = iter.cursor.Prev()
	} else {
		k, v = iter.cursor.Next()
	}

	// nested buckets show up with a nil value. They're never created
	// by this driver, but skip them anyway
	for k != nil && v == nil {
		if iter.order == kv.SortOrderDesc {
			k, v = iter.cursor.Prev()
		} else {
			k, v = iter.cursor.Next()
		}
	}

	if k == nil || !keys.InRange(k, iter.keys) {
		iter.key = nil
		iter.value = nil

		return false
	}

	iter.key = k
	iter.value = v

	return true
}

func (iter *iterator) Key() []byte {
	return iter.key
}

func (iter *iterator) Value() []byte {
	return iter.value
}

func (iter *iterator) Error() error {
	return nil
}

func wrapError(wrap string, err error) error {
	switch err {
	case bolt.ErrDatabaseNotOpen:
		return kv.ErrClosed
	case bolt.ErrTxNotWritable:
		return kv.ErrReadOnly
	case nil:
		return nil
	}

	return fmt.Errorf("%s: %s", wrap, err)
}
