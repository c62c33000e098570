package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrife/devkv/storage/kv"
	"github.com/jrife/devkv/storage/kv/keys"
	"github.com/jrife/devkv/utils/uuid"
	// registers the sqlite3 database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the name of this plugin
	DriverName = "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS partitions (
	name BLOB PRIMARY KEY
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS kv (
	partition BLOB NOT NULL,
	key       BLOB NOT NULL,
	value     BLOB NOT NULL,
	PRIMARY KEY (partition, key)
) WITHOUT ROWID;
`

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&Plugin{},
	}
}

var _ kv.Plugin = (*Plugin)(nil)

// Plugin is the kv.Plugin for sqlite
type Plugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *Plugin) Name() string {
	return DriverName
}

// NewRootStore implements kv.Plugin.NewRootStore. Recognized options:
//   path (string, required) path of the database file
func (plugin *Plugin) NewRootStore(options kv.PluginOptions) (kv.RootStore, error) {
	var config RootStoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Path = pathString
	}

	return New(config)
}

// NewTempRootStore implements kv.Plugin.NewTempRootStore
func (plugin *Plugin) NewTempRootStore() (kv.RootStore, error) {
	return plugin.NewRootStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("sqlite-%s.db", uuid.MustUUID())),
	})
}

// RootStoreConfig configures a sqlite root store
type RootStoreConfig struct {
	Path string
}

var _ kv.RootStore = (*RootStore)(nil)

// RootStore is a kv.RootStore backed by a single sqlite
// database file. All partitions share one table keyed
// on (partition, key).
type RootStore struct {
	path   string
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// New opens or creates the sqlite database described by config
func New(config RootStoreConfig) (*RootStore, error) {
	db, err := sql.Open("sqlite3", config.Path+"?_busy_timeout=5000")

	if err != nil {
		return nil, fmt.Errorf("could not open sqlite store at %s: %s", config.Path, err)
	}

	// sqlite allows a single writer. One connection serializes
	// every transaction in the root store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not apply schema to sqlite store at %s: %s", config.Path, err)
	}

	return &RootStore{path: config.Path, db: db}, nil
}

func (rootStore *RootStore) isClosed() bool {
	rootStore.mu.RLock()
	defer rootStore.mu.RUnlock()

	return rootStore.closed
}

// Close implements kv.RootStore.Close
func (rootStore *RootStore) Close() error {
	rootStore.mu.Lock()
	defer rootStore.mu.Unlock()

	if rootStore.closed {
		return nil
	}

	rootStore.closed = true

	return rootStore.db.Close()
}

// Delete implements kv.RootStore.Delete
func (rootStore *RootStore) Delete() error {
	if err := rootStore.Close(); err != nil {
		return fmt.Errorf("could not close store: %s", err)
	}

	if err := os.Remove(rootStore.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove path %s: %s", rootStore.path, err)
	}

	return nil
}

// Partitions implements kv.RootStore.Partitions
func (rootStore *RootStore) Partitions() ([][]byte, error) {
	if rootStore.isClosed() {
		return nil, kv.ErrClosed
	}

	rows, err := rootStore.db.Query(`SELECT name FROM partitions ORDER BY name ASC`)

	if err != nil {
		return nil, rootStore.wrapError("could not list partitions", err)
	}

	defer rows.Close()

	partitions := [][]byte{}

	for rows.Next() {
		var name []byte

		if err := rows.Scan(&name); err != nil {
			return nil, rootStore.wrapError("could not list partitions", err)
		}

		partitions = append(partitions, name)
	}

	if err := rows.Err(); err != nil {
		return nil, rootStore.wrapError("could not list partitions", err)
	}

	return partitions, nil
}

// Partition implements kv.RootStore.Partition
func (rootStore *RootStore) Partition(name []byte) kv.Partition {
	return &partition{rootStore: rootStore, name: name}
}

func (rootStore *RootStore) wrapError(wrap string, err error) error {
	if err == nil {
		return nil
	}

	if rootStore.isClosed() {
		return kv.ErrClosed
	}

	return fmt.Errorf("%s: %s", wrap, err)
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
	if partition.rootStore.isClosed() {
		return kv.ErrClosed
	}

	_, err := partition.rootStore.db.Exec(`INSERT OR IGNORE INTO partitions (name) VALUES (?)`, partition.name)

	return partition.rootStore.wrapError("could not create partition", err)
}

func (partition *partition) Begin(writable bool) (kv.Transaction, error) {
	if partition.rootStore.isClosed() {
		return nil, kv.ErrClosed
	}

	txn, err := partition.rootStore.db.Begin()

	if err != nil {
		return nil, partition.rootStore.wrapError("could not begin transaction", err)
	}

	var exists int

	err = txn.QueryRow(`SELECT COUNT(*) FROM partitions WHERE name = ?`, partition.name).Scan(&exists)

	if err != nil {
		txn.Rollback()

		return nil, partition.rootStore.wrapError("could not begin transaction", err)
	}

	if exists == 0 {
		txn.Rollback()

		return nil, kv.ErrNoSuchPartition
	}

	return &transaction{txn: txn, partition: partition, writable: writable}, nil
}

var _ kv.Transaction = (*transaction)(nil)

type transaction struct {
	txn       *sql.Tx
	partition *partition
	writable  bool
	done      bool
}

func (transaction *transaction) wrapError(wrap string, err error) error {
	return transaction.partition.rootStore.wrapError(wrap, err)
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

	if value == nil {
		value = []byte{}
	}

	_, err := transaction.txn.Exec(
		`INSERT INTO kv (partition, key, value) VALUES (?, ?, ?) ON CONFLICT (partition, key) DO UPDATE SET value = excluded.value`,
		transaction.partition.name, key, value,
	)

	return transaction.wrapError("could not put key", err)
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

	_, err := transaction.txn.Exec(`DELETE FROM kv WHERE partition = ? AND key = ?`, transaction.partition.name, key)

	return transaction.wrapError("could not delete key", err)
}

func (transaction *transaction) Get(key []byte) ([]byte, error) {
	if transaction.done {
		return nil, kv.ErrTxnDone
	}

	if len(key) == 0 {
		return nil, kv.ErrKeyRequired
	}

	var value []byte

	err := transaction.txn.QueryRow(`SELECT value FROM kv WHERE partition = ? AND key = ?`, transaction.partition.name, key).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, transaction.wrapError("could not get key", err)
	}

	if value == nil {
		value = []byte{}
	}

	return value, nil
}

// Keys reads the whole range up front. The iterator stays valid
// after the transaction ends.
func (transaction *transaction) Keys(r keys.Range, order kv.SortOrder) (kv.Iterator, error) {
	if transaction.done {
		return nil, kv.ErrTxnDone
	}

	query := `SELECT key, value FROM kv WHERE partition = ?`
	args := []interface{}{transaction.partition.name}

	if r.Min != nil {
		query += ` AND key >= ?`
		args = append(args, r.Min)
	}

	if r.Max != nil {
		query += ` AND key < ?`
		args = append(args, r.Max)
	}

	if order == kv.SortOrderDesc {
		query += ` ORDER BY key DESC`
	} else {
		query += ` ORDER BY key ASC`
	}

	rows, err := transaction.txn.Query(query, args...)

	if err != nil {
		return nil, transaction.wrapError("could not list keys", err)
	}

	defer rows.Close()

	iter := &iterator{index: -1}

	for rows.Next() {
		var pair kv.KV

		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, transaction.wrapError("could not list keys", err)
		}

		if pair[1] == nil {
			pair[1] = []byte{}
		}

		iter.pairs = append(iter.pairs, pair)
	}

	if err := rows.Err(); err != nil {
		return nil, transaction.wrapError("could not list keys", err)
	}

	return iter, nil
}

func (transaction *transaction) Commit() error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	transaction.done = true

	if !transaction.writable {
		return transaction.wrapError("could not roll back transaction", transaction.txn.Rollback())
	}

	return transaction.wrapError("could not commit transaction", transaction.txn.Commit())
}

func (transaction *transaction) Rollback() error {
	if transaction.done {
		return nil
	}

	transaction.done = true

	err := transaction.txn.Rollback()

	if err == sql.ErrTxDone {
		return nil
	}

	return transaction.wrapError("could not roll back transaction", err)
}

var _ kv.Iterator = (*iterator)(nil)

type iterator struct {
	pairs []kv.KV
	index int
}

func (iter *iterator) Next() bool {
	if iter.index < len(iter.pairs) {
		iter.index++
	}

	return iter.index < len(iter.pairs)
}

func (iter *iterator) Key() []byte {
	if iter.index < 0 || iter.index >= len(iter.pairs) {
		return nil
	}

	return iter.pairs[iter.index][0]
}

func (iter *iterator) Value() []byte {
	if iter.index < 0 || iter.index >= len(iter.pairs) {
		return nil
	}

	return iter.pairs[iter.index][1]
}

func (iter *iterator) Error() error {
	return nil
}
