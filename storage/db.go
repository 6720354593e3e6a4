package storage

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the ledger to run on any backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	// TrieDB exposes the node database shared by every state trie opened on
	// this store.
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// kvStore adapts a go-ethereum ethdb.Database to the Database interface.
type kvStore struct {
	disk     ethdb.Database
	trieOnce sync.Once
	trieDB   *triedb.Database
}

func (s *kvStore) Put(key []byte, value []byte) error {
	return s.disk.Put(key, value)
}

func (s *kvStore) Get(key []byte) ([]byte, error) {
	ok, err := s.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	value, err := s.disk.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *kvStore) Has(key []byte) (bool, error) {
	return s.disk.Has(key)
}

func (s *kvStore) Delete(key []byte) error {
	return s.disk.Delete(key)
}

func (s *kvStore) TrieDB() *triedb.Database {
	s.trieOnce.Do(func() {
		s.trieDB = triedb.NewDatabase(s.disk, triedb.HashDefaults)
	})
	return s.trieDB
}

func (s *kvStore) close() {
	if s.trieDB != nil {
		s.trieDB.Close()
	}
	s.disk.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	kvStore
}

func NewMemDB() *MemDB {
	return &MemDB{kvStore: kvStore{disk: rawdb.NewMemoryDatabase()}}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	kvStore
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := gethleveldb.NewCustom(path, "", func(o *opt.Options) {
		o.OpenFilesCacheCapacity = 64
		o.BlockCacheCapacity = 16 * opt.MiB
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{kvStore: kvStore{disk: rawdb.NewDatabase(db)}}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.close()
}
