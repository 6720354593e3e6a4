package trie

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"bdnprotocol/storage"
)

// Trie wraps go-ethereum's trie implementation behind the small API the ledger
// state needs.
//
// The wrapper keeps track of the last committed root and recreates the
// underlying trie after each commit so the instance can be reused across
// blocks. Keys passed into Get/Update/Delete are expected to be hashed
// (keccak256) by the caller.
//
// Trie is not safe for concurrent use.
type Trie struct {
	store  storage.Database
	trieDB *triedb.Database
	trie   *gethtrie.Trie
	root   common.Hash
}

// NewTrie creates a trie backed by the provided storage and optional root. A nil
// or empty root denotes the empty trie.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	trieDB := store.TrieDB()
	rootHash := gethtypes.EmptyRootHash
	if len(root) > 0 {
		rootHash = common.BytesToHash(root)
	}
	underlying, err := gethtrie.New(gethtrie.TrieID(rootHash), trieDB)
	if err != nil {
		return nil, err
	}
	return &Trie{
		store:  store,
		trieDB: trieDB,
		trie:   underlying,
		root:   rootHash,
	}, nil
}

// Get retrieves a value from the trie for the provided key. Missing keys yield
// a nil slice and no error.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.trie.Get(key)
}

// Update inserts or updates a value in the trie for the provided key.
func (t *Trie) Update(key, value []byte) error {
	return t.trie.Update(key, value)
}

// Delete removes the key from the trie.
func (t *Trie) Delete(key []byte) error {
	return t.trie.Delete(key)
}

// Hash returns the root hash of the trie reflecting all in-memory mutations.
func (t *Trie) Hash() common.Hash {
	return t.trie.Hash()
}

// Root returns the last committed root hash.
func (t *Trie) Root() common.Hash {
	return t.root
}

// Snapshot captures the uncommitted trie so a failed transition can be
// reverted with Restore.
func (t *Trie) Snapshot() *Trie {
	return &Trie{
		store:  t.store,
		trieDB: t.trieDB,
		trie:   t.trie.Copy(),
		root:   t.root,
	}
}

// Restore replaces the working trie with a snapshot taken earlier from the
// same wrapper.
func (t *Trie) Restore(snap *Trie) {
	if snap == nil {
		return
	}
	t.trie = snap.trie
	t.root = snap.root
}

// Commit persists the trie changes to the backing database and returns the new
// root hash.
func (t *Trie) Commit(blockNumber uint64) (common.Hash, error) {
	parent := t.root
	newRoot, nodes := t.trie.Commit(false)
	if nodes != nil {
		merged := trienode.NewMergedNodeSet()
		if err := merged.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		if err := t.trieDB.Update(newRoot, parent, blockNumber, merged, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.trieDB.Commit(newRoot, false); err != nil {
			return common.Hash{}, err
		}
	}
	underlying, err := gethtrie.New(gethtrie.TrieID(newRoot), t.trieDB)
	if err != nil {
		return common.Hash{}, err
	}
	t.trie = underlying
	t.root = newRoot
	return newRoot, nil
}

// Store exposes the backing storage.
func (t *Trie) Store() storage.Database {
	return t.store
}
