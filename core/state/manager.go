package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"bdnprotocol/storage/trie"
)

// Manager provides typed access to the ledger state held in the trie: token
// metadata, balances, supplies and the generic KV records used by the native
// engines.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// TokenMetadata describes a registered token.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
	supplyPrefix  = []byte("supply:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func supplyKey(symbol string) []byte {
	buf := make([]byte, len(supplyPrefix)+len(symbol))
	copy(buf, supplyPrefix)
	copy(buf[len(supplyPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// NormalizeSymbol upper-cases and trims a token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (m *Manager) loadTokenList() ([]string, error) {
	data, err := m.trie.Get(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) writeTokenList(list []string) error {
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.trie.Update(tokenListKey, encoded)
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := m.trie.Get(tokenMetadataKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}

	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := m.writeTokenList(list); err != nil {
		return err
	}

	meta := &TokenMetadata{Symbol: normalized, Name: strings.TrimSpace(name), Decimals: decimals}
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.trie.Update(tokenMetadataKey(normalized), encoded)
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.loadTokenMetadata(NormalizeSymbol(symbol))
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return false
	}
	meta, err := m.loadTokenMetadata(normalized)
	return err == nil && meta != nil
}

func (m *Manager) requireToken(symbol string) (string, error) {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("token %s not registered", normalized)
	}
	return normalized, nil
}

func (m *Manager) readAmount(key []byte) (*big.Int, error) {
	data, err := m.trie.Get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) writeAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount not allowed")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("amount exceeds 256 bits")
	}
	if amount.Sign() == 0 {
		return m.trie.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.trie.Update(key, encoded)
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.writeAmount(balanceKey(addr, normalized), amount)
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	return m.readAmount(balanceKey(addr, NormalizeSymbol(symbol)))
}

// SetSupply stores the circulating supply of a token.
func (m *Manager) SetSupply(symbol string, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.writeAmount(supplyKey(normalized), amount)
}

// Supply returns the circulating supply of a token.
func (m *Manager) Supply(symbol string) (*big.Int, error) {
	return m.readAmount(supplyKey(NormalizeSymbol(symbol)))
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the trie.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// Snapshot captures the working state so a failed transition can be reverted.
func (m *Manager) Snapshot() *trie.Trie {
	return m.trie.Snapshot()
}

// Revert discards every mutation made since the snapshot was taken.
func (m *Manager) Revert(snap *trie.Trie) {
	m.trie.Restore(snap)
}

// Root returns the hash of the working state.
func (m *Manager) Root() common.Hash {
	return m.trie.Hash()
}

// Commit flushes the working state at the given height and returns the new
// root.
func (m *Manager) Commit(height uint64) (common.Hash, error) {
	return m.trie.Commit(height)
}
