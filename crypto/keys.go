package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of an encoded address.
type AddressPrefix string

const (
	// BDNPrefix tags externally owned and module accounts.
	BDNPrefix AddressPrefix = "bdn"
	// AssetPrefix tags token identifiers derived from a symbol.
	AssetPrefix AddressPrefix = "bdnasset"
)

// Address represents a 20-byte account identifier with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

// MustNewAddress is NewAddress for fixed-size inputs.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	return NewAddress(prefix, b)
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Raw returns the address as a fixed-size array.
func (a Address) Raw() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes, got %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// Format renders a raw account address with the default prefix.
func Format(raw [20]byte) string {
	return NewAddress(BDNPrefix, raw[:]).String()
}

// ParseRaw decodes a bech32 address into its raw bytes regardless of prefix.
func ParseRaw(addrStr string) ([20]byte, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

// DeriveAddress returns a deterministic address for a named module or fixture
// account: the last 20 bytes of keccak256(label).
func DeriveAddress(label string) [20]byte {
	var out [20]byte
	copy(out[:], crypto.Keccak256([]byte(label))[12:])
	return out
}

// AssetAddress returns the identifier used for a token symbol in permission
// lookups.
func AssetAddress(symbol string) [20]byte {
	return DeriveAddress("asset:" + strings.ToUpper(strings.TrimSpace(symbol)))
}
