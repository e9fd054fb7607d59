package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ParseArray extracts an array of StackItems from a parent StackItem.
func ParseArray(item StackItem) ([]StackItem, error) {
	if item.Type != "Array" && item.Type != "Struct" {
		return nil, fmt.Errorf("expected Array or Struct, got %s", item.Type)
	}
	var items []StackItem
	if err := json.Unmarshal(item.Value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal array: %w", err)
	}
	return items, nil
}

// ParseByteArray decodes a ByteString or Buffer item.
func ParseByteArray(item StackItem) ([]byte, error) {
	switch item.Type {
	case "ByteString", "Buffer":
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(value)
	case "Null":
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected type: %s", item.Type)
	}
}

// ParseInteger decodes an Integer item. ByteString integers (little-endian
// two's complement) are accepted too, as some contracts store them that way.
func ParseInteger(item StackItem) (*big.Int, error) {
	switch item.Type {
	case "Integer":
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", value)
		}
		return n, nil
	case "ByteString", "Buffer":
		raw, err := ParseByteArray(item)
		if err != nil {
			return nil, err
		}
		return fromLittleEndian(raw), nil
	default:
		return nil, fmt.Errorf("unexpected type: %s", item.Type)
	}
}

// ParseHash160 decodes a 20-byte ByteString into a script hash.
func ParseHash160(item StackItem) (util.Uint160, error) {
	raw, err := ParseByteArray(item)
	if err != nil {
		return util.Uint160{}, err
	}
	return util.Uint160DecodeBytesBE(raw)
}

// ParseBoolean decodes a Boolean item.
func ParseBoolean(item StackItem) (bool, error) {
	if item.Type != "Boolean" {
		return false, fmt.Errorf("unexpected type: %s", item.Type)
	}
	var value bool
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return false, err
	}
	return value, nil
}

func fromLittleEndian(raw []byte) *big.Int {
	if len(raw) == 0 {
		return new(big.Int)
	}
	be := reverse(raw)
	n := new(big.Int).SetBytes(be)
	if raw[len(raw)-1]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(raw)*8)))
	}
	return n
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func addressToHash(addr string) (util.Uint160, error) {
	return address.StringToUint160(addr)
}
