package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"capstore/core/genesis"
	"capstore/core/types"
)

// ParseRoot reads a 32-byte state root in hex, with or without 0x.
func ParseRoot(s string) (common.Hash, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse root %q: %w", s, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("parse root %q: want %d bytes, got %d", s, common.HashLength, len(raw))
	}
	return common.BytesToHash(raw), nil
}

// ParseAccount accepts hex or bech32 account identifiers.
func ParseAccount(s string) (types.Address, error) {
	return genesis.ParseAccount(s)
}

// ParseKey extends the textual key forms with bech32 accounts, so
// "account:cap1..." works alongside "account:<hex>".
func ParseKey(s string) (types.Key, error) {
	s = strings.TrimSpace(s)
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		kind, rest, _ = strings.Cut(s, "-")
	}
	if strings.EqualFold(kind, "account") {
		addr, err := genesis.ParseAccount(rest)
		if err != nil {
			return types.Key{}, fmt.Errorf("parse key %q: %w", s, err)
		}
		return types.AccountKey(addr), nil
	}
	return types.ParseKey(s)
}

// SplitPath turns "a/b" into named key steps; empty segments are dropped.
func SplitPath(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "/") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MarshalValue renders a stored value as JSON. Wide integers become decimal
// strings and byte arrays hex.
func MarshalValue(v types.Value) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil, types.Unit:
		return json.RawMessage("null"), nil
	case types.ByteArray:
		return json.Marshal("0x" + hex.EncodeToString(val))
	case types.UInt128:
		return json.Marshal(val.String())
	case types.UInt256:
		return json.Marshal(val.String())
	case types.UInt512:
		return json.Marshal(val.String())
	case types.NamedKey:
		return json.Marshal(struct {
			Name string    `json:"name"`
			Key  types.Key `json:"key"`
		}{val.Name, val.Key})
	case types.CLValue:
		inner, err := val.Value()
		if err != nil {
			return nil, err
		}
		return MarshalValue(inner)
	default:
		return json.Marshal(val)
	}
}
