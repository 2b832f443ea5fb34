package genesis

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"

	"capstore/core/types"
)

// AccountHRP is the human readable part of bech32 account identifiers.
const AccountHRP = "cap"

// ParseBech32Account decodes a bech32 account identifier.
func ParseBech32Account(addr string) (types.Address, error) {
	var out types.Address
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if hrp != AccountHRP {
		return out, fmt.Errorf("decode bech32 account: unsupported hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("decode bech32 account: invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// EncodeBech32Account renders addr with AccountHRP.
func EncodeBech32Account(addr types.Address) (string, error) {
	data, err := bech32.ConvertBits(addr[:], 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(AccountHRP, data)
}

// ParseAccount accepts either a bech32 identifier or 64 hex digits with an
// optional 0x prefix.
func ParseAccount(s string) (types.Address, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), AccountHRP+"1") {
		return ParseBech32Account(s)
	}
	return types.ParseAddress(strings.TrimPrefix(s, "0x"))
}
