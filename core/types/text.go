package types

import (
	"fmt"
	"strings"
)

// Text forms are used by the CLI and by JSON dumps; they are not part of the
// canonical encoding.

func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (u URef) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *URef) UnmarshalText(text []byte) error {
	key, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	parsed, ok := key.AsURef()
	if !ok {
		return fmt.Errorf("parse uref %q: not a uref", text)
	}
	*u = parsed
	return nil
}

func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

var rightsByName = map[string]AccessRights{
	"NONE":           AccessNone,
	"READ":           AccessRead,
	"WRITE":          AccessWrite,
	"ADD":            AccessAdd,
	"READ_WRITE":     AccessReadWrite,
	"READ_ADD":       AccessReadAdd,
	"ADD_WRITE":      AccessAddWrite,
	"READ_ADD_WRITE": AccessReadAddWrite,
}

// ParseAccessRights accepts the names produced by AccessRights.String.
func ParseAccessRights(s string) (AccessRights, error) {
	rights, ok := rightsByName[strings.ToUpper(s)]
	if !ok {
		return AccessNone, fmt.Errorf("parse access rights: unknown %q", s)
	}
	return rights, nil
}

// ParseKey reads the textual key forms "account-<hex>", "hash-<hex>" and
// "uref-<hex>-<rights>". A colon may be used instead of the first dash, and a
// uref without rights is parsed with none.
func ParseKey(s string) (Key, error) {
	kind, rest, ok := strings.Cut(s, "-")
	if !ok {
		kind, rest, ok = strings.Cut(s, ":")
	}
	if !ok {
		return Key{}, fmt.Errorf("parse key %q: missing variant", s)
	}
	switch strings.ToLower(kind) {
	case "account":
		addr, err := ParseAddress(rest)
		if err != nil {
			return Key{}, fmt.Errorf("parse key %q: %w", s, err)
		}
		return AccountKey(addr), nil
	case "hash":
		addr, err := ParseAddress(rest)
		if err != nil {
			return Key{}, fmt.Errorf("parse key %q: %w", s, err)
		}
		return HashKey(addr), nil
	case "uref":
		hexAddr, rightsName, _ := strings.Cut(rest, "-")
		addr, err := ParseAddress(hexAddr)
		if err != nil {
			return Key{}, fmt.Errorf("parse key %q: %w", s, err)
		}
		rights := AccessNone
		if rightsName != "" {
			if rights, err = ParseAccessRights(rightsName); err != nil {
				return Key{}, fmt.Errorf("parse key %q: %w", s, err)
			}
		}
		return URefKey(NewURef(addr, rights)), nil
	default:
		return Key{}, fmt.Errorf("parse key %q: unknown variant %q", s, kind)
	}
}
