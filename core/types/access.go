package types

import "strings"

// AccessRights is the permission bit-set attached to a capability.
type AccessRights uint8

const (
	AccessNone AccessRights = 0
	AccessRead AccessRights = 1 << (iota - 1)
	AccessWrite
	AccessAdd

	AccessReadWrite    = AccessRead | AccessWrite
	AccessReadAdd      = AccessRead | AccessAdd
	AccessAddWrite     = AccessAdd | AccessWrite
	AccessReadAddWrite = AccessRead | AccessAdd | AccessWrite

	accessMask = AccessReadAddWrite
)

// Valid reports whether only defined bits are set.
func (r AccessRights) Valid() bool { return r&^accessMask == 0 }

func (r AccessRights) IsReadable() bool  { return r&AccessRead != 0 }
func (r AccessRights) IsWriteable() bool { return r&AccessWrite != 0 }
func (r AccessRights) IsAddable() bool   { return r&AccessAdd != 0 }

// Contains reports whether every right in other is also in r.
func (r AccessRights) Contains(other AccessRights) bool { return r&other == other }

// Union returns the rights held by either set.
func (r AccessRights) Union(other AccessRights) AccessRights { return r | other }

func (r AccessRights) String() string {
	if r == AccessNone {
		return "NONE"
	}
	parts := make([]string, 0, 3)
	if r.IsReadable() {
		parts = append(parts, "READ")
	}
	if r.IsAddable() {
		parts = append(parts, "ADD")
	}
	if r.IsWriteable() {
		parts = append(parts, "WRITE")
	}
	if !r.Valid() {
		parts = append(parts, "INVALID")
	}
	return strings.Join(parts, "_")
}
