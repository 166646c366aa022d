package autorole

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Permission is a bit index in a community permission mask.
type Permission uint

const (
	PermAdministrator Permission = 3
	PermManageServer  Permission = 5
	PermManageRoles   Permission = 28
)

func (p Permission) String() string {
	switch p {
	case PermAdministrator:
		return "administrator"
	case PermManageServer:
		return "manage server"
	case PermManageRoles:
		return "manage roles"
	default:
		return fmt.Sprintf("permission(%d)", uint(p))
	}
}

// PermissionSet is an immutable set of permissions.
// Administrator implies every other permission.
type PermissionSet struct {
	bits *bitset.BitSet
}

func NewPermissionSet(perms ...Permission) PermissionSet {
	b := bitset.New(64)
	for _, p := range perms {
		b.Set(uint(p))
	}
	return PermissionSet{bits: b}
}

// PermissionSetFromMask decodes a 64-bit permission mask.
func PermissionSetFromMask(mask uint64) PermissionSet {
	return PermissionSet{bits: bitset.From([]uint64{mask})}
}

func (s PermissionSet) test(p Permission) bool {
	return s.bits != nil && s.bits.Test(uint(p))
}

func (s PermissionSet) Has(p Permission) bool {
	return s.test(PermAdministrator) || s.test(p)
}

// Missing lists the permissions of perms not held, in argument order.
func (s PermissionSet) Missing(perms ...Permission) []Permission {
	var missing []Permission
	for _, p := range perms {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Mask encodes the set back into a 64-bit mask.
func (s PermissionSet) Mask() uint64 {
	if s.bits == nil {
		return 0
	}
	var mask uint64
	for i, ok := s.bits.NextSet(0); ok && i < 64; i, ok = s.bits.NextSet(i + 1) {
		mask |= 1 << i
	}
	return mask
}
