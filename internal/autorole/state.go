package autorole

import (
	"slices"
)

// RoleID identifies a role of a community.
type RoleID string

// LinkEntry is the role bundle bound to one key.
type LinkEntry struct {
	// Roles holds unique ids in insertion order.
	Roles []RoleID `json:"roles"`
	// Uses is the last observed usage count. Only meaningful for concrete invites.
	Uses int `json:"uses,omitempty"`
	// Seq orders entries by creation. Assigned by the store.
	Seq int64 `json:"seq"`
}

func (e LinkEntry) Has(id RoleID) bool {
	return slices.Contains(e.Roles, id)
}

func (e LinkEntry) Empty() bool {
	return len(e.Roles) == 0
}

func (e LinkEntry) Clone() LinkEntry {
	e.Roles = slices.Clone(e.Roles)
	return e
}

// AddRole appends id unless it is already linked.
func (e *LinkEntry) AddRole(id RoleID) bool {
	if e.Has(id) {
		return false
	}
	e.Roles = append(e.Roles, id)
	return true
}

// RemoveRoles drops every listed id and reports how many were present.
func (e *LinkEntry) RemoveRoles(ids ...RoleID) int {
	before := len(e.Roles)
	e.Roles = slices.DeleteFunc(e.Roles, func(id RoleID) bool {
		return slices.Contains(ids, id)
	})
	return before - len(e.Roles)
}

// Link pairs a key with its entry.
type Link struct {
	Key   InviteKey
	Entry LinkEntry
}

// State is the autorole state of one community. Links are ordered by
// creation sequence, which is the order joins scan them in.
type State struct {
	Enabled bool
	Links   []Link
}

func (s *State) Lookup(key InviteKey) (LinkEntry, bool) {
	for _, l := range s.Links {
		if l.Key == key {
			return l.Entry, true
		}
	}
	return LinkEntry{}, false
}

// SortLinks orders links by Seq, breaking ties on the storage field.
func SortLinks(links []Link) {
	slices.SortStableFunc(links, func(a, b Link) int {
		switch {
		case a.Entry.Seq < b.Entry.Seq:
			return -1
		case a.Entry.Seq > b.Entry.Seq:
			return 1
		}
		switch {
		case a.Key.Field() < b.Key.Field():
			return -1
		case a.Key.Field() > b.Key.Field():
			return 1
		}
		return 0
	})
}
