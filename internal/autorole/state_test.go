package autorole_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

func TestLinkEntry_AddRemove(t *testing.T) {
	var e autorole.LinkEntry

	assert.True(t, e.AddRole("a"))
	assert.True(t, e.AddRole("b"))
	assert.False(t, e.AddRole("a"))
	assert.Equal(t, roles("a", "b"), e.Roles)

	assert.Equal(t, 1, e.RemoveRoles("a", "missing"))
	assert.Equal(t, roles("b"), e.Roles)
	assert.Equal(t, 1, e.RemoveRoles("b"))
	assert.True(t, e.Empty())
}

func TestLinkEntry_CloneIsIndependent(t *testing.T) {
	e := autorole.LinkEntry{Roles: roles("a")}
	c := e.Clone()
	c.AddRole("b")

	assert.Equal(t, roles("a"), e.Roles)
}

func TestSortLinks(t *testing.T) {
	links := []autorole.Link{
		{Key: autorole.InviteCode("z"), Entry: autorole.LinkEntry{Seq: 3}},
		{Key: autorole.MainKey, Entry: autorole.LinkEntry{Seq: 1}},
		{Key: autorole.InviteCode("a"), Entry: autorole.LinkEntry{Seq: 2}},
	}
	autorole.SortLinks(links)

	assert.Equal(t, autorole.MainKey, links[0].Key)
	assert.Equal(t, autorole.InviteCode("a"), links[1].Key)
	assert.Equal(t, autorole.InviteCode("z"), links[2].Key)
}

func TestProperty_RolesStayUnique(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("adding roles never creates duplicates", prop.ForAll(
		func(ids []int) bool {
			var e autorole.LinkEntry
			for _, id := range ids {
				e.AddRole(autorole.RoleID(rune('a' + id)))
			}
			seen := map[autorole.RoleID]bool{}
			for _, id := range e.Roles {
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.Property("removing a role leaves no trace of it", prop.ForAll(
		func(ids []int, drop int) bool {
			var e autorole.LinkEntry
			for _, id := range ids {
				e.AddRole(autorole.RoleID(rune('a' + id)))
			}
			target := autorole.RoleID(rune('a' + drop))
			had := e.Has(target)
			n := e.RemoveRoles(target)
			return !e.Has(target) && (n == 1) == had
		},
		gen.SliceOf(gen.IntRange(0, 9)),
		gen.IntRange(0, 9),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
