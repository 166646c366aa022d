package autorole_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

func addReq(key autorole.InviteKey, role autorole.RoleID) autorole.AddLinkRequest {
	return autorole.AddLinkRequest{Community: community, Moderator: "mod", Key: key, Role: role}
}

func TestRegistry_AddLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a new link with live usage as baseline", func(t *testing.T) {
		f := newFixture(t)
		f.dir.SetInvite("abc", 5)

		res, err := f.registry.AddLink(ctx, addReq(autorole.InviteCode("abc"), "r-member"))
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Empty(t, res.Warnings)
		require.Len(t, res.Roles, 1)
		assert.Equal(t, "Member", res.Roles[0].Name)

		entry, ok := f.entry(t, autorole.InviteCode("abc"))
		require.True(t, ok)
		assert.Equal(t, roles("r-member"), entry.Roles)
		assert.Equal(t, 5, entry.Uses)
		assert.Empty(t, f.prompter.Messages())
	})

	t.Run("sentinels need no invite", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-guest"))
		require.NoError(t, err)
		_, err = f.registry.AddLink(ctx, addReq(autorole.DefaultKey, "r-member"))
		require.NoError(t, err)

		state := f.state(t)
		require.Len(t, state.Links, 2)
		assert.Equal(t, autorole.MainKey, state.Links[0].Key)
		assert.Equal(t, autorole.DefaultKey, state.Links[1].Key)
	})

	t.Run("role above the service is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.dir.SetInvite("abc", 0)

		_, err := f.registry.AddLink(ctx, addReq(autorole.InviteCode("abc"), "r-admin"))
		assert.ErrorIs(t, err, autorole.ErrHierarchyViolation)
		assert.Empty(t, f.state(t).Links)
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-nope"))
		assert.ErrorIs(t, err, autorole.ErrRoleNotFound)
		assert.ErrorIs(t, err, autorole.ErrNotFound)
	})

	t.Run("unknown invite", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.registry.AddLink(ctx, addReq(autorole.InviteCode("gone"), "r-member"))
		assert.ErrorIs(t, err, autorole.ErrInviteNotFound)
		assert.Empty(t, f.state(t).Links)
	})

	t.Run("manage server is required", func(t *testing.T) {
		f := newFixture(t)
		f.dir.SetPermissions(autorole.PermManageRoles)

		_, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-member"))
		assert.ErrorIs(t, err, autorole.ErrPermissionLost)
	})

	t.Run("missing manage roles only warns", func(t *testing.T) {
		f := newFixture(t)
		f.dir.SetPermissions(autorole.PermManageServer)

		res, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-member"))
		require.NoError(t, err)
		assert.Len(t, res.Warnings, 1)
		_, ok := f.entry(t, autorole.MainKey)
		assert.True(t, ok)
	})

	t.Run("duplicate role leaves state untouched", func(t *testing.T) {
		f := newFixture(t)
		f.link(t, autorole.MainKey, 0, "r-member")

		_, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-member"))
		assert.ErrorIs(t, err, autorole.ErrDuplicateLink)
		assert.Empty(t, f.prompter.Messages())
		entry, _ := f.entry(t, autorole.MainKey)
		assert.Equal(t, roles("r-member"), entry.Roles)
	})

	t.Run("appending asks for confirmation", func(t *testing.T) {
		f := newFixture(t)
		f.dir.SetInvite("abc", 7)
		f.link(t, autorole.InviteCode("abc"), 7, "r-member")

		res, err := f.registry.AddLink(ctx, addReq(autorole.InviteCode("abc"), "r-guest"))
		require.NoError(t, err)
		assert.False(t, res.Created)
		require.Len(t, res.Roles, 2)

		msgs := f.prompter.Messages()
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "Member")
		assert.Contains(t, msgs[0], "2 roles")

		entry, _ := f.entry(t, autorole.InviteCode("abc"))
		assert.Equal(t, roles("r-member", "r-guest"), entry.Roles)
		assert.Equal(t, 7, entry.Uses)
	})

	t.Run("declined confirmation changes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.prompter.Answer = false
		f.link(t, autorole.MainKey, 0, "r-member")

		_, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-guest"))
		assert.ErrorIs(t, err, autorole.ErrUserCancelled)
		entry, _ := f.entry(t, autorole.MainKey)
		assert.Equal(t, roles("r-member"), entry.Roles)
	})

	t.Run("stale roles are dropped with the append", func(t *testing.T) {
		f := newFixture(t)
		f.link(t, autorole.MainKey, 0, "r-member", "r-guest")
		f.dir.DeleteRole("r-member")

		res, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-vip"))
		require.NoError(t, err)
		require.Len(t, res.Roles, 2)
		assert.Equal(t, "Guest", res.Roles[0].Name)

		entry, _ := f.entry(t, autorole.MainKey)
		assert.Equal(t, roles("r-guest", "r-vip"), entry.Roles)
		assert.Equal(t, 1, f.rec.pruned[autorole.PruneStaleRole])
	})

	t.Run("only stale roles skips the prompt", func(t *testing.T) {
		f := newFixture(t)
		f.prompter.Answer = false
		f.link(t, autorole.MainKey, 0, "r-member")
		f.dir.DeleteRole("r-member")

		_, err := f.registry.AddLink(ctx, addReq(autorole.MainKey, "r-guest"))
		require.NoError(t, err)
		assert.Empty(t, f.prompter.Messages())

		entry, _ := f.entry(t, autorole.MainKey)
		assert.Equal(t, roles("r-guest"), entry.Roles)
	})
}

func TestRegistry_RemoveLink(t *testing.T) {
	ctx := context.Background()
	req := func(key autorole.InviteKey, role autorole.RoleID) autorole.RemoveLinkRequest {
		return autorole.RemoveLinkRequest{Community: community, Moderator: "mod", Key: key, Role: role}
	}

	t.Run("unknown key", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.registry.RemoveLink(ctx, req(autorole.InviteCode("abc"), ""))
		assert.ErrorIs(t, err, autorole.ErrNotFound)
	})

	t.Run("whole link", func(t *testing.T) {
		f := newFixture(t)
		f.link(t, autorole.DefaultKey, 0, "r-member", "r-guest")

		res, err := f.registry.RemoveLink(ctx, req(autorole.DefaultKey, ""))
		require.NoError(t, err)
		assert.True(t, res.EntryDeleted)
		assert.Equal(t, roles("r-member", "r-guest"), res.Removed)

		msgs := f.prompter.Messages()
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "default autorole")
		assert.Contains(t, msgs[0], "+ Guest")

		_, ok := f.entry(t, autorole.DefaultKey)
		assert.False(t, ok)
	})

	t.Run("single role", func(t *testing.T) {
		f := newFixture(t)
		f.link(t, autorole.MainKey, 0, "r-member", "r-guest")

		res, err := f.registry.RemoveLink(ctx, req(autorole.MainKey, "r-member"))
		require.NoError(t, err)
		assert.False(t, res.EntryDeleted)

		entry, ok := f.entry(t, autorole.MainKey)
		require.True(t, ok)
		assert.Equal(t, roles("r-guest"), entry.Roles)
	})

	t.Run("role given on a single-role link removes the link", func(t *testing.T) {
		f := newFixture(t)
		f.link(t, autorole.MainKey, 0, "r-member")

		res, err := f.registry.RemoveLink(ctx, req(autorole.MainKey, "r-member"))
		require.NoError(t, err)
		assert.True(t, res.EntryDeleted)
		_, ok := f.entry(t, autorole.MainKey)
		assert.False(t, ok)
	})

	t.Run("role not linked", func(t *testing.T) {
		f := newFixture(t)
		f.link(t, autorole.MainKey, 0, "r-member", "r-guest")

		_, err := f.registry.RemoveLink(ctx, req(autorole.MainKey, "r-vip"))
		assert.ErrorIs(t, err, autorole.ErrRoleNotLinked)
		assert.Empty(t, f.prompter.Messages())
	})

	t.Run("declined", func(t *testing.T) {
		f := newFixture(t)
		f.prompter.Answer = false
		f.link(t, autorole.MainKey, 0, "r-member", "r-guest")

		_, err := f.registry.RemoveLink(ctx, req(autorole.MainKey, "r-member"))
		assert.ErrorIs(t, err, autorole.ErrUserCancelled)
		entry, _ := f.entry(t, autorole.MainKey)
		assert.Len(t, entry.Roles, 2)
	})
}

func TestRegistry_ListLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enable(t)
	f.dir.SetInvite("abc", 3)
	f.link(t, autorole.InviteCode("abc"), 3, "r-member", "r-ghost")
	f.link(t, autorole.InviteCode("gone"), 1, "r-guest")
	f.link(t, autorole.MainKey, 0, "r-vip")

	listing, err := f.registry.ListLinks(ctx, community)
	require.NoError(t, err)
	assert.True(t, listing.Enabled)
	require.Len(t, listing.Links, 2)

	assert.Equal(t, autorole.InviteCode("abc"), listing.Links[0].Key)
	assert.Equal(t, 3, listing.Links[0].Uses)
	require.Len(t, listing.Links[0].Roles, 1)
	assert.Equal(t, "Member", listing.Links[0].Roles[0].Name)
	assert.Equal(t, autorole.MainKey, listing.Links[1].Key)

	_, ok := f.entry(t, autorole.InviteCode("gone"))
	assert.False(t, ok, "deleted invite must be pruned from storage")
	assert.Equal(t, 1, f.rec.pruned[autorole.PruneInviteGone])
}

func TestRegistry_SetEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("enable with both permissions", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.SetEnabled(ctx, community, true))
		assert.True(t, f.state(t).Enabled)
	})

	t.Run("enable without manage roles", func(t *testing.T) {
		f := newFixture(t)
		f.dir.SetPermissions(autorole.PermManageServer)

		err := f.registry.SetEnabled(ctx, community, true)
		assert.ErrorIs(t, err, autorole.ErrPermissionLost)
		assert.ErrorContains(t, err, "manage roles")
		assert.False(t, f.state(t).Enabled)
	})

	t.Run("disable is always allowed", func(t *testing.T) {
		f := newFixture(t)
		f.enable(t)
		f.dir.SetPermissions()

		require.NoError(t, f.registry.SetEnabled(ctx, community, false))
		assert.False(t, f.state(t).Enabled)
	})
}
