package autorole

import (
	"context"
)

// Invite is a live invite as reported by the directory.
type Invite struct {
	Code      string
	ChannelID string
	Uses      int
}

type Role struct {
	ID       RoleID
	Name     string
	Position int
}

// SelfMember describes the service's own membership in a community.
type SelfMember struct {
	TopRolePosition int
	Permissions     PermissionSet
}

// Directory is the community platform: invites, roles and the service's own
// standing. Lookups of absent invites return ErrInviteNotFound; calls the
// service has no permission for return ErrForbidden.
type Directory interface {
	ListInvites(ctx context.Context, community string) ([]Invite, error)
	GetInvite(ctx context.Context, community, code string) (*Invite, error)
	ListRoles(ctx context.Context, community string) ([]Role, error)
	// ResolveRole returns nil without error when the role no longer exists.
	ResolveRole(ctx context.Context, community string, id RoleID) (*Role, error)
	GrantRoles(ctx context.Context, community, member string, roles []RoleID, reason string) error
	Self(ctx context.Context, community string) (*SelfMember, error)
}

// Store persists per-community state. Get on an unknown community returns a
// disabled, empty state.
type Store interface {
	Get(ctx context.Context, community string) (*State, error)
	SetEnabled(ctx context.Context, community string, enabled bool) error
	// PutLink writes entry under key. A zero Seq is replaced by the next
	// sequence of the community. The stored entry is returned.
	PutLink(ctx context.Context, community string, key InviteKey, entry LinkEntry) (LinkEntry, error)
	// UpdateLink applies fn to the stored entry atomically. An entry left
	// without roles is deleted, reported by exists=false. A missing entry
	// yields ErrLinkNotFound; an error from fn aborts without writing.
	UpdateLink(ctx context.Context, community string, key InviteKey, fn func(*LinkEntry) error) (entry LinkEntry, exists bool, err error)
	DeleteLinks(ctx context.Context, community string, keys ...InviteKey) error
	Communities(ctx context.Context) ([]string, error)
}

// UsageCache keeps the last observed usage snapshot per community.
// Codes absent from a snapshot read as zero uses.
type UsageCache interface {
	Uses(ctx context.Context, community string) (map[string]int, error)
	Put(ctx context.Context, community string, uses map[string]int) error
}

// Prompt is a yes/no question put to the moderator who issued a command.
type Prompt struct {
	Community string
	Moderator string
	Message   string
}

// Prompter asks a moderator to confirm. Anything other than an explicit yes,
// including a timeout, is a refusal.
type Prompter interface {
	Confirm(ctx context.Context, p Prompt) bool
}
