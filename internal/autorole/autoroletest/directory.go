package autoroletest

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

// GrantCall records one GrantRoles call.
type GrantCall struct {
	Community string
	Member    string
	Roles     []autorole.RoleID
	Reason    string
}

// Directory is a mutable in-memory autorole.Directory for a single community
// setup; the community argument of each call is ignored.
type Directory struct {
	mu      sync.Mutex
	invites map[string]autorole.Invite
	roles   map[autorole.RoleID]autorole.Role
	self    autorole.SelfMember
	grants  []GrantCall

	// ListErr is returned by ListInvites when set.
	ListErr error
	// GrantErr is returned by GrantRoles when set.
	GrantErr error

	listCalls atomic.Int64
}

// NewDirectory returns a directory where the service holds topPosition and
// both manage permissions.
func NewDirectory(topPosition int) *Directory {
	return &Directory{
		invites: make(map[string]autorole.Invite),
		roles:   make(map[autorole.RoleID]autorole.Role),
		self: autorole.SelfMember{
			TopRolePosition: topPosition,
			Permissions:     autorole.NewPermissionSet(autorole.PermManageRoles, autorole.PermManageServer),
		},
	}
}

func (d *Directory) AddRole(id autorole.RoleID, name string, position int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[id] = autorole.Role{ID: id, Name: name, Position: position}
}

func (d *Directory) DeleteRole(id autorole.RoleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.roles, id)
}

// SetInvite creates or updates an invite.
func (d *Directory) SetInvite(code string, uses int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invites[code] = autorole.Invite{Code: code, Uses: uses}
}

func (d *Directory) DeleteInvite(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.invites, code)
}

func (d *Directory) SetPermissions(perms ...autorole.Permission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self.Permissions = autorole.NewPermissionSet(perms...)
}

// Grants returns every GrantRoles call so far.
func (d *Directory) Grants() []GrantCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.grants)
}

// ListCalls counts ListInvites calls that reached the directory.
func (d *Directory) ListCalls() int64 {
	return d.listCalls.Load()
}

func (d *Directory) ListInvites(context.Context, string) ([]autorole.Invite, error) {
	d.listCalls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	if !d.self.Permissions.Has(autorole.PermManageServer) {
		return nil, autorole.ErrForbidden
	}
	out := make([]autorole.Invite, 0, len(d.invites))
	for _, inv := range d.invites {
		out = append(out, inv)
	}
	slices.SortFunc(out, func(a, b autorole.Invite) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	return out, nil
}

func (d *Directory) GetInvite(_ context.Context, _ string, code string) (*autorole.Invite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inv, ok := d.invites[code]
	if !ok {
		return nil, autorole.ErrInviteNotFound
	}
	return &inv, nil
}

func (d *Directory) ListRoles(context.Context, string) ([]autorole.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]autorole.Role, 0, len(d.roles))
	for _, role := range d.roles {
		out = append(out, role)
	}
	slices.SortFunc(out, func(a, b autorole.Role) int { return a.Position - b.Position })
	return out, nil
}

func (d *Directory) ResolveRole(_ context.Context, _ string, id autorole.RoleID) (*autorole.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	role, ok := d.roles[id]
	if !ok {
		return nil, nil
	}
	return &role, nil
}

func (d *Directory) GrantRoles(_ context.Context, community, member string, roles []autorole.RoleID, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.GrantErr != nil {
		return d.GrantErr
	}
	if !d.self.Permissions.Has(autorole.PermManageRoles) {
		return autorole.ErrForbidden
	}
	d.grants = append(d.grants, GrantCall{
		Community: community,
		Member:    member,
		Roles:     slices.Clone(roles),
		Reason:    reason,
	})
	return nil
}

func (d *Directory) Self(context.Context, string) (*autorole.SelfMember, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	self := d.self
	return &self, nil
}

// Prompter answers every prompt with Answer and records the messages.
type Prompter struct {
	mu       sync.Mutex
	Answer   bool
	messages []string
}

func (p *Prompter) Confirm(_ context.Context, prompt autorole.Prompt) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, prompt.Message)
	return p.Answer
}

func (p *Prompter) Messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.messages)
}
