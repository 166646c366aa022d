package autorole

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// GrantReason is the audit reason attached to roles granted for key.
func GrantReason(key InviteKey) string {
	switch key.Kind() {
	case KindDefault:
		return "Roleinvite autorole. Default roles given."
	case KindMain:
		return "Roleinvite autorole. Joined with an unknown invite, main roles given."
	default:
		return "Roleinvite autorole. Joined with " + key.Code()
	}
}

// Granter applies link entries to joining members.
type Granter struct {
	store Store
	dir   Directory
	log   *logger.Logger
	opts  options
}

func NewGranter(store Store, dir Directory, log *logger.Logger, opts ...Option) *Granter {
	return &Granter{
		store: store,
		dir:   dir,
		log:   log.Named("granter"),
		opts:  buildOptions(opts),
	}
}

// Session holds the role snapshot one join is evaluated against.
type Session struct {
	Community string
	self      SelfMember
	roles     map[RoleID]Role
}

// Begin loads the service's standing in community. Without manage roles
// autorole is disabled and ErrPermissionLost returned.
func (g *Granter) Begin(ctx context.Context, community string) (*Session, error) {
	self, err := g.dir.Self(ctx, community)
	if err != nil {
		return nil, fmt.Errorf("failed to load own member: %w", err)
	}
	if !self.Permissions.Has(PermManageRoles) {
		g.Disable(ctx, community, PermManageRoles)
		return nil, fmt.Errorf("%w: %s", ErrPermissionLost, PermManageRoles)
	}

	roles, err := g.dir.ListRoles(ctx, community)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	s := &Session{Community: community, self: *self, roles: make(map[RoleID]Role, len(roles))}
	for _, role := range roles {
		s.roles[role.ID] = role
	}
	return s, nil
}

// Disable turns autorole off after the service lost perm.
func (g *Granter) Disable(ctx context.Context, community string, perm Permission) {
	log := g.log.WithContext(ctx).With(zap.String("community", community))
	if err := g.store.SetEnabled(ctx, community, false); err != nil {
		log.Error("Failed to disable autorole", zap.Error(err))
		return
	}
	log.Warn("Permission lost, autorole disabled", zap.Stringer("permission", perm))
}

// Grant gives member the roles of entry. Roles that no longer exist or sit
// at or above the service's top role are removed from the stored entry
// first; an entry left empty is deleted and nothing is granted.
func (g *Granter) Grant(ctx context.Context, s *Session, member string, key InviteKey, entry LinkEntry) ([]RoleID, error) {
	log := g.log.WithContext(ctx).With(
		zap.String("community", s.Community),
		zap.String("member", member),
		zap.Stringer("key", key),
	)

	var grant, missing, above []RoleID
	for _, id := range entry.Roles {
		role, ok := s.roles[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case role.Position >= s.self.TopRolePosition:
			above = append(above, id)
		default:
			grant = append(grant, id)
		}
	}

	if len(missing)+len(above) > 0 {
		if len(missing) > 0 {
			log.Warn("Linked roles no longer exist, removing them", zap.Any("roles", missing))
			g.opts.observer.LinksPruned(PruneStaleRole, len(missing))
		}
		if len(above) > 0 {
			log.Warn("Linked roles are above the service's top role, removing them", zap.Any("roles", above))
			g.opts.observer.LinksPruned(PruneAboveTop, len(above))
		}
		drop := append(missing, above...)
		_, exists, err := g.store.UpdateLink(ctx, s.Community, key, func(e *LinkEntry) error {
			e.RemoveRoles(drop...)
			return nil
		})
		switch {
		case err != nil && !errors.Is(err, ErrLinkNotFound):
			log.Error("Failed to save pruned link", zap.Error(err))
		case err == nil && !exists:
			log.Warn("Link removed because none of its roles can be granted")
		}
	}

	if len(grant) == 0 {
		return nil, nil
	}

	if err := g.dir.GrantRoles(ctx, s.Community, member, grant, GrantReason(key)); err != nil {
		if errors.Is(err, ErrForbidden) {
			g.Disable(ctx, s.Community, PermManageRoles)
			return nil, fmt.Errorf("%w: %s", ErrPermissionLost, PermManageRoles)
		}
		return nil, fmt.Errorf("failed to grant roles: %w", err)
	}
	g.opts.observer.RolesGranted(key.Kind(), len(grant))
	log.Debug("Roles granted", zap.Any("roles", grant))
	return grant, nil
}
