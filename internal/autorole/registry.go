package autorole

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// Registry handles moderator commands that edit the links of a community.
type Registry struct {
	store    Store
	dir      Directory
	prompter Prompter
	log      *logger.Logger
	opts     options
}

func NewRegistry(store Store, dir Directory, prompter Prompter, log *logger.Logger, opts ...Option) *Registry {
	return &Registry{
		store:    store,
		dir:      dir,
		prompter: prompter,
		log:      log.Named("registry"),
		opts:     buildOptions(opts),
	}
}

type AddLinkRequest struct {
	Community string
	Moderator string
	Key       InviteKey
	Role      RoleID
}

type AddLinkResult struct {
	Key InviteKey
	// Roles lists every role now linked to Key, the new one last.
	Roles   []Role
	Created bool
	// Warnings are non-fatal problems the moderator should see.
	Warnings []string
}

// AddLink links req.Role to req.Key. When the key already carries live roles
// the moderator is asked to confirm; stale role ids found along the way are
// dropped in the same write.
func (r *Registry) AddLink(ctx context.Context, req AddLinkRequest) (*AddLinkResult, error) {
	if req.Key.IsZero() {
		return nil, ErrInvalidKey
	}
	log := r.log.WithContext(ctx).With(zap.String("community", req.Community), zap.Stringer("key", req.Key))

	role, err := r.dir.ResolveRole(ctx, req.Community, req.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	if role == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, req.Role)
	}

	self, err := r.dir.Self(ctx, req.Community)
	if err != nil {
		return nil, fmt.Errorf("failed to load own member: %w", err)
	}
	if role.Position >= self.TopRolePosition {
		return nil, fmt.Errorf("%w: %s", ErrHierarchyViolation, role.Name)
	}
	if !self.Permissions.Has(PermManageServer) {
		return nil, fmt.Errorf("%w: %s", ErrPermissionLost, PermManageServer)
	}

	res := &AddLinkResult{Key: req.Key}
	if !self.Permissions.Has(PermManageRoles) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("the %q permission is missing, roles cannot be granted until it is restored", PermManageRoles.String()))
	}

	var live *Invite
	if req.Key.Kind() == KindInvite {
		live, err = r.dir.GetInvite(ctx, req.Community, req.Key.Code())
		if err != nil {
			return nil, fmt.Errorf("failed to look up invite %s: %w", req.Key, err)
		}
	}

	state, err := r.store.Get(ctx, req.Community)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	existing, ok := state.Lookup(req.Key)
	if !ok {
		return r.createLink(ctx, req, role, live, res)
	}

	if existing.Has(role.ID) {
		return nil, ErrDuplicateLink
	}

	known, err := r.roleIndex(ctx, req.Community)
	if err != nil {
		return nil, err
	}
	var current []Role
	var stale []RoleID
	for _, id := range slices.Clone(existing.Roles) {
		linked, ok := known[id]
		if !ok {
			stale = append(stale, id)
			continue
		}
		current = append(current, linked)
	}

	if len(current) > 0 {
		msg := fmt.Sprintf("This invite is already linked to the role(s) %s. "+
			"If you continue, it will give all of them to new members.\n"+
			"Do you want to link this invite to %d roles? (yes/no)",
			joinRoleNames(current), len(current)+1)
		if !r.confirm(ctx, req.Community, req.Moderator, msg) {
			return nil, ErrUserCancelled
		}
	}

	_, _, err = r.store.UpdateLink(ctx, req.Community, req.Key, func(e *LinkEntry) error {
		e.RemoveRoles(stale...)
		if !e.AddRole(role.ID) {
			return ErrDuplicateLink
		}
		return nil
	})
	if errors.Is(err, ErrLinkNotFound) {
		// Removed while the moderator was answering.
		return r.createLink(ctx, req, role, live, res)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update link: %w", err)
	}

	if len(stale) > 0 {
		log.Warn("Dropped deleted roles from link", zap.Int("count", len(stale)))
		r.opts.observer.LinksPruned(PruneStaleRole, len(stale))
	}
	res.Roles = append(current, *role)
	return res, nil
}

func (r *Registry) createLink(ctx context.Context, req AddLinkRequest, role *Role, live *Invite, res *AddLinkResult) (*AddLinkResult, error) {
	entry := LinkEntry{Roles: []RoleID{role.ID}}
	if live != nil {
		entry.Uses = live.Uses
	}
	if _, err := r.store.PutLink(ctx, req.Community, req.Key, entry); err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	res.Created = true
	res.Roles = []Role{*role}
	return res, nil
}

type RemoveLinkRequest struct {
	Community string
	Moderator string
	Key       InviteKey
	// Role limits the removal to one role. Empty removes the whole link.
	Role RoleID
}

type RemoveLinkResult struct {
	Key          InviteKey
	Removed      []RoleID
	EntryDeleted bool
}

// RemoveLink removes a whole link, or a single role of it, after the
// moderator confirms. A link with at most one role is always removed whole.
func (r *Registry) RemoveLink(ctx context.Context, req RemoveLinkRequest) (*RemoveLinkResult, error) {
	state, err := r.store.Get(ctx, req.Community)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	entry, ok := state.Lookup(req.Key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, req.Key)
	}

	known, err := r.roleIndex(ctx, req.Community)
	if err != nil {
		return nil, err
	}

	if req.Role == "" || len(entry.Roles) <= 1 {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("You're about to remove all roles linked to %s.\n", describeKey(req.Key)))
		b.WriteString("List of roles:\n")
		for _, id := range entry.Roles {
			b.WriteString("+ ")
			b.WriteString(roleName(known, id))
			b.WriteString("\n")
		}
		b.WriteString("Proceed? (yes/no)")
		if !r.confirm(ctx, req.Community, req.Moderator, b.String()) {
			return nil, ErrUserCancelled
		}
		if err := r.store.DeleteLinks(ctx, req.Community, req.Key); err != nil {
			return nil, fmt.Errorf("failed to delete link: %w", err)
		}
		return &RemoveLinkResult{Key: req.Key, Removed: entry.Roles, EntryDeleted: true}, nil
	}

	if !entry.Has(req.Role) {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotLinked, req.Role)
	}
	msg := fmt.Sprintf("You're about to unlink the %s role from %s.\nProceed? (yes/no)",
		roleName(known, req.Role), describeKey(req.Key))
	if !r.confirm(ctx, req.Community, req.Moderator, msg) {
		return nil, ErrUserCancelled
	}

	_, exists, err := r.store.UpdateLink(ctx, req.Community, req.Key, func(e *LinkEntry) error {
		if e.RemoveRoles(req.Role) == 0 {
			return ErrRoleNotLinked
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update link: %w", err)
	}
	return &RemoveLinkResult{Key: req.Key, Removed: []RoleID{req.Role}, EntryDeleted: !exists}, nil
}

// LinkView is one link as shown to moderators.
type LinkView struct {
	Key   InviteKey
	Roles []Role
	Uses  int
}

type Listing struct {
	Enabled bool
	Links   []LinkView
}

// ListLinks returns the links of a community in scan order. Links whose
// invite no longer exists are removed from storage and left out.
func (r *Registry) ListLinks(ctx context.Context, community string) (*Listing, error) {
	log := r.log.WithContext(ctx).With(zap.String("community", community))

	state, err := r.store.Get(ctx, community)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	known, err := r.roleIndex(ctx, community)
	if err != nil {
		return nil, err
	}

	listing := &Listing{Enabled: state.Enabled}
	var gone []InviteKey
	for _, link := range state.Links {
		if link.Key.Kind() == KindInvite {
			_, err := r.dir.GetInvite(ctx, community, link.Key.Code())
			if errors.Is(err, ErrInviteNotFound) {
				gone = append(gone, link.Key)
				continue
			}
			if err != nil {
				log.Warn("Failed to check invite", zap.Stringer("key", link.Key), zap.Error(err))
			}
		}

		view := LinkView{Key: link.Key, Uses: link.Entry.Uses}
		for _, id := range link.Entry.Roles {
			if role, ok := known[id]; ok {
				view.Roles = append(view.Roles, role)
			}
		}
		listing.Links = append(listing.Links, view)
	}

	if len(gone) > 0 {
		if err := r.store.DeleteLinks(ctx, community, gone...); err != nil {
			log.Error("Failed to prune deleted invites", zap.Error(err))
		} else {
			log.Info("Pruned links of deleted invites", zap.Int("count", len(gone)))
			r.opts.observer.LinksPruned(PruneInviteGone, len(gone))
		}
	}
	return listing, nil
}

// SetEnabled turns autorole on or off. Turning it on requires the service to
// hold both manage roles and manage server.
func (r *Registry) SetEnabled(ctx context.Context, community string, enabled bool) error {
	if enabled {
		self, err := r.dir.Self(ctx, community)
		if err != nil {
			return fmt.Errorf("failed to load own member: %w", err)
		}
		if missing := self.Permissions.Missing(PermManageRoles, PermManageServer); len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrPermissionLost, joinPermissions(missing))
		}
	}
	if err := r.store.SetEnabled(ctx, community, enabled); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	r.log.InfoContext(ctx, "Autorole toggled", zap.String("community", community), zap.Bool("enabled", enabled))
	return nil
}

func (r *Registry) confirm(ctx context.Context, community, moderator, msg string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.opts.confirmTimeout)
	defer cancel()
	return r.prompter.Confirm(ctx, Prompt{Community: community, Moderator: moderator, Message: msg})
}

func (r *Registry) roleIndex(ctx context.Context, community string) (map[RoleID]Role, error) {
	roles, err := r.dir.ListRoles(ctx, community)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	index := make(map[RoleID]Role, len(roles))
	for _, role := range roles {
		index[role.ID] = role
	}
	return index, nil
}

func roleName(known map[RoleID]Role, id RoleID) string {
	if role, ok := known[id]; ok {
		return role.Name
	}
	return string(id) + " (deleted)"
}

func joinRoleNames(roles []Role) string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.Name
	}
	return strings.Join(names, ", ")
}

func joinPermissions(perms []Permission) string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}

func describeKey(key InviteKey) string {
	switch key.Kind() {
	case KindMain:
		return "the main autorole"
	case KindDefault:
		return "the default autorole"
	default:
		return "the invite " + key.Code()
	}
}
