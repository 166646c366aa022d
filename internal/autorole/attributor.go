package autorole

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// JoinEvent announces that a member joined a community.
type JoinEvent struct {
	Community string
	Member    string
	JoinedAt  time.Time
}

// Grant records roles given for one key.
type Grant struct {
	Key   InviteKey
	Roles []RoleID
}

// Attribution is the outcome of one join.
type Attribution struct {
	Disabled bool
	// Invite is the concrete invite the join was attributed to, zero if none.
	Invite InviteKey
	// Fallback is set when the main roles were applied.
	Fallback bool
	Grants   []Grant
	Pruned   []InviteKey
}

// Outcome names the result for metrics.
func (a *Attribution) Outcome() string {
	switch {
	case a.Disabled:
		return OutcomeDisabled
	case !a.Invite.IsZero():
		return OutcomeInvite
	case a.Fallback:
		return OutcomeMain
	default:
		return OutcomeNone
	}
}

// Attributor works out which invite a member joined with and grants the
// linked roles.
type Attributor struct {
	store   Store
	tracker *Tracker
	granter *Granter
	log     *logger.Logger
	opts    options
}

func NewAttributor(store Store, tracker *Tracker, granter *Granter, log *logger.Logger, opts ...Option) *Attributor {
	return &Attributor{
		store:   store,
		tracker: tracker,
		granter: granter,
		log:     log.Named("attributor"),
		opts:    buildOptions(opts),
	}
}

// HandleJoin processes one join. Default roles are granted before the invite
// lookup, so they survive a failed fetch. The first tracked invite, in link
// creation order, whose live usage exceeds its stored baseline wins; with no
// winner the main roles are granted. Links of invites that disappeared are
// pruned.
//
// Errors wrap ErrPermissionLost (autorole was disabled) or ErrTransientFetch
// (attribution abandoned); anything else is unexpected.
func (a *Attributor) HandleJoin(ctx context.Context, ev JoinEvent) (res *Attribution, err error) {
	defer func() {
		a.opts.observer.JoinHandled(outcomeOf(res, err))
	}()

	log := a.log.WithContext(ctx).With(zap.String("community", ev.Community), zap.String("member", ev.Member))
	res = &Attribution{}

	state, err := a.store.Get(ctx, ev.Community)
	if err != nil {
		return res, fmt.Errorf("failed to load state: %w", err)
	}
	if !state.Enabled {
		res.Disabled = true
		return res, nil
	}

	session, err := a.granter.Begin(ctx, ev.Community)
	if err != nil {
		return res, err
	}

	if entry, ok := state.Lookup(DefaultKey); ok {
		if err := a.grant(ctx, session, ev.Member, DefaultKey, entry, res); err != nil {
			return res, err
		}
	}

	invites, err := a.tracker.Live(ctx, ev.Community)
	if errors.Is(err, ErrForbidden) {
		a.granter.Disable(ctx, ev.Community, PermManageServer)
		return res, fmt.Errorf("%w: %s", ErrPermissionLost, PermManageServer)
	}
	if err != nil {
		log.Warn("Could not fetch invites, join left unattributed", zap.Error(err))
		return res, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}

	live := make(map[string]Invite, len(invites))
	for _, inv := range invites {
		live[inv.Code] = inv
	}

	for _, link := range state.Links {
		if link.Key.Kind() != KindInvite {
			continue
		}
		inv, ok := live[link.Key.Code()]
		if !ok {
			res.Pruned = append(res.Pruned, link.Key)
			continue
		}

		if inv.Uses < link.Entry.Uses {
			a.lowerBaseline(ctx, ev.Community, link.Key, inv.Uses)
			continue
		}
		if inv.Uses == link.Entry.Uses {
			continue
		}

		res.Invite = link.Key
		err := a.grant(ctx, session, ev.Member, link.Key, link.Entry, res)
		a.raiseBaseline(ctx, ev.Community, link.Key, inv.Uses)
		if err != nil {
			a.prune(ctx, ev.Community, res)
			return res, err
		}
		break
	}

	a.prune(ctx, ev.Community, res)

	if res.Invite.IsZero() {
		if entry, ok := state.Lookup(MainKey); ok {
			res.Fallback = true
			if err := a.grant(ctx, session, ev.Member, MainKey, entry, res); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// grant applies one entry. Only ErrPermissionLost is returned; other grant
// failures are logged and the join carries on.
func (a *Attributor) grant(ctx context.Context, s *Session, member string, key InviteKey, entry LinkEntry, res *Attribution) error {
	roles, err := a.granter.Grant(ctx, s, member, key, entry)
	if errors.Is(err, ErrPermissionLost) {
		return err
	}
	if err != nil {
		a.log.ErrorContext(ctx, "Failed to grant roles",
			zap.String("community", s.Community), zap.String("member", member),
			zap.Stringer("key", key), zap.Error(err))
		return nil
	}
	if len(roles) > 0 {
		res.Grants = append(res.Grants, Grant{Key: key, Roles: roles})
	}
	return nil
}

func (a *Attributor) raiseBaseline(ctx context.Context, community string, key InviteKey, uses int) {
	a.setUses(ctx, community, key, func(e *LinkEntry) {
		if uses > e.Uses {
			e.Uses = uses
		}
	})
}

// lowerBaseline follows a usage counter that was reset below the stored value.
func (a *Attributor) lowerBaseline(ctx context.Context, community string, key InviteKey, uses int) {
	a.log.DebugContext(ctx, "Usage counter below baseline, resetting",
		zap.String("community", community), zap.Stringer("key", key), zap.Int("uses", uses))
	a.setUses(ctx, community, key, func(e *LinkEntry) {
		if uses < e.Uses {
			e.Uses = uses
		}
	})
}

func (a *Attributor) setUses(ctx context.Context, community string, key InviteKey, fn func(*LinkEntry)) {
	_, _, err := a.store.UpdateLink(ctx, community, key, func(e *LinkEntry) error {
		fn(e)
		return nil
	})
	if err != nil && !errors.Is(err, ErrLinkNotFound) {
		a.log.ErrorContext(ctx, "Failed to save invite usage",
			zap.String("community", community), zap.Stringer("key", key), zap.Error(err))
	}
}

func (a *Attributor) prune(ctx context.Context, community string, res *Attribution) {
	if len(res.Pruned) == 0 {
		return
	}
	if err := a.store.DeleteLinks(ctx, community, res.Pruned...); err != nil {
		a.log.ErrorContext(ctx, "Failed to prune deleted invites", zap.String("community", community), zap.Error(err))
		return
	}
	a.opts.observer.LinksPruned(PruneInviteGone, len(res.Pruned))
}

func outcomeOf(res *Attribution, err error) string {
	switch {
	case errors.Is(err, ErrPermissionLost):
		return OutcomePermissionLost
	case errors.Is(err, ErrTransientFetch):
		return OutcomeFetchFailed
	case err != nil:
		return OutcomeError
	case res == nil:
		return OutcomeNone
	default:
		return res.Outcome()
	}
}
