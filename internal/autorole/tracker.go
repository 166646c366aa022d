package autorole

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// Tracker fetches live invite usage. Concurrent fetches for the same
// community share one directory call, and every fetch refreshes the usage
// cache.
type Tracker struct {
	dir   Directory
	cache UsageCache
	store Store
	log   *logger.Logger
	opts  options
	group singleflight.Group
}

func NewTracker(dir Directory, cache UsageCache, store Store, log *logger.Logger, opts ...Option) *Tracker {
	return &Tracker{
		dir:   dir,
		cache: cache,
		store: store,
		log:   log.Named("tracker"),
		opts:  buildOptions(opts),
	}
}

// Live returns the current invites of community.
func (t *Tracker) Live(ctx context.Context, community string) ([]Invite, error) {
	v, err, _ := t.group.Do(community, func() (any, error) {
		invites, err := t.dir.ListInvites(ctx, community)
		if err != nil {
			return nil, err
		}
		t.observe(ctx, community, invites)
		return invites, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Invite), nil
}

// Refresh updates the cached snapshot of community.
func (t *Tracker) Refresh(ctx context.Context, community string) error {
	if _, err := t.Live(ctx, community); err != nil {
		return fmt.Errorf("failed to refresh invites of %s: %w", community, err)
	}
	return nil
}

// Run refreshes every known community until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.refreshInterval)
	defer ticker.Stop()

	t.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refreshAll(ctx)
		}
	}
}

func (t *Tracker) refreshAll(ctx context.Context) {
	communities, err := t.store.Communities(ctx)
	if err != nil {
		t.log.Error("Failed to list communities", zap.Error(err))
		return
	}
	for _, community := range communities {
		if ctx.Err() != nil {
			return
		}
		state, err := t.store.Get(ctx, community)
		if err != nil || !state.Enabled {
			continue
		}
		if err := t.Refresh(ctx, community); err != nil {
			t.opts.observer.RefreshFailed()
			t.log.Warn("Invite refresh failed", zap.String("community", community), zap.Error(err))
		}
	}
}

// observe stores the new snapshot and reports counters that went backwards.
func (t *Tracker) observe(ctx context.Context, community string, invites []Invite) {
	log := t.log.WithContext(ctx).With(zap.String("community", community))

	previous, err := t.cache.Uses(ctx, community)
	if err != nil {
		log.Warn("Failed to read usage cache", zap.Error(err))
	}

	current := make(map[string]int, len(invites))
	for _, inv := range invites {
		current[inv.Code] = inv.Uses
		if prev := previous[inv.Code]; inv.Uses < prev {
			log.Warn("Invite usage counter went backwards",
				zap.String("invite", inv.Code), zap.Int("cached", prev), zap.Int("live", inv.Uses))
		}
	}

	if err := t.cache.Put(ctx, community, current); err != nil {
		log.Warn("Failed to write usage cache", zap.Error(err))
	}
}
