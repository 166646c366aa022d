package autorole_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
	"github.com/Gopher0727/RoleInvite/internal/autorole/autoroletest"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

const community = "c1"

type recorder struct {
	mu       sync.Mutex
	outcomes []string
	granted  map[autorole.KeyKind]int
	pruned   map[string]int
	failures int
}

func newRecorder() *recorder {
	return &recorder{granted: map[autorole.KeyKind]int{}, pruned: map[string]int{}}
}

func (r *recorder) JoinHandled(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorder) RolesGranted(kind autorole.KeyKind, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted[kind] += n
}

func (r *recorder) LinksPruned(reason string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned[reason] += n
}

func (r *recorder) RefreshFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

type fixture struct {
	store    *autoroletest.Store
	cache    *autoroletest.UsageCache
	dir      *autoroletest.Directory
	prompter *autoroletest.Prompter
	rec      *recorder
	logs     *observer.ObservedLogs

	registry   *autorole.Registry
	tracker    *autorole.Tracker
	granter    *autorole.Granter
	attributor *autorole.Attributor
}

// newFixture builds an engine over in-memory ports. The service's top role
// sits at position 10 and it holds both manage permissions.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.Wrap(zap.New(core))

	f := &fixture{
		store:    autoroletest.NewStore(),
		cache:    autoroletest.NewUsageCache(),
		dir:      autoroletest.NewDirectory(10),
		prompter: &autoroletest.Prompter{Answer: true},
		rec:      newRecorder(),
		logs:     logs,
	}
	f.dir.AddRole("r-member", "Member", 1)
	f.dir.AddRole("r-guest", "Guest", 2)
	f.dir.AddRole("r-vip", "VIP", 3)
	f.dir.AddRole("r-admin", "Admin", 20)

	opts := []autorole.Option{autorole.WithObserver(f.rec)}
	f.registry = autorole.NewRegistry(f.store, f.dir, f.prompter, log, opts...)
	f.tracker = autorole.NewTracker(f.dir, f.cache, f.store, log, opts...)
	f.granter = autorole.NewGranter(f.store, f.dir, log, opts...)
	f.attributor = autorole.NewAttributor(f.store, f.tracker, f.granter, log, opts...)
	return f
}

func (f *fixture) link(t *testing.T, key autorole.InviteKey, uses int, roles ...autorole.RoleID) {
	t.Helper()
	_, err := f.store.PutLink(context.Background(), community, key, autorole.LinkEntry{Roles: roles, Uses: uses})
	require.NoError(t, err)
}

func (f *fixture) enable(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.SetEnabled(context.Background(), community, true))
}

func (f *fixture) state(t *testing.T) *autorole.State {
	t.Helper()
	state, err := f.store.Get(context.Background(), community)
	require.NoError(t, err)
	return state
}

func (f *fixture) entry(t *testing.T, key autorole.InviteKey) (autorole.LinkEntry, bool) {
	t.Helper()
	return f.state(t).Lookup(key)
}

func roles(ids ...autorole.RoleID) []autorole.RoleID { return ids }
