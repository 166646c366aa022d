package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
	"github.com/Gopher0727/RoleInvite/internal/autorole/autoroletest"
	"github.com/Gopher0727/RoleInvite/internal/pkg/kafka"
	"github.com/Gopher0727/RoleInvite/internal/utils"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

type fakeJoins struct {
	mu     sync.Mutex
	err    error
	events []autorole.JoinEvent
	traces []string
}

func (f *fakeJoins) HandleJoin(ctx context.Context, ev autorole.JoinEvent) (*autorole.Attribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.traces = append(f.traces, logger.GetTraceID(ctx))
	if f.err != nil {
		return nil, f.err
	}
	return &autorole.Attribution{}, nil
}

// inlinePool runs jobs on the caller's goroutine.
type inlinePool struct{ err error }

func (p inlinePool) Submit(_ context.Context, job func()) error {
	if p.err != nil {
		return p.err
	}
	job()
	return nil
}

func observed() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.Wrap(zap.New(core)), logs
}

func TestDispatcher_HandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("undecodable payload is permanent", func(t *testing.T) {
		joins := &fakeJoins{}
		d := NewDispatcher(joins, inlinePool{}, logger.NewNop())

		err := d.HandleMessage(ctx, &sarama.ConsumerMessage{Value: []byte("{")})
		assert.True(t, kafka.IsPermanent(err))
		assert.ErrorIs(t, err, ErrInvalidEvent)
		assert.Empty(t, joins.events)
	})

	t.Run("stopped pool is retryable", func(t *testing.T) {
		d := NewDispatcher(&fakeJoins{}, inlinePool{err: utils.ErrPoolStopped}, logger.NewNop())

		err := d.HandleMessage(ctx, &sarama.ConsumerMessage{Value: []byte(`{"community_id":"c1","member_id":"m1"}`)})
		assert.ErrorIs(t, err, utils.ErrPoolStopped)
		assert.False(t, kafka.IsPermanent(err))
	})

	t.Run("trace id is carried or created", func(t *testing.T) {
		joins := &fakeJoins{}
		d := NewDispatcher(joins, inlinePool{}, logger.NewNop())

		require.NoError(t, d.HandleMessage(ctx, &sarama.ConsumerMessage{Value: []byte(`{"community_id":"c1","member_id":"m1","trace_id":"abc"}`)}))
		require.NoError(t, d.HandleMessage(ctx, &sarama.ConsumerMessage{Value: []byte(`{"community_id":"c1","member_id":"m2"}`)}))

		require.Len(t, joins.traces, 2)
		assert.Equal(t, "abc", joins.traces[0])
		assert.NotEmpty(t, joins.traces[1])
		assert.Equal(t, "m2", joins.events[1].Member)
	})
}

func TestDispatcher_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		err   error
		msg   string
		level zapcore.Level
	}{
		{fmtErr(autorole.ErrPermissionLost), "Autorole disabled while handling join", zapcore.WarnLevel},
		{fmtErr(autorole.ErrTransientFetch), "Join attribution abandoned", zapcore.WarnLevel},
		{errors.New("boom"), "Unexpected error while handling join", zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			log, logs := observed()
			d := NewDispatcher(&fakeJoins{err: tc.err}, inlinePool{}, log)
			d.Handle(context.Background(), MemberJoinEvent{CommunityID: "c1", MemberID: "m1", TraceID: "t1"})

			entries := logs.FilterMessage(tc.msg).All()
			require.Len(t, entries, 1)
			assert.Equal(t, tc.level, entries[0].Level)
			assert.Equal(t, "c1", entries[0].ContextMap()["community_id"])
			assert.Equal(t, "t1", entries[0].ContextMap()["trace_id"])
		})
	}
}

func fmtErr(sentinel error) error {
	return errors.Join(errors.New("join c1/m1"), sentinel)
}

func TestDispatcher_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := autoroletest.NewStore()
	dir := autoroletest.NewDirectory(10)
	dir.AddRole("r-member", "Member", 1)
	dir.SetInvite("abc", 1)
	log := logger.NewNop()

	_, err := store.PutLink(ctx, "c1", autorole.InviteCode("abc"), autorole.LinkEntry{Roles: []autorole.RoleID{"r-member"}})
	require.NoError(t, err)
	require.NoError(t, store.SetEnabled(ctx, "c1", true))

	tracker := autorole.NewTracker(dir, autoroletest.NewUsageCache(), store, log)
	attributor := autorole.NewAttributor(store, tracker, autorole.NewGranter(store, dir, log), log)

	pool := utils.NewWorkerPool(2, 4, log)
	pool.Start()
	d := NewDispatcher(attributor, pool, log)

	require.NoError(t, d.HandleMessage(ctx, &sarama.ConsumerMessage{Value: []byte(`{"community_id":"c1","member_id":"m1"}`)}))
	pool.Stop()

	grants := dir.Grants()
	require.Len(t, grants, 1)
	assert.Equal(t, "m1", grants[0].Member)
	assert.Equal(t, "Roleinvite autorole. Joined with abc", grants[0].Reason)
}
