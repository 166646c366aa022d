package events

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
	"github.com/Gopher0727/RoleInvite/internal/pkg/kafka"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// JoinHandler is satisfied by *autorole.Attributor.
type JoinHandler interface {
	HandleJoin(ctx context.Context, ev autorole.JoinEvent) (*autorole.Attribution, error)
}

// Submitter is satisfied by *utils.WorkerPool.
type Submitter interface {
	Submit(ctx context.Context, job func()) error
}

// Dispatcher turns consumed messages into one worker pool task per join.
type Dispatcher struct {
	joins JoinHandler
	pool  Submitter
	log   *logger.Logger
	// base detaches join tasks from the consumer session, which is cancelled
	// on rebalance while queued joins must still run.
	base context.Context
}

func NewDispatcher(joins JoinHandler, pool Submitter, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		joins: joins,
		pool:  pool,
		log:   log.Named("dispatcher"),
		base:  context.Background(),
	}
}

// HandleMessage is a kafka.MessageHandler. A payload that cannot be decoded
// is a permanent failure; a full or stopped pool is retried by the consumer.
func (d *Dispatcher) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	ev, err := Decode(message.Value)
	if err != nil {
		return kafka.Permanent(err)
	}
	return d.Dispatch(ctx, ev)
}

// Dispatch queues ev; ctx only bounds the wait for a free slot.
func (d *Dispatcher) Dispatch(ctx context.Context, ev MemberJoinEvent) error {
	return d.pool.Submit(ctx, func() {
		d.Handle(d.base, ev)
	})
}

// Handle runs one join under its trace id and logs the result. Join errors
// never escape: they are classified and logged here.
func (d *Dispatcher) Handle(ctx context.Context, ev MemberJoinEvent) {
	if ev.TraceID != "" {
		ctx = logger.WithTraceID(ctx, ev.TraceID)
	} else {
		ctx = logger.EnsureTraceID(ctx)
	}
	log := d.log.WithContext(ctx).WithFields(
		zap.String("community_id", ev.CommunityID),
		zap.String("member_id", ev.MemberID),
	)

	res, err := d.joins.HandleJoin(ctx, ev.JoinEvent())
	switch {
	case err == nil:
		log.Debug("Join handled", zap.String("outcome", res.Outcome()), zap.Int("grants", len(res.Grants)))
	case errors.Is(err, autorole.ErrPermissionLost):
		log.Warn("Autorole disabled while handling join", zap.Error(err))
	case errors.Is(err, autorole.ErrTransientFetch):
		log.Warn("Join attribution abandoned", zap.Error(err))
	default:
		log.Error("Unexpected error while handling join", zap.Error(err))
	}
}
