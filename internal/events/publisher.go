package events

import (
	"context"
	"fmt"
	"time"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	ProduceWithRetry(ctx context.Context, topic string, key, value []byte, maxRetries int) (int32, int64, error)
}

// Publisher writes join events keyed by community, so one community's joins
// stay on one partition in order.
type Publisher struct {
	producer   Producer
	topic      string
	maxRetries int
}

func NewPublisher(producer Producer, topic string, maxRetries int) *Publisher {
	return &Publisher{producer: producer, topic: topic, maxRetries: maxRetries}
}

// Publish stamps a join time and trace id when missing and sends ev.
func (p *Publisher) Publish(ctx context.Context, ev MemberJoinEvent) (MemberJoinEvent, error) {
	if ev.JoinedAt.IsZero() {
		ev.JoinedAt = time.Now().UTC()
	}
	if ev.TraceID == "" {
		ev.TraceID = logger.GetTraceID(logger.EnsureTraceID(ctx))
	}
	data, err := ev.Encode()
	if err != nil {
		return ev, fmt.Errorf("encode join event: %w", err)
	}
	if _, _, err := p.producer.ProduceWithRetry(ctx, p.topic, []byte(ev.CommunityID), data, p.maxRetries); err != nil {
		return ev, fmt.Errorf("publish join event: %w", err)
	}
	return ev, nil
}
