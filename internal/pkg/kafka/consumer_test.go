package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/Gopher0727/RoleInvite/config"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

func testKafkaConfig(group string) *config.KafkaConfig {
	return &config.KafkaConfig{
		Brokers:       []string{"127.0.0.1:9092"},
		ConsumerGroup: group,
		Topics: config.TopicsConfig{
			MemberJoin: "test.member.join",
			DLQ:        "test.member.join.dlq",
		},
		Producer: config.ProducerConfig{MaxRetries: 3, RetryBackoffMs: 10},
		Consumer: config.ConsumerConfig{MaxRetries: 2, RetryBackoffMs: 1},
	}
}

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func newTestProcessor(t *testing.T, handler MessageHandler) (*processor, *mocks.SyncProducer, *observer.ObservedLogs) {
	t.Helper()
	cfg := testKafkaConfig("unit")
	mock := mocks.NewSyncProducer(t, nil)
	core, logs := observer.New(zap.DebugLevel)
	p := newProcessor(cfg, handler, newProducer(mock, cfg), logger.Wrap(zap.New(core)))
	t.Cleanup(func() { _ = mock.Close() })
	return p, mock, logs
}

func joinMessage() *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "test.member.join",
		Partition: 2,
		Offset:    41,
		Key:       []byte("community-1"),
		Value:     []byte(`{"community_id":"community-1"}`),
	}
}

func TestProcessor_SuccessSkipsDLQ(t *testing.T) {
	var calls atomic.Int32
	p, _, logs := newTestProcessor(t, func(ctx context.Context, m *sarama.ConsumerMessage) error {
		calls.Add(1)
		return nil
	})

	p.process(context.Background(), joinMessage())
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, logs.Len())
}

func TestProcessor_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	p, _, _ := newTestProcessor(t, func(ctx context.Context, m *sarama.ConsumerMessage) error {
		if calls.Add(1) < 3 {
			return errors.New("simulated processing error")
		}
		return nil
	})

	p.process(context.Background(), joinMessage())
	assert.Equal(t, int32(3), calls.Load())
}

func TestProcessor_ExhaustedRetriesGoToDLQ(t *testing.T) {
	var calls atomic.Int32
	p, mock, logs := newTestProcessor(t, func(ctx context.Context, m *sarama.ConsumerMessage) error {
		calls.Add(1)
		return errors.New("directory unavailable")
	})

	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "test.member.join.dlq" {
			return errors.New("wrong topic " + msg.Topic)
		}
		h := headerMap(msg)
		if h[HeaderOriginalTopic] != "test.member.join" || h[HeaderOriginalPartition] != "2" || h[HeaderOriginalOffset] != "41" {
			return errors.New("missing origin headers")
		}
		if h[HeaderError] == "" {
			return errors.New("missing error header")
		}
		return nil
	})

	p.process(context.Background(), joinMessage())
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
	assert.Equal(t, 1, logs.FilterMessage("Message sent to DLQ").Len())
}

func TestProcessor_PermanentErrorSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	p, mock, _ := newTestProcessor(t, func(ctx context.Context, m *sarama.ConsumerMessage) error {
		calls.Add(1)
		return Permanent(errors.New("undecodable"))
	})
	mock.ExpectSendMessageAndSucceed()

	p.process(context.Background(), joinMessage())
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessor_DLQFailureIsLogged(t *testing.T) {
	p, mock, logs := newTestProcessor(t, func(ctx context.Context, m *sarama.ConsumerMessage) error {
		return Permanent(errors.New("undecodable"))
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p.process(context.Background(), joinMessage())
	entries := logs.FilterMessage("Failed to send message to DLQ").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "undecodable", entries[0].ContextMap()["cause"])
}

func TestProcessor_CancelledContextDropsMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, _, logs := newTestProcessor(t, func(ctx context.Context, m *sarama.ConsumerMessage) error {
		cancel()
		return errors.New("interrupted")
	})

	p.process(ctx, joinMessage())
	assert.Zero(t, logs.Len(), "shutdown must not park messages on the DLQ")
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad payload")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}

// 任意失败次数下，处理器要么在重试内成功，要么恰好投递一次 DLQ
func TestProperty_ProcessorRetryBudget(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		failures := rapid.IntRange(0, 6).Draw(rt, "failures")
		maxRetries := rapid.IntRange(0, 3).Draw(rt, "maxRetries")

		cfg := testKafkaConfig("property")
		cfg.Consumer.MaxRetries = maxRetries
		cfg.Consumer.RetryBackoffMs = 0
		mock := mocks.NewSyncProducer(rt, nil)

		var calls int
		handler := func(ctx context.Context, m *sarama.ConsumerMessage) error {
			calls++
			if calls <= failures {
				return errors.New("fail")
			}
			return nil
		}
		wantDLQ := failures > maxRetries
		if wantDLQ {
			mock.ExpectSendMessageAndSucceed()
		}

		p := newProcessor(cfg, handler, newProducer(mock, cfg), logger.NewNop())
		p.process(context.Background(), joinMessage())
		_ = mock.Close()

		if wantDLQ {
			if calls != maxRetries+1 {
				rt.Fatalf("expected %d attempts, got %d", maxRetries+1, calls)
			}
		} else if calls != failures+1 {
			rt.Fatalf("expected %d attempts, got %d", failures+1, calls)
		}
	})
}

// TestConsumer_StartStop requires a running Kafka instance.
func TestConsumer_StartStop(t *testing.T) {
	cfg := testKafkaConfig("test-roleinvite-start-stop")
	handler := func(ctx context.Context, message *sarama.ConsumerMessage) error { return nil }

	consumer, err := NewConsumer(cfg, []string{cfg.Topics.MemberJoin}, handler, logger.NewNop())
	if err != nil {
		t.Skipf("Skipping test: Kafka not available: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, consumer.Start(ctx))
	assert.NoError(t, consumer.Stop())
}

// flakyGroup fails the first Consume calls before any session is set up,
// then sets up a session and holds it until ctx ends.
type flakyGroup struct {
	sarama.ConsumerGroup
	failures int32
	calls    atomic.Int32
	errs     chan error
	closed   chan struct{}
	once     sync.Once
}

func newFlakyGroup(failures int32) *flakyGroup {
	return &flakyGroup{failures: failures, errs: make(chan error), closed: make(chan struct{})}
}

func (g *flakyGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	select {
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	default:
	}
	if g.calls.Add(1) <= g.failures {
		return errors.New("coordinator not available")
	}
	if err := handler.Setup(nil); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-g.closed:
	}
	return handler.Cleanup(nil)
}

func (g *flakyGroup) Errors() <-chan error { return g.errs }

func (g *flakyGroup) Close() error {
	g.once.Do(func() {
		close(g.closed)
		close(g.errs)
	})
	return nil
}

func newTestConsumer(t *testing.T, group sarama.ConsumerGroup) *Consumer {
	t.Helper()
	cfg := testKafkaConfig("unit")
	p := newProcessor(cfg, func(context.Context, *sarama.ConsumerMessage) error { return nil },
		newProducer(mocks.NewSyncProducer(t, nil), cfg), logger.NewNop())
	c := newConsumer(group, p, []string{cfg.Topics.MemberJoin}, logger.NewNop())
	c.retryBackoff = time.Millisecond
	return c
}

func TestConsumer_StartAfterFailedConsume(t *testing.T) {
	group := newFlakyGroup(2)
	c := newTestConsumer(t, group)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, int32(3), group.calls.Load())

	select {
	case <-c.Ready():
	default:
		t.Fatal("ready channel not closed")
	}
	require.NoError(t, c.Stop())
}

func TestConsumer_StartCancelled(t *testing.T) {
	c := newTestConsumer(t, newFlakyGroup(1 << 30))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Start(ctx), context.DeadlineExceeded)
	require.NoError(t, c.Stop())
}

// TestConsumer_RoundTrip requires a running Kafka instance.
func TestConsumer_RoundTrip(t *testing.T) {
	cfg := testKafkaConfig("test-roleinvite-round-trip")

	producer, err := NewProducer(cfg)
	if err != nil {
		t.Skipf("Skipping test: Kafka not available: %v", err)
		return
	}
	defer producer.Close()

	var mu sync.Mutex
	var got []string
	handler := func(ctx context.Context, message *sarama.ConsumerMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(message.Value))
		return nil
	}

	consumer, err := NewConsumer(cfg, []string{cfg.Topics.MemberJoin}, handler, logger.NewNop())
	if err != nil {
		t.Skipf("Skipping test: Kafka not available: %v", err)
		return
	}
	defer consumer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, consumer.Start(ctx))

	_, _, err = producer.Produce(ctx, cfg.Topics.MemberJoin, []byte("c1"), []byte("payload"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 100*time.Millisecond)
}
