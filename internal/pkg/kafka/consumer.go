package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/RoleInvite/config"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// DLQ message headers.
const (
	HeaderError             = "x-error"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
)

// MessageHandler processes one consumed message.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to
// the dead letter queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer reads from a consumer group and hands each message to a
// MessageHandler. Failed messages are retried, then parked on the DLQ.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	processor     *processor
	topics        []string
	log           *logger.Logger
	retryBackoff  time.Duration
	// ready is closed by the first session setup and never replaced.
	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

type consumerGroupHandler struct {
	consumer *Consumer
}

// NewConsumer joins cfg.ConsumerGroup and subscribes to topics.
func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, log *logger.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_6_0_0
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true
	applyNetTimeouts(saramaConfig)

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	dlqProducer, err := NewProducer(cfg)
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	log = log.Named("kafka_consumer")
	return newConsumer(consumerGroup, newProcessor(cfg, handler, dlqProducer, log), topics, log), nil
}

func newConsumer(group sarama.ConsumerGroup, p *processor, topics []string, log *logger.Logger) *Consumer {
	return &Consumer{
		consumerGroup: group,
		processor:     p,
		topics:        topics,
		log:           log,
		retryBackoff:  time.Second,
		ready:         make(chan struct{}),
	}
}

// Start consumes in the background and returns once the first session is
// set up.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Go(func() {
		handler := &consumerGroupHandler{consumer: c}
		for {
			if ctx.Err() != nil {
				return
			}
			err := c.consumerGroup.Consume(ctx, c.topics, handler)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.log.Error("Error from consumer", zap.Error(err))
				if sleep(ctx, c.retryBackoff) != nil {
					return
				}
			}
		}
	})
	c.wg.Go(func() {
		for err := range c.consumerGroup.Errors() {
			c.log.Warn("Consumer group error", zap.Error(err))
		}
	})

	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels consumption and closes the group and the DLQ producer.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.consumerGroup.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	if err := c.processor.dlq.Close(); err != nil {
		return fmt.Errorf("failed to close DLQ producer: %w", err)
	}
	return nil
}

// Ready is closed once the consumer joined its group.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.readyOnce.Do(func() { close(h.consumer.ready) })
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			h.consumer.processor.process(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// processor owns the retry and DLQ policy, independent of a live session.
type processor struct {
	handler    MessageHandler
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	backoff    time.Duration
	log        *logger.Logger
}

func newProcessor(cfg *config.KafkaConfig, handler MessageHandler, dlq *Producer, log *logger.Logger) *processor {
	return &processor{
		handler:    handler,
		dlq:        dlq,
		dlqTopic:   cfg.Topics.DLQ,
		maxRetries: cfg.Consumer.MaxRetries,
		backoff:    time.Duration(cfg.Consumer.RetryBackoffMs) * time.Millisecond,
		log:        log,
	}
}

// process never fails: a message either succeeds, lands on the DLQ, or the
// DLQ failure is logged.
func (p *processor) process(ctx context.Context, message *sarama.ConsumerMessage) {
	err := p.handleWithRetry(ctx, message)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if dlqErr := p.sendToDLQ(ctx, message, err); dlqErr != nil {
		p.log.Error("Failed to send message to DLQ",
			zap.String("topic", message.Topic),
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
			zap.NamedError("cause", err),
			zap.Error(dlqErr))
	}
}

func (p *processor) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	backoff := p.backoff
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		err := p.handler(ctx, message)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err

		if attempt < p.maxRetries {
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("failed after %d retries: %w", p.maxRetries, lastErr)
}

func (p *processor) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause error) error {
	msg := &sarama.ProducerMessage{
		Topic: p.dlqTopic,
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderError), Value: []byte(cause.Error())},
			{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
			{Key: []byte(HeaderOriginalPartition), Value: []byte(strconv.FormatInt(int64(message.Partition), 10))},
			{Key: []byte(HeaderOriginalOffset), Value: []byte(strconv.FormatInt(message.Offset, 10))},
		},
	}
	if message.Key != nil {
		msg.Key = sarama.ByteEncoder(message.Key)
	}
	if _, _, err := p.dlq.send(ctx, msg); err != nil {
		return err
	}

	p.log.Warn("Message sent to DLQ",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.Error(cause))
	return nil
}
