package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

var ErrAlreadyRunning = apperrors.New(apperrors.CodeConflict, "consumer already running")

// RetryPolicy governs redelivery of a failed batch before dead-lettering.
type RetryPolicy struct {
	MaxRetries int
	// Backoff is the base delay; it doubles per attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}
	if r.Backoff <= 0 {
		r.Backoff = 2 * time.Second
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 30 * time.Second
	}
	return r
}

// ConsumerMetrics holds consumer counters.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
	Lag                  atomic.Int64
}

// DeadLetterHandler is invoked after a message is parked on the DLQ, before
// its offset commits, so the owning pipeline can account for the lost work.
type DeadLetterHandler func(ctx context.Context, msg *common.Message, cause error)

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one batch topic within a consumer group and hands messages
// to the registered handler. A message is retried with exponential backoff;
// once retries are exhausted it goes to the topic's DLQ and the offset is
// committed so the queue keeps draining.
type Consumer struct {
	reader ReaderInterface
	topic  string
	policy RetryPolicy
	logger logging.Logger

	handler      common.MessageHandler
	dlq          *Producer
	onDeadLetter DeadLetterHandler

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *ConsumerMetrics
}

// NewConsumer creates a group consumer for a single batch topic.
func NewConsumer(cfg config.KafkaConfig, topic string, policy RetryPolicy, handler common.MessageHandler, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "kafka brokers required")
	}
	if cfg.GroupID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "kafka group_id required")
	}
	if handler == nil {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "message handler required")
	}

	startOffset := kafka.FirstOffset
	if cfg.AutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       topic,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10 * 1024 * 1024,
	})

	dlqProducer, err := NewProducer(cfg, logger)
	if err != nil {
		reader.Close()
		return nil, err
	}

	return &Consumer{
		reader:  reader,
		topic:   topic,
		policy:  policy.withDefaults(),
		logger:  logger,
		handler: handler,
		dlq:     dlqProducer,
		metrics: &ConsumerMetrics{},
	}, nil
}

// NewConsumerWithReader injects the reader and DLQ producer; used by tests.
func NewConsumerWithReader(reader ReaderInterface, topic string, policy RetryPolicy, handler common.MessageHandler, dlq *Producer, logger logging.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		topic:   topic,
		policy:  policy.withDefaults(),
		logger:  logger,
		handler: handler,
		dlq:     dlq,
		metrics: &ConsumerMetrics{},
	}
}

// OnDeadLetter registers the hook fired after a DLQ publish. Set before
// Start; a parked batch without a hook leaves its job counters short.
func (c *Consumer) OnDeadLetter(h DeadLetterHandler) {
	c.onDeadLetter = h
}

// Start launches the consume loop. It returns immediately; Close stops the
// loop and waits for the in-flight message.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Info("kafka consumer started", logging.String("topic", c.topic))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch message failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.metrics.MessagesConsumed.Add(1)
		c.metrics.Lag.Store(m.HighWaterMark - m.Offset)

		msg := fromKafkaMessage(m)
		if err := c.process(ctx, msg); err != nil {
			// Shutdown mid-processing: leave the offset uncommitted so the
			// batch is redelivered to another group member.
			if ctx.Err() != nil {
				return
			}
			c.metrics.MessagesFailed.Add(1)
		} else {
			c.metrics.MessagesProcessed.Add(1)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("offset commit failed",
				logging.String("topic", c.topic), logging.Err(err))
		}
	}
}

// process runs the handler with the retry policy, dead-lettering on
// exhaustion. The returned error is non-nil only when the message could not
// be handled or parked.
func (c *Consumer) process(ctx context.Context, msg *common.Message) error {
	err := c.handler(ctx, msg)
	if err == nil {
		return nil
	}

	backoff := c.policy.Backoff
	for attempt := 1; attempt <= c.policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		c.metrics.MessagesRetried.Add(1)
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}

		backoff *= 2
		if backoff > c.policy.MaxBackoff {
			backoff = c.policy.MaxBackoff
		}
	}

	c.logger.Error("message failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Int("retries", c.policy.MaxRetries),
		logging.Err(err))

	return c.deadLetter(ctx, msg, err)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *common.Message, cause error) error {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["original_topic"] = msg.Topic
	headers["error_message"] = cause.Error()

	dlMsg := &common.ProducerMessage{
		Topic:   DLQForTopic(c.topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := c.dlq.Publish(ctx, dlMsg); err != nil {
		c.logger.Error("dead-letter publish failed", logging.Err(err))
		return err
	}
	c.metrics.MessagesDeadLettered.Add(1)
	if c.onDeadLetter != nil {
		c.onDeadLetter(ctx, msg, cause)
	}
	return nil
}

// MetricsSnapshot reports the consumer counters.
func (c *Consumer) MetricsSnapshot() (consumed, processed, failed, deadLettered int64) {
	return c.metrics.MessagesConsumed.Load(),
		c.metrics.MessagesProcessed.Load(),
		c.metrics.MessagesFailed.Load(),
		c.metrics.MessagesDeadLettered.Load()
}

// Close stops the loop, waits for the in-flight message, and closes the
// reader and DLQ producer. Idempotent.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	err := c.reader.Close()
	if c.dlq != nil {
		c.dlq.Close()
	}
	c.logger.Info("kafka consumer closed",
		logging.String("topic", c.topic),
		logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	return err
}

func fromKafkaMessage(m kafka.Message) *common.Message {
	msg := &common.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}
