package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

type mockReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	// Drained; block until the consumer shuts down.
	<-ctx.Done()
	return kafka.Message{}, io.EOF
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *mockReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		{Topic: TopicBatchFull, Offset: 1, Value: []byte("a")},
		{Topic: TopicBatchFull, Offset: 2, Value: []byte("b")},
	}}

	var handled atomic.Int64
	handler := func(_ context.Context, _ *common.Message) error {
		handled.Add(1)
		return nil
	}

	c := NewConsumerWithReader(reader, TopicBatchFull, fastPolicy(), handler,
		NewProducerWithWriter(&mockWriter{}, logging.NewNopLogger()), logging.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	waitFor(t, func() bool { return reader.committedCount() == 2 })
	assert.Equal(t, int64(2), handled.Load())

	consumed, processed, failed, deadLettered := c.MetricsSnapshot()
	assert.Equal(t, int64(2), consumed)
	assert.Equal(t, int64(2), processed)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(0), deadLettered)
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		{Topic: TopicBatchQuick, Offset: 7, Value: []byte("flaky")},
	}}

	var attempts atomic.Int64
	handler := func(_ context.Context, _ *common.Message) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}

	c := NewConsumerWithReader(reader, TopicBatchQuick, fastPolicy(), handler,
		NewProducerWithWriter(&mockWriter{}, logging.NewNopLogger()), logging.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	waitFor(t, func() bool { return reader.committedCount() == 1 })
	assert.Equal(t, int64(3), attempts.Load())

	_, processed, failed, deadLettered := c.MetricsSnapshot()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(0), deadLettered)
}

func TestConsumer_DeadLettersAfterRetryExhaustion(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		{Topic: TopicBatchFull, Offset: 11, Key: []byte("job-9"), Value: []byte("poison")},
	}}
	dlqWriter := &mockWriter{}

	handler := func(_ context.Context, _ *common.Message) error {
		return errors.New("permanent failure")
	}

	c := NewConsumerWithReader(reader, TopicBatchFull, fastPolicy(), handler,
		NewProducerWithWriter(dlqWriter, logging.NewNopLogger()), logging.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	// Offset still commits after the DLQ publish so the queue drains.
	waitFor(t, func() bool { return reader.committedCount() == 1 })

	dlqWriter.mu.Lock()
	defer dlqWriter.mu.Unlock()
	require.Len(t, dlqWriter.written, 1)
	parked := dlqWriter.written[0]
	assert.Equal(t, TopicBatchFullDLQ, parked.Topic)
	assert.Equal(t, []byte("job-9"), parked.Key)
	assert.Equal(t, []byte("poison"), parked.Value)

	headers := make(map[string]string)
	for _, h := range parked.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, TopicBatchFull, headers["original_topic"])
	assert.Contains(t, headers["error_message"], "permanent failure")

	_, _, _, deadLettered := c.MetricsSnapshot()
	assert.Equal(t, int64(1), deadLettered)
}

func TestConsumer_DeadLetterHookFiresOnceParked(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		{Topic: TopicBatchFull, Offset: 21, Key: []byte("job-3"), Value: []byte("doomed")},
	}}

	handler := func(_ context.Context, _ *common.Message) error {
		return errors.New("member lookup failed")
	}

	c := NewConsumerWithReader(reader, TopicBatchFull, fastPolicy(), handler,
		NewProducerWithWriter(&mockWriter{}, logging.NewNopLogger()), logging.NewNopLogger())

	var mu sync.Mutex
	var hooked []*common.Message
	var hookCause error
	c.OnDeadLetter(func(_ context.Context, msg *common.Message, cause error) {
		mu.Lock()
		defer mu.Unlock()
		hooked = append(hooked, msg)
		hookCause = cause
	})

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	waitFor(t, func() bool { return reader.committedCount() == 1 })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hooked, 1, "hook fires exactly once per parked message")
	assert.Equal(t, []byte("doomed"), hooked[0].Value)
	assert.EqualError(t, hookCause, "member lookup failed")
}

func TestConsumer_DeadLetterHookSkippedWhenPublishFails(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		{Topic: TopicBatchQuick, Offset: 5, Value: []byte("stuck")},
	}}
	dlqWriter := &mockWriter{writeErr: errors.New("broker unavailable")}

	c := NewConsumerWithReader(reader, TopicBatchQuick, fastPolicy(),
		func(_ context.Context, _ *common.Message) error { return errors.New("permanent") },
		NewProducerWithWriter(dlqWriter, logging.NewNopLogger()), logging.NewNopLogger())

	var fired atomic.Int64
	c.OnDeadLetter(func(context.Context, *common.Message, error) { fired.Add(1) })

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	// The message still commits so the queue drains, but the batch was never
	// parked, so no failure accounting runs.
	waitFor(t, func() bool { return reader.committedCount() == 1 })
	assert.Zero(t, fired.Load())
}

func TestConsumer_StartTwice(t *testing.T) {
	reader := &mockReader{}
	c := NewConsumerWithReader(reader, TopicBatchFull, fastPolicy(),
		func(_ context.Context, _ *common.Message) error { return nil },
		NewProducerWithWriter(&mockWriter{}, logging.NewNopLogger()), logging.NewNopLogger())

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}
