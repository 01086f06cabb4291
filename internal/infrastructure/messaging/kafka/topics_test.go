package kafka

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

func TestTopicForJobType(t *testing.T) {
	assert.Equal(t, TopicBatchFull, TopicForJobType(common.AnalysisFull))
	assert.Equal(t, TopicBatchQuick, TopicForJobType(common.AnalysisQuick))
	assert.Equal(t, TopicBatchCompetitive, TopicForJobType(common.AnalysisCompetitive))
	assert.Equal(t, TopicBatchMarket, TopicForJobType(common.AnalysisMarket))
	// Unknown types fall back to the full analysis queue.
	assert.Equal(t, TopicBatchFull, TopicForJobType("bogus"))
}

func TestDLQForTopic(t *testing.T) {
	assert.Equal(t, TopicBatchFullDLQ, DLQForTopic(TopicBatchFull))
	assert.Equal(t, TopicBatchMarketDLQ, DLQForTopic(TopicBatchMarket))
}

func TestBatchEnvelope_RoundTrip(t *testing.T) {
	jobID := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	b := job.NewBatch(jobID, string(common.AnalysisQuick), 2, "dallas_tx", members)
	b.Priority = 35.5

	env := NewBatchEnvelope(b)
	msg, err := env.ToMessage()
	require.NoError(t, err)

	assert.Equal(t, TopicBatchQuick, msg.Topic)
	assert.Equal(t, []byte(jobID.String()), msg.Key)
	assert.Equal(t, "2", msg.Headers["batch_index"])
	assert.Equal(t, jobID.String(), msg.Headers["job_id"])

	decoded, err := DecodeBatch(&common.Message{Topic: msg.Topic, Value: msg.Value})
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, b.ID, decoded.Batch.ID)
	assert.Equal(t, members, decoded.Batch.DealershipIDs)
	assert.Equal(t, "dallas_tx", decoded.Batch.MarketKey)
	assert.InDelta(t, 35.5, decoded.Batch.Priority, 0.001)
}

func TestDecodeBatch_Invalid(t *testing.T) {
	_, err := DecodeBatch(&common.Message{})
	assert.Error(t, err)

	_, err = DecodeBatch(&common.Message{Value: []byte("{not json")})
	assert.Error(t, err)

	_, err = DecodeBatch(&common.Message{Value: []byte(`{"event_id":"x"}`)})
	assert.Error(t, err)
}

func TestDefaultTopics_CoverQueuesAndDLQs(t *testing.T) {
	names := make(map[string]bool)
	for _, tc := range DefaultTopics() {
		names[tc.Name] = true
	}
	for _, topic := range BatchTopics() {
		assert.True(t, names[topic], topic)
		assert.True(t, names[DLQForTopic(topic)], DLQForTopic(topic))
	}
	assert.True(t, names[TopicJobProgress])
}

type mockConn struct {
	created   []kafka.TopicConfig
	createErr error
	existing  map[string]bool
	closed    bool
}

func (c *mockConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if c.createErr != nil {
		return c.createErr
	}
	c.created = append(c.created, topics...)
	return nil
}

func (c *mockConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if len(topics) == 1 && c.existing[topics[0]] {
		return []kafka.Partition{{Topic: topics[0]}}, nil
	}
	return nil, nil
}

func (c *mockConn) Close() error {
	c.closed = true
	return nil
}

func TestTopicManager_EnsureTopics(t *testing.T) {
	conn := &mockConn{}
	m := &TopicManager{conn: conn, logger: logging.NewNopLogger()}

	require.NoError(t, m.EnsureDefaultTopics())
	assert.Len(t, conn.created, len(DefaultTopics()))
	require.NoError(t, m.Close())
	assert.True(t, conn.closed)
}

func TestTopicManager_ExistingTopicIsNotAnError(t *testing.T) {
	conn := &mockConn{
		createErr: errors.New("topic already exists"),
		existing:  map[string]bool{TopicBatchFull: true},
	}
	m := &TopicManager{conn: conn, logger: logging.NewNopLogger()}

	err := m.EnsureTopics([]TopicConfig{
		{Name: TopicBatchFull, NumPartitions: 10, ReplicationFactor: 1},
	})
	assert.NoError(t, err)
}
