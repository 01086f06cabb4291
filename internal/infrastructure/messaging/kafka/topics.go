// Package kafka carries analysis batches between the scheduler and the worker
// pools over typed topics, one per job type, each with a paired dead-letter
// topic.
package kafka

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

const (
	TopicBatchFull        = "analysis.batch.full"
	TopicBatchQuick       = "analysis.batch.quick"
	TopicBatchCompetitive = "analysis.batch.competitive"
	TopicBatchMarket      = "analysis.batch.market"

	TopicBatchFullDLQ        = "analysis.batch.full.dlq"
	TopicBatchQuickDLQ       = "analysis.batch.quick.dlq"
	TopicBatchCompetitiveDLQ = "analysis.batch.competitive.dlq"
	TopicBatchMarketDLQ      = "analysis.batch.market.dlq"

	TopicJobProgress = "analysis.job.progress"
)

// TopicForJobType maps a job type to its batch queue.
func TopicForJobType(t common.AnalysisType) string {
	switch t {
	case common.AnalysisQuick:
		return TopicBatchQuick
	case common.AnalysisCompetitive:
		return TopicBatchCompetitive
	case common.AnalysisMarket:
		return TopicBatchMarket
	default:
		return TopicBatchFull
	}
}

// DLQForTopic returns the dead-letter topic paired with a batch topic.
func DLQForTopic(topic string) string {
	return topic + ".dlq"
}

// BatchTopics lists every batch queue topic, for consumer subscription and
// topic provisioning.
func BatchTopics() []string {
	return []string{TopicBatchFull, TopicBatchQuick, TopicBatchCompetitive, TopicBatchMarket}
}

// BatchEnvelope is the wire form of a dispatched batch.
type BatchEnvelope struct {
	EventID       string     `json:"event_id"`
	SchemaVersion string     `json:"schema_version"`
	PublishedAt   time.Time  `json:"published_at"`
	Batch         *job.Batch `json:"batch"`
}

// NewBatchEnvelope wraps a batch for publication.
func NewBatchEnvelope(b *job.Batch) *BatchEnvelope {
	return &BatchEnvelope{
		EventID:       uuid.New().String(),
		SchemaVersion: "v1",
		PublishedAt:   time.Now().UTC(),
		Batch:         b,
	}
}

// ToMessage encodes the envelope for its job type's topic. The key is the
// owning job ID so a job's batches stay ordered within a partition.
func (e *BatchEnvelope) ToMessage() (*common.ProducerMessage, error) {
	if e.Batch == nil {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "envelope has no batch")
	}
	val, err := json.Marshal(e)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to encode batch envelope")
	}
	return &common.ProducerMessage{
		Topic: TopicForJobType(common.AnalysisType(e.Batch.JobType)),
		Key:   []byte(e.Batch.JobID.String()),
		Value: val,
		Headers: map[string]string{
			"event_id":       e.EventID,
			"schema_version": e.SchemaVersion,
			"job_id":         e.Batch.JobID.String(),
			"batch_index":    strconv.Itoa(e.Batch.Index),
		},
		Timestamp: e.PublishedAt,
	}, nil
}

// DecodeBatch extracts the batch from an inbound queue message.
func DecodeBatch(msg *common.Message) (*BatchEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "empty batch message")
	}
	var env BatchEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to decode batch envelope")
	}
	if env.Batch == nil {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "batch envelope missing batch")
	}
	return &env, nil
}

// TopicConfig describes a topic to provision.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager provisions the batch queue topics at startup.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExternalService, "failed to dial kafka")
	}
	return &TopicManager{conn: conn, logger: logger}, nil
}

// EnsureTopics creates any missing topics; existing topics are left alone.
func (m *TopicManager) EnsureTopics(topics []TopicConfig) error {
	for _, t := range topics {
		cfg := kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.NumPartitions,
			ReplicationFactor: t.ReplicationFactor,
		}
		if t.RetentionMs > 0 {
			cfg.ConfigEntries = append(cfg.ConfigEntries, kafka.ConfigEntry{
				ConfigName:  "retention.ms",
				ConfigValue: strconv.FormatInt(t.RetentionMs, 10),
			})
		}
		if err := m.conn.CreateTopics(cfg); err != nil {
			if exists, _ := m.topicExists(t.Name); exists {
				continue
			}
			return apperrors.Wrap(err, apperrors.ErrCodeExternalService, "failed to create topic").WithDetail(t.Name)
		}
		m.logger.Info("topic created", logging.String("topic", t.Name))
	}
	return nil
}

// EnsureDefaultTopics provisions the standard batch queues, their DLQs, and
// the progress topic.
func (m *TopicManager) EnsureDefaultTopics() error {
	return m.EnsureTopics(DefaultTopics())
}

func (m *TopicManager) topicExists(name string) (bool, error) {
	parts, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(parts) > 0, nil
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// DefaultTopics returns the standard topic set. Partition counts track the
// per-type worker pool sizes; DLQs keep a longer retention for inspection.
func DefaultTopics() []TopicConfig {
	const (
		day  = int64(24 * 3600 * 1000)
		week = 7 * day
	)
	out := []TopicConfig{
		{Name: TopicBatchFull, NumPartitions: 10, ReplicationFactor: 1, RetentionMs: week},
		{Name: TopicBatchQuick, NumPartitions: 5, ReplicationFactor: 1, RetentionMs: week},
		{Name: TopicBatchCompetitive, NumPartitions: 5, ReplicationFactor: 1, RetentionMs: week},
		{Name: TopicBatchMarket, NumPartitions: 2, ReplicationFactor: 1, RetentionMs: week},
		{Name: TopicJobProgress, NumPartitions: 5, ReplicationFactor: 1, RetentionMs: day},
	}
	for _, t := range BatchTopics() {
		out = append(out, TopicConfig{
			Name: DLQForTopic(t), NumPartitions: 1, ReplicationFactor: 1, RetentionMs: 30 * day,
		})
	}
	return out
}
