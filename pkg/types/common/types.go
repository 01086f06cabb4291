// Package common holds small shared types used across layers: identifiers,
// the analysis payload envelope, and messaging carrier types.
package common

import (
	"context"
	"time"
)

// ID is the canonical identifier type (UUID string) for all aggregates.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id == "" }

// AnalysisType identifies the flavor of analysis a payload was produced by.
type AnalysisType string

const (
	AnalysisFull        AnalysisType = "full_analysis"
	AnalysisQuick       AnalysisType = "quick_refresh"
	AnalysisCompetitive AnalysisType = "competitive_scan"
	AnalysisMarket      AnalysisType = "market_analysis"
)

// Valid reports whether t is one of the known analysis types.
func (t AnalysisType) Valid() bool {
	switch t {
	case AnalysisFull, AnalysisQuick, AnalysisCompetitive, AnalysisMarket:
		return true
	}
	return false
}

// MetricRange describes the valid interval for a numeric metric.
type MetricRange struct {
	Min float64
	Max float64
}

// Clamp bounds v to the range.
func (r MetricRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// ScoreRange is the range for score-style metrics.
var ScoreRange = MetricRange{Min: 0, Max: 100}

// MetricRanges maps well-known metric names to their valid ranges.  Metrics
// not listed here default to ScoreRange when clamped.
var MetricRanges = map[string]MetricRange{
	"ai_visibility_score":   ScoreRange,
	"seo_score":             ScoreRange,
	"content_quality_score": ScoreRange,
	"authority_score":       ScoreRange,
	"engagement_score":      ScoreRange,
	"citation_count":        {Min: 0, Max: 1e9},
	"share_of_voice":        {Min: 0, Max: 1},
}

// RangeFor returns the valid range for a metric name.
func RangeFor(metric string) MetricRange {
	if r, ok := MetricRanges[metric]; ok {
		return r
	}
	return ScoreRange
}

// AnalysisPayload is the unit of computed analysis data that flows through the
// cache and pipeline.  Numeric metrics live in Metrics so that variance
// injection can operate generically; everything else rides in Extra untouched.
type AnalysisPayload struct {
	DealershipID ID                     `json:"dealership_id"`
	AnalysisType AnalysisType           `json:"analysis_type"`
	Metrics      map[string]float64     `json:"metrics"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

// Clone returns a deep copy of the payload.  Variance injection mutates the
// copy so pooled entries are never modified in place.
func (p *AnalysisPayload) Clone() *AnalysisPayload {
	if p == nil {
		return nil
	}
	out := &AnalysisPayload{
		DealershipID: p.DealershipID,
		AnalysisType: p.AnalysisType,
		GeneratedAt:  p.GeneratedAt,
	}
	if p.Metrics != nil {
		out.Metrics = make(map[string]float64, len(p.Metrics))
		for k, v := range p.Metrics {
			out.Metrics[k] = v
		}
	}
	if p.Extra != nil {
		out.Extra = make(map[string]interface{}, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ProducerMessage is the outbound messaging envelope.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
	Partition int
}

// Message is the inbound messaging envelope delivered to handlers.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string]string
}

// MessageHandler processes a single inbound message.  A non-nil return marks
// the message failed and subject to the consumer's retry policy.
type MessageHandler func(ctx context.Context, msg *Message) error

// BatchItemError records one failed message within a batch publish.
type BatchItemError struct {
	Index int
	Topic string
	Error error
}

// BatchPublishResult summarizes a batch publish.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}
