package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// httpGenerator calls the upstream analysis service to produce a fresh
// visibility payload for one dealership. The service owns the actual AI
// querying; the worker only schedules, caches, and accounts.
type httpGenerator struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func newHTTPGenerator(baseURL string, timeout time.Duration, log logging.Logger) *httpGenerator {
	return &httpGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.Named("generator"),
	}
}

type analysisRequest struct {
	DealershipID string   `json:"dealership_id"`
	Name         string   `json:"name"`
	Domain       string   `json:"domain,omitempty"`
	MarketKey    string   `json:"market_key"`
	Category     string   `json:"category"`
	Brands       []string `json:"brands,omitempty"`
	AnalysisType string   `json:"analysis_type"`
}

func (g *httpGenerator) Generate(ctx context.Context, d *dealership.Dealership, analysisType common.AnalysisType) (*common.AnalysisPayload, error) {
	body, err := json.Marshal(analysisRequest{
		DealershipID: d.ID.String(),
		Name:         d.Name,
		Domain:       d.Domain,
		MarketKey:    d.MarketKey(),
		Category:     string(d.Category),
		Brands:       d.Brands,
		AnalysisType: string(analysisType),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode analysis request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/analyses", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build analysis request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExternalService, "analysis service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a bounded amount so a misbehaving upstream cannot blow the log.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.New(apperrors.ErrCodeExternalService,
			fmt.Sprintf("analysis service returned %d: %s", resp.StatusCode, snippet))
	}

	var payload common.AnalysisPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExternalService, "failed to decode analysis response")
	}
	if payload.DealershipID.IsZero() {
		payload.DealershipID = common.ID(d.ID.String())
	}
	if payload.AnalysisType == "" {
		payload.AnalysisType = analysisType
	}
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = time.Now().UTC()
	}
	return &payload, nil
}
