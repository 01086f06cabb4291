package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/internal/application/competitive"
	"github.com/dealeredge/visibility-engine/internal/application/pipeline"
	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	submitID  uuid.UUID
	submitErr error
	lastInput pipeline.SubmitInput

	view    *pipeline.StatusView
	viewErr error

	cancelErr error

	stats      *job.Statistics
	lastWindow time.Duration
}

func (f *fakePipeline) Submit(_ context.Context, in pipeline.SubmitInput) (uuid.UUID, error) {
	f.lastInput = in
	return f.submitID, f.submitErr
}

func (f *fakePipeline) GetStatus(context.Context, uuid.UUID) (*pipeline.StatusView, error) {
	return f.view, f.viewErr
}

func (f *fakePipeline) Cancel(context.Context, uuid.UUID) error { return f.cancelErr }

func (f *fakePipeline) GetStatistics(_ context.Context, window time.Duration) (*job.Statistics, error) {
	f.lastWindow = window
	return f.stats, nil
}

type fakeCompetitive struct {
	report *competitive.Report
	err    error
	bulk   *competitive.BulkResult
}

func (f *fakeCompetitive) Generate(context.Context, uuid.UUID) (*competitive.Report, error) {
	return f.report, f.err
}

func (f *fakeCompetitive) GenerateBulk(context.Context, []uuid.UUID) (*competitive.BulkResult, error) {
	return f.bulk, f.err
}

func jobRouter(p pipeline.Service) *gin.Engine {
	r := gin.New()
	h := NewJobHandler(p, logging.NewNopLogger())
	r.POST("/api/v1/jobs", h.Submit)
	r.GET("/api/v1/jobs/statistics", h.Statistics)
	r.GET("/api/v1/jobs/:id", h.Get)
	r.POST("/api/v1/jobs/:id/cancel", h.Cancel)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJobHandler_Submit(t *testing.T) {
	p := &fakePipeline{submitID: uuid.New()}
	market := "dallas_tx"

	rec := doJSON(t, jobRouter(p), http.MethodPost, "/api/v1/jobs", pipeline.SubmitInput{
		Name:     "nightly refresh",
		JobType:  common.AnalysisQuick,
		Criteria: job.SelectionCriteria{MarketID: &market},
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, p.submitID.String(), body["job_id"])
	assert.Equal(t, common.AnalysisQuick, p.lastInput.JobType)
}

func TestJobHandler_Submit_BadBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString("{not json"))
	jobRouter(&fakePipeline{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobHandler_Submit_EmptySelectionMapsTo400(t *testing.T) {
	p := &fakePipeline{submitErr: apperrors.New(apperrors.ErrCodeJobEmptySelection, "no dealerships")}
	rec := doJSON(t, jobRouter(p), http.MethodPost, "/api/v1/jobs", pipeline.SubmitInput{JobType: common.AnalysisFull})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeJobEmptySelection), body.Code)
}

func TestJobHandler_Get(t *testing.T) {
	id := uuid.New()
	p := &fakePipeline{view: &pipeline.StatusView{
		Job:         &job.BulkAnalysisJob{ID: id, Status: job.StatusRunning, TotalCount: 100, CompletedCount: 40},
		ProgressPct: 40,
		QueueDepth:  2,
	}}

	rec := doJSON(t, jobRouter(p), http.MethodGet, "/api/v1/jobs/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view pipeline.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, id, view.Job.ID)
	assert.InDelta(t, 40.0, view.ProgressPct, 0.01)
}

func TestJobHandler_Get_BadID(t *testing.T) {
	rec := doJSON(t, jobRouter(&fakePipeline{}), http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobHandler_Get_NotFound(t *testing.T) {
	p := &fakePipeline{viewErr: apperrors.New(apperrors.ErrCodeJobNotFound, "job not found")}
	rec := doJSON(t, jobRouter(p), http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobHandler_Cancel(t *testing.T) {
	rec := doJSON(t, jobRouter(&fakePipeline{}), http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobHandler_Cancel_Conflict(t *testing.T) {
	p := &fakePipeline{cancelErr: apperrors.New(apperrors.ErrCodeJobNotCancellable, "already completed")}
	rec := doJSON(t, jobRouter(p), http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobHandler_Statistics(t *testing.T) {
	p := &fakePipeline{stats: &job.Statistics{TotalJobs: 12}}
	rec := doJSON(t, jobRouter(p), http.MethodGet, "/api/v1/jobs/statistics?window=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Hour, p.lastWindow)
}

func TestJobHandler_Statistics_BadWindow(t *testing.T) {
	rec := doJSON(t, jobRouter(&fakePipeline{}), http.MethodGet, "/api/v1/jobs/statistics?window=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func competitiveRouter(svc competitive.Service) *gin.Engine {
	r := gin.New()
	h := NewCompetitiveHandler(svc, logging.NewNopLogger())
	r.GET("/api/v1/dealerships/:id/competitive-report", h.Report)
	r.POST("/api/v1/competitive-reports", h.BulkReports)
	return r
}

func TestCompetitiveHandler_Report(t *testing.T) {
	id := uuid.New()
	svc := &fakeCompetitive{report: &competitive.Report{DealershipID: id, MarketKey: "dallas_tx"}}

	rec := doJSON(t, competitiveRouter(svc), http.MethodGet, "/api/v1/dealerships/"+id.String()+"/competitive-report", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report competitive.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, id, report.DealershipID)
}

func TestCompetitiveHandler_Report_NoCachedData(t *testing.T) {
	svc := &fakeCompetitive{err: apperrors.New(apperrors.ErrCodeCacheMiss, "no cached analysis")}
	rec := doJSON(t, competitiveRouter(svc), http.MethodGet, "/api/v1/dealerships/"+uuid.NewString()+"/competitive-report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompetitiveHandler_BulkReports(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	svc := &fakeCompetitive{bulk: &competitive.BulkResult{
		Reports: map[uuid.UUID]*competitive.Report{a: {DealershipID: a}},
		Errors:  map[uuid.UUID]error{b: apperrors.New(apperrors.ErrCodeClusterNotFound, "not clustered")},
	}}

	rec := doJSON(t, competitiveRouter(svc), http.MethodPost, "/api/v1/competitive-reports",
		map[string]interface{}{"dealership_ids": []string{a.String(), b.String()}})
	require.Equal(t, http.StatusOK, rec.Code)

	var body bulkReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Reports, 1)
	assert.Contains(t, body.Errors, b)
}

func TestCompetitiveHandler_BulkReports_EmptyIDs(t *testing.T) {
	rec := doJSON(t, competitiveRouter(&fakeCompetitive{}), http.MethodPost, "/api/v1/competitive-reports",
		map[string]interface{}{"dealership_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler_Readiness(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	bad := pingerFunc(func(context.Context) error { return assert.AnError })

	r := gin.New()
	h := NewHealthHandler(map[string]Pinger{"postgres": ok, "redis": bad}, logging.NewNopLogger())
	r.GET("/readyz", h.Readiness)

	rec := doJSON(t, r, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
}

func TestHealthHandler_Liveness(t *testing.T) {
	r := gin.New()
	h := NewHealthHandler(nil, logging.NewNopLogger())
	r.GET("/healthz", h.Liveness)

	rec := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// fakeCacheManager records the last invalidation request.
type fakeCacheManager struct {
	lastInvalidate redis.InvalidateOptions
	deleted        int64
}

func (f *fakeCacheManager) Get(context.Context, uuid.UUID, string, redis.GetOptions) (*common.AnalysisPayload, redis.Source, error) {
	return nil, "", redis.ErrCacheMiss
}

func (f *fakeCacheManager) Set(context.Context, uuid.UUID, string, *common.AnalysisPayload, redis.SetOptions) error {
	return nil
}

func (f *fakeCacheManager) GetBulk(context.Context, []uuid.UUID, map[uuid.UUID]string, redis.GetOptions) (*redis.BulkResult, error) {
	return &redis.BulkResult{}, nil
}

func (f *fakeCacheManager) SetBulk(context.Context, map[uuid.UUID]*common.AnalysisPayload, map[uuid.UUID]string, redis.SetOptions) error {
	return nil
}

func (f *fakeCacheManager) Invalidate(_ context.Context, opts redis.InvalidateOptions) (int64, error) {
	f.lastInvalidate = opts
	return f.deleted, nil
}

func (f *fakeCacheManager) Stats(context.Context) redis.Stats  { return redis.Stats{} }
func (f *fakeCacheManager) FlushStats(context.Context)         {}
func (f *fakeCacheManager) Sweep(context.Context) (int, error) { return 0, nil }

func cacheRouter(m redis.Manager) *gin.Engine {
	r := gin.New()
	h := NewCacheHandler(m, logging.NewNopLogger())
	r.GET("/api/v1/cache/stats", h.Stats)
	r.POST("/api/v1/cache/invalidate", h.Invalidate)
	return r
}

func TestCacheHandler_InvalidateDealershipList(t *testing.T) {
	m := &fakeCacheManager{deleted: 4}
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	rec := doJSON(t, cacheRouter(m), http.MethodPost, "/api/v1/cache/invalidate",
		map[string]interface{}{
			"dealership_ids": []string{ids[0].String(), ids[1].String()},
			"analysis_type":  "full_analysis",
		})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, ids, m.lastInvalidate.DealershipIDs, "the whole list reaches the cache in one call")
	assert.Equal(t, common.AnalysisFull, m.lastInvalidate.AnalysisType)
	assert.Contains(t, rec.Body.String(), `"deleted":4`)
}

func TestCacheHandler_InvalidateRequiresSelector(t *testing.T) {
	rec := doJSON(t, cacheRouter(&fakeCacheManager{}), http.MethodPost, "/api/v1/cache/invalidate",
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
