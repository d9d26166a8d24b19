package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/browser"
	jsmemory "github.com/litigio/casefile-monitor/internal/jobstore/memory"
	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
	"github.com/litigio/casefile-monitor/internal/ratelimit"
)

const secret = "s3cret"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time           { return c.now }
func (c fixedClock) Location() *time.Location { return time.UTC }

type fakeRepo struct {
	monitor.Repository
	pingErr error
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

type fakePool struct {
	pingErr error
}

func (f *fakePool) Ping(context.Context) error { return f.pingErr }
func (f *fakePool) Stats() browser.Stats       { return browser.Stats{Size: 2, InUse: 1, Idle: 1} }

func newServer(t *testing.T, repo *fakeRepo, pool *fakePool) (*Server, *jsmemory.Store) {
	t.Helper()
	metrics.Init()
	clk := fixedClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := jsmemory.New(ratelimit.New(100, time.Second), clk)
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(store, repo, pool, clk, secret, zap.NewNop()), store
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitInitialJob(t *testing.T) {
	t.Parallel()
	s, store := newServer(t, &fakeRepo{}, &fakePool{})

	body := map[string]any{"caseFileId": 42, "caseNumber": "00123-2024", "tenantId": 7}
	rec := doJSON(t, s.Handler(), http.MethodPost, "/jobs/initial", secret, body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats[monitor.LaneInitial].Pending)

	// Same calendar day: deduped.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/jobs/initial", secret, body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp["created"].(bool))

	stats, err = store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats[monitor.LaneInitial].Pending)
}

func TestSubmitPriorityJob_NeverDedups(t *testing.T) {
	t.Parallel()
	s, store := newServer(t, &fakeRepo{}, &fakePool{})

	body := map[string]any{"caseFileId": 42, "caseNumber": "00123-2024", "tenantId": 7}
	// The fixed clock keeps unixMillis identical, so both land on one
	// dedup key; distinct wall-clock requests always create new jobs.
	rec := doJSON(t, s.Handler(), http.MethodPost, "/jobs/priority", secret, body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := store.NextReady(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, monitor.LanePriority, job.Lane)
	require.Equal(t, monitor.PriorityCritical, job.Priority)
}

func TestSubmitJob_Validation(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t, &fakeRepo{}, &fakePool{})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/jobs/initial", secret,
		map[string]any{"caseFileId": 42})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/jobs/initial", bytes.NewBufferString("{nope"))
	req.Header.Set("Authorization", "Bearer "+secret)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)
	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestAuth(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t, &fakeRepo{}, &fakePool{})

	body := map[string]any{"caseFileId": 42, "caseNumber": "C", "tenantId": 7}
	rec := doJSON(t, s.Handler(), http.MethodPost, "/jobs/initial", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/jobs/initial", "wrong", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t, &fakeRepo{}, &fakePool{})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "ok", resp.Checks["database"])
	require.Equal(t, "ok", resp.Checks["browserPool"])
}

func TestHealth_Degraded(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t, &fakeRepo{pingErr: errors.New("connection refused")}, &fakePool{})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s, store := newServer(t, &fakeRepo{}, &fakePool{})

	_, _, err := store.Enqueue(context.Background(), monitor.LaneMonitor,
		monitor.JobPayload{CaseFileID: 1, TenantID: 7, CaseNumber: "C"},
		monitor.PriorityMedium, "monitor:1:20260310")
	require.NoError(t, err)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/status", secret, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Lanes map[string]struct {
			Pending int64 `json:"pending"`
		} `json:"lanes"`
		BrowserPool browser.Stats `json:"browserPool"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp.Lanes["monitor"].Pending)
	require.Equal(t, 2, resp.BrowserPool.Size)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t, &fakeRepo{}, &fakePool{})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}
