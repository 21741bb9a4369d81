package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CrewPrizePool/src/metrics"
	"CrewPrizePool/src/processor"
	"CrewPrizePool/src/service"
	"CrewPrizePool/src/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roster = `Flight_ID,Flight_Date,Crew_ID,Crew_Name,Bottles_Sold_on_Flight
FL1,2024-01-01,1,A,10
FL1,2024-01-01,2,B,10
FL2,2024-01-05,1,A,4
`

func newTestRouter(t *testing.T) (*gin.Engine, *storage.Logger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := storage.NewNopLogger()
	t.Cleanup(func() { logger.Close() })

	reg := prometheus.NewRegistry()
	d := service.New(service.Options{
		Compute: processor.DefaultOptions(),
		Metrics: metrics.NewMetrics("test", reg),
		Logger:  logger,
	})
	return NewRouter(NewHandler(d, logger, reg)), logger
}

func upload(t *testing.T, r http.Handler, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsWithoutDataset(t *testing.T) {
	r, _ := newTestRouter(t)
	w := get(r, "/api/v1/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	w := upload(t, r, "roster.csv", roster)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"rows":3`)

	w = get(r, "/health")
	assert.Contains(t, w.Body.String(), `"first_date":"2024-01-01"`)
	assert.Contains(t, w.Body.String(), `"last_date":"2024-01-05"`)

	w = get(r, "/api/v1/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	var res service.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "70.00", res.Metrics.DisplayPrizePool())
	require.Len(t, res.Metrics.Leaderboards, 1)
	assert.Equal(t, "A", res.Metrics.Leaderboards[0].Entries[0].CrewName)

	w = get(r, "/api/v1/metrics?from=2024-01-02&top=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "20.00", res.Metrics.DisplayPrizePool())
	assert.Len(t, res.Metrics.Leaderboards[0].Entries, 1)
}

func TestMetricsBadQuery(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, target := range []string{
		"/api/v1/metrics?from=yesterday",
		"/api/v1/metrics?top=three",
		"/api/v1/metrics?partition=maybe",
		"/api/v1/metrics?from=2024-02-01&to=2024-01-01",
	} {
		w := get(r, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestUploadRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	w := upload(t, r, "roster.pdf", roster)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, r, "roster.csv", "Flight_ID,Crew_ID\nFL1,1\n")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Crew_Name")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadWithoutSource(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, upload(t, r, "roster.csv", roster).Code)

	w := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_rows_loaded_total 3")
}

func TestLogsStream(t *testing.T) {
	r, logger := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 订阅在响应头发出之前建立
	logger.Info("stream check", "n", 1)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.Contains(line, "stream check"), line)
}
