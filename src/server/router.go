package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"CrewPrizePool/src/datasource/file"
	"CrewPrizePool/src/processor"
	"CrewPrizePool/src/service"
	"CrewPrizePool/src/storage"
	"CrewPrizePool/src/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxUploadSize 上传名单的大小上限
const MaxUploadSize = 32 << 20

type Handler struct {
	dashboard *service.Dashboard
	logger    *storage.Logger
	gatherer  prometheus.Gatherer
}

// NewHandler gatherer 为空时使用默认 registry
func NewHandler(dashboard *service.Dashboard, logger *storage.Logger, gatherer prometheus.Gatherer) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{dashboard: dashboard, logger: logger, gatherer: gatherer}
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	r.MaxMultipartMemory = MaxUploadSize

	r.GET("/health", h.Health)
	r.GET("/logs", h.Logs)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.GET("/metrics", h.Metrics)
	api.POST("/upload", h.Upload)
	api.POST("/reload", h.Reload)

	return r
}

// NewServer /logs 是长连接，WriteTimeout 会截断日志流
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
}

func (h *Handler) Health(c *gin.Context) {
	st, err := h.dashboard.Status()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dataset": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "dataset": st})
}

// Metrics GET /api/v1/metrics?from=2024-01-01&to=2024-01-31&top=5&partition=true
func (h *Handler) Metrics(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.dashboard.Compute(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseQuery(c *gin.Context) (service.Query, error) {
	var q service.Query

	if v := c.Query("from"); v != "" {
		t, err := utils.ParseDate(v)
		if err != nil {
			return q, fmt.Errorf("from: %w", err)
		}
		q.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := utils.ParseDate(v)
		if err != nil {
			return q, fmt.Errorf("to: %w", err)
		}
		q.To = t
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return q, errors.New("to 早于 from")
	}

	if v := c.Query("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("top: %w", err)
		}
		q.TopN = &n
	}
	if v := c.Query("partition"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("partition: %w", err)
		}
		q.Partition = &b
	}
	return q, nil
}

// Upload multipart 字段 file，csv 或 xlsx
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".csv", ".xlsx":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv and .xlsx are accepted"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ds, err := h.dashboard.Ingest(data, filepath.Base(fh.Filename))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, datasetResponse(ds))
}

func (h *Handler) Reload(c *gin.Context) {
	ds, err := h.dashboard.Reload(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, datasetResponse(ds))
}

// Logs 分块推送实时日志，直到客户端断开
func (h *Handler) Logs(c *gin.Context) {
	sub := h.logger.Subscribe()
	defer h.logger.Unsubscribe(sub)

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub:
			if !ok {
				return false
			}
			_, err := io.WriteString(w, msg)
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if se, ok := processor.IsSchemaError(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": se.Error(), "missing": se.Missing})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoDataset):
		status = http.StatusNotFound
	case errors.Is(err, file.ErrUnsupportedSource), errors.Is(err, service.ErrNoSource):
		status = http.StatusBadRequest
	}
	h.logger.Error("请求失败", "path", c.FullPath(), "status", status, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func datasetResponse(ds *file.Dataset) gin.H {
	warnings := make([]string, 0, len(ds.Warnings))
	for _, w := range ds.Warnings {
		warnings = append(warnings, w.Error())
	}
	return gin.H{
		"dataset":      ds.Name,
		"rows":         len(ds.Records),
		"dropped_rows": ds.Dropped(),
		"ragged_rows":  ds.Ragged,
		"warnings":     warnings,
		"hash":         ds.Hash,
	}
}

func requestLogger(logger *storage.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/logs" {
			return
		}
		logger.Debug("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String())
	}
}
