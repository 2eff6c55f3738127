package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"affiliate-pipeline/internal/affiliate"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/service"
	"affiliate-pipeline/internal/store"
	"affiliate-pipeline/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency the health check probes
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	pipeline *service.Pipeline
	store    *store.Store
	redis    Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler; redis may be nil
func NewHandler(pipeline *service.Pipeline, store *store.Store, redis Pinger) *Handler {
	return &Handler{
		pipeline: pipeline,
		store:    store,
		redis:    redis,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/jobs/:name", h.runJob)
		v1.GET("/jobs/:name/logs", h.listJobLogs)
		v1.GET("/products", h.listProducts)
		v1.POST("/alerts", h.createAlert)
		v1.PUT("/credentials/:marketplace", h.saveCredentials)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok"}
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"jobs":   service.JobNames(),
		"time":   time.Now().Unix(),
	})
}

// runJob invokes a job synchronously and reports its counters
func (h *Handler) runJob(c *gin.Context) {
	name := c.Param("name")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	res, err := h.pipeline.RunJob(c.Request.Context(), name, body)
	switch {
	case errors.Is(err, service.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrInvalidBody):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrJobAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Job failed", zap.String("job", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobResponse(res))
}

// jobResponse reports notifications_sent for the alert job and updated for the rest
func jobResponse(res *service.JobResult) gin.H {
	resp := gin.H{
		"success":     true,
		"status":      res.Status,
		"message":     res.Message,
		"processed":   res.Processed,
		"errors":      res.Errors,
		"duration_ms": res.DurationMS,
	}
	if res.JobName == service.JobPriceAlerts {
		resp["notifications_sent"] = res.NotificationsSent
	} else {
		resp["updated"] = res.Updated
	}
	if len(res.ErrorDetails) > 0 {
		resp["error_details"] = res.ErrorDetails
	}
	return resp
}

func (h *Handler) listJobLogs(c *gin.Context) {
	limit := queryInt(c, "limit", 20)

	logs, err := h.store.ListJobLogs(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *Handler) listProducts(c *gin.Context) {
	filter := store.ProductFilter{
		Marketplace: models.Marketplace(c.Query("marketplace")),
		Status:      c.Query("status"),
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}
	if filter.Marketplace != "" && !filter.Marketplace.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown marketplace"})
		return
	}

	products, err := h.store.ListProducts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) createAlert(c *gin.Context) {
	var req service.CreateAlertRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	alert, err := h.pipeline.Alerts().CreateAlert(c.Request.Context(), &req)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, alert)
}

type saveCredentialsRequest struct {
	Credentials json.RawMessage `json:"credentials" binding:"required"`
	IsActive    *bool           `json:"is_active"`
}

// saveCredentials replaces a marketplace's affiliate credentials.
// The blob is not echoed back.
func (h *Handler) saveCredentials(c *gin.Context) {
	var req saveCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	creds := &models.MarketplaceCredentials{
		MarketplaceID: c.Param("marketplace"),
		Credentials:   types.JSONText(req.Credentials),
		IsActive:      req.IsActive == nil || *req.IsActive,
	}

	err := h.pipeline.Credentials().SaveCredentials(c.Request.Context(), creds)
	switch {
	case errors.Is(err, affiliate.ErrUnknownMarketplace):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to save credentials", zap.String("marketplace", creds.MarketplaceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"marketplace_id": creds.MarketplaceID,
		"is_active":      creds.IsActive,
		"updated_at":     creds.UpdatedAt,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
