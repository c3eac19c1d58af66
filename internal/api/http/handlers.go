package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/collector"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// Handlers contains all HTTP handlers of the collector
type Handlers struct {
	collector  *collector.Collector
	metrics    *monitoring.Metrics
	maxPayload int64
	logger     *zap.Logger
}

// NewHandlers creates a new handler set. Request bodies larger than
// maxPayload after decompression are rejected.
func NewHandlers(c *collector.Collector, metrics *monitoring.Metrics, maxPayload int64, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPayload <= 0 {
		maxPayload = codec.DefaultMaxFrame
	}
	return &Handlers{
		collector:  c,
		metrics:    metrics,
		maxPayload: maxPayload,
		logger:     logger,
	}
}

// Register mounts every handler on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	agent := r.Group("/agent")
	agent.POST("/register", h.RegisterAgent)
	agent.POST("/submit/agd", h.SubmitAgentData)
	agent.POST("/submit/trc", h.SubmitTraceData)

	api := r.Group("/api")
	api.GET("/stats", h.Stats)
	api.GET("/sessions", h.ListSessions)
	api.GET("/chunks", h.ListChunks)
	api.GET("/chunks/:trace/:span", h.GetChunks)
	api.GET("/chunks/:trace/:span/tree", h.GetTree)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "tracepipe collector",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"sessions":    h.collector.Sessions().Count(),
		"store":       h.collector.Store().Stats(),
		"subscribers": h.collector.Feed().Subscribers(),
	})
}

// Stats returns the metrics snapshot together with store occupancy
func (h *Handlers) Stats(c *gin.Context) {
	symbols, methods := h.collector.Symbols().Size()
	c.JSON(http.StatusOK, gin.H{
		"metrics": h.metrics.Snapshot(),
		"store":   h.collector.Store().Stats(),
		"symbols": gin.H{"symbols": symbols, "methods": methods},
		"feed":    gin.H{"subscribers": h.collector.Feed().Subscribers(), "missed": h.collector.Feed().Missed()},
	})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := collector.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
