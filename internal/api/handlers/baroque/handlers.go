// Package baroque provides the leaderboard API handlers: registration,
// leaderboards, developer statistics and manual sweeps.
package baroque

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/api/middleware"
	"github.com/baroque-dev/baroque/internal/config"
	"github.com/baroque-dev/baroque/internal/ingest"
	"github.com/baroque-dev/baroque/internal/leaderboard"
	"github.com/baroque-dev/baroque/internal/persistence"
	"github.com/baroque-dev/baroque/internal/registry"
)

// Sweeper runs one ingestion pass over all registered developers.
type Sweeper interface {
	Sweep(ctx context.Context) ingest.Result
}

// Handler serves the API. Every dependency is required.
type Handler struct {
	engine   *leaderboard.Engine
	registry *registry.Service
	sweeper  Sweeper
	now      func() time.Time
}

// NewHandler creates a handler.
func NewHandler(engine *leaderboard.Engine, reg *registry.Service, sweeper Sweeper) *Handler {
	return &Handler{engine: engine, registry: reg, sweeper: sweeper, now: time.Now}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	APIKeyID string `json:"api_key_id"`
	Name     string `json:"name"`
}

// DeveloperResponse describes a registered developer.
type DeveloperResponse struct {
	EntityID     string    `json:"entity_id"`
	APIKeyID     string    `json:"api_key_id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisterResponse reports a registration attempt.
type RegisterResponse struct {
	Success   bool               `json:"success"`
	Developer *DeveloperResponse `json:"developer,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// ModelsResponse lists models with usage data.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// LeaderboardResponse holds the ranked entries of every category.
type LeaderboardResponse struct {
	Period     string                         `json:"period"`
	Categories map[string][]leaderboard.Entry `json:"categories"`
	UpdatedAt  time.Time                      `json:"updated_at"`
	Model      string                         `json:"model,omitempty"`
}

// SweepResponse reports a manual sweep.
type SweepResponse struct {
	Outcome string `json:"outcome"`
	Written int    `json:"written"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// GetHealth handles GET /health and GET /api/health.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
	})
}

// PostRegister handles POST /api/register. Validation failures are reported
// in the body with success=false, not with an error status.
func (h *Handler) PostRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	dev, err := h.registry.Register(c.Request.Context(), req.APIKeyID, req.Name)
	if err != nil {
		if !errors.Is(err, registry.ErrInvalidInput) {
			log.WithError(err).Error("Failed to register developer")
		}
		c.JSON(http.StatusOK, RegisterResponse{Success: false, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, RegisterResponse{
		Success: true,
		Developer: &DeveloperResponse{
			EntityID:     dev.EntityID,
			APIKeyID:     dev.APIKeyID,
			Name:         dev.Name,
			RegisteredAt: dev.RegisteredAt,
		},
	})
}

// GetModels handles GET /api/models.
func (h *Handler) GetModels(c *gin.Context) {
	models, err := h.engine.DistinctModels(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list models")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to retrieve models",
		})
		return
	}
	c.JSON(http.StatusOK, ModelsResponse{Models: models})
}

// GetLeaderboard handles GET /api/leaderboard.
// Query parameters:
//   - period: day, week or month (default: week)
//   - api_key_id: caller's key, shown unmasked
//   - model: filter by model name
func (h *Handler) GetLeaderboard(c *gin.Context) {
	period, err := leaderboard.ParsePeriod(c.Query("period"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid period: must be day, week, or month",
		})
		return
	}
	model := c.Query("model")

	board, err := h.engine.Compute(c.Request.Context(), period, c.Query("api_key_id"), model)
	if err != nil {
		log.WithError(err).WithField("period", period).Error("Failed to compute leaderboard")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to compute leaderboard",
		})
		return
	}

	categories := make(map[string][]leaderboard.Entry, len(board.Categories))
	for cat, entries := range board.Categories {
		categories[string(cat)] = entries
	}

	c.JSON(http.StatusOK, LeaderboardResponse{
		Period:     string(board.Period),
		Categories: categories,
		UpdatedAt:  board.UpdatedAt,
		Model:      model,
	})
}

// GetDeveloperStats handles GET /api/developer/:api_key_id/stats.
func (h *Handler) GetDeveloperStats(c *gin.Context) {
	stats, err := h.engine.DeveloperStats(c.Request.Context(), c.Param("api_key_id"), c.Query("model"))
	if errors.Is(err, persistence.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "developer not found",
		})
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to compute developer stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to retrieve developer stats",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PostSweep handles POST /api/admin/sweep.
func (h *Handler) PostSweep(c *gin.Context) {
	res := h.sweeper.Sweep(c.Request.Context())

	resp := SweepResponse{
		Outcome: res.Outcome.String(),
		Written: res.Written,
		Failed:  res.Failed,
	}
	status := http.StatusOK
	switch res.Outcome {
	case ingest.OutcomeSourceUnavailable:
		status = http.StatusBadGateway
		resp.Error = "usage source unavailable"
	case ingest.OutcomePersistenceFailure:
		status = http.StatusInternalServerError
		resp.Error = "failed to list developers"
	}
	c.JSON(status, resp)
}

// RegisterRoutes registers the API routes to the router.
func RegisterRoutes(router *gin.Engine, h *Handler, admin config.AdminConfig) {
	router.GET("/health", h.GetHealth)

	api := router.Group("/api")
	{
		api.GET("/health", h.GetHealth)
		api.POST("/register", h.PostRegister)
		api.GET("/models", h.GetModels)
		api.GET("/leaderboard", h.GetLeaderboard)
		api.GET("/developer/:api_key_id/stats", h.GetDeveloperStats)
	}

	adminGroup := api.Group("/admin",
		middleware.LocalhostOnly(admin),
		middleware.BasicAuth(admin),
	)
	adminGroup.POST("/sweep", h.PostSweep)

	log.WithFields(log.Fields{
		"prefix":       "/api",
		"auth_enabled": admin.Username != "" && admin.Password != "",
		"admin_remote": admin.AllowRemote,
	}).Info("Leaderboard API registered")
}
