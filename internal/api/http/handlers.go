// Package http exposes the engine over the control API.
//
// Expected degradations never surface as 5xx: a missing permission
// grant yields empty arrays, a refused transition or relocation yields
// a success=false body. Only broken enumeration infrastructure maps to
// an error status.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/engine"
	"github.com/trayfold/trayfold/internal/icons"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/scan"
)

// Version is reported by the root and health endpoints.
const Version = "0.3.0"

// Handlers contains all HTTP handlers.
type Handlers struct {
	engine  *engine.Engine
	metrics *monitoring.Metrics
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates a new handler set.
func NewHandlers(eng *engine.Engine, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		engine:  eng,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
}

// Register wires every route onto the router.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/state", h.State)
	r.POST("/state/toggle", h.Toggle)
	r.POST("/state/show", h.Show)
	r.POST("/state/hide", h.Hide)
	r.POST("/state/reveal", h.Reveal)

	r.GET("/owners", h.Owners)
	r.GET("/owners/search", h.SearchOwners)
	r.GET("/owners/:key/icon", h.OwnerIcon)
	r.POST("/owners/:key/activate", h.ActivateOwner)
	r.GET("/items", h.Items)

	r.POST("/cache/invalidate", h.InvalidateCache)
	r.POST("/cache/prewarm", h.PrewarmCache)

	r.POST("/relocate", h.Relocate)
	r.POST("/permission/request", h.RequestPermission)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/metrics/summary", h.MetricsSummary)
}

// Root handles the liveness check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "trayfold",
		"version": Version,
	})
}

// Health reports engine state alongside delivery counters.
func (h *Handlers) Health(c *gin.Context) {
	stats := h.engine.EventStats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"version":        Version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"fold":           h.engine.Status(c.Request.Context()),
		"events": gin.H{
			"published":   stats.TotalPublished,
			"sent":        stats.TotalSent,
			"dropped":     stats.TotalDropped,
			"subscribers": len(stats.Subscribers),
		},
	})
}

// State reports the current fold state.
func (h *Handlers) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status(c.Request.Context()))
}

// Toggle flips between hidden and expanded.
func (h *Handlers) Toggle(c *gin.Context) {
	ok := h.engine.Toggle(c.Request.Context())
	h.transitionResult(c, ok)
}

// Show expands the fold zone.
func (h *Handlers) Show(c *gin.Context) {
	ok := h.engine.Show(c.Request.Context())
	h.transitionResult(c, ok)
}

// Hide collapses the fold zone.
func (h *Handlers) Hide(c *gin.Context) {
	ok := h.engine.Hide(c.Request.Context())
	h.transitionResult(c, ok)
}

// Reveal expands the fold zone, optionally pinned open.
func (h *Handlers) Reveal(c *gin.Context) {
	var req struct {
		Pinned bool `json:"pinned"`
	}
	// An empty body means an unpinned reveal.
	_ = c.ShouldBindJSON(&req)

	ok := h.engine.Reveal(c.Request.Context(), req.Pinned)
	h.transitionResult(c, ok)
}

func (h *Handlers) transitionResult(c *gin.Context, ok bool) {
	c.JSON(http.StatusOK, gin.H{
		"success": ok,
		"state":   h.engine.State().String(),
	})
}

// Owners lists every foreign tray presence.
func (h *Handlers) Owners(c *gin.Context) {
	owners, err := h.engine.Owners(c.Request.Context())
	if err != nil {
		h.logger.Error("owner scan failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owners": owners,
		"count":  len(owners),
	})
}

// SearchOwners matches owners against the q glob pattern.
func (h *Handlers) SearchOwners(c *gin.Context) {
	pattern := c.Query("q")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}

	owners, err := h.engine.Search(c.Request.Context(), pattern)
	if err != nil {
		if errors.Is(err, scan.ErrBadPattern) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("owner search failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owners":  owners,
		"count":   len(owners),
		"pattern": pattern,
	})
}

// OwnerIcon serves an owner's icon as raw image bytes.
func (h *Handlers) OwnerIcon(c *gin.Context) {
	key := c.Param("key")

	data, contentType, err := h.engine.Icon(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, engine.ErrOwnerNotFound) || errors.Is(err, icons.ErrNoIcon) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("icon lookup failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, contentType, data)
}

// ActivateOwner presses the owner's primary action.
func (h *Handlers) ActivateOwner(c *gin.Context) {
	key := c.Param("key")

	if err := h.engine.Activate(c.Request.Context(), key); err != nil {
		if errors.Is(err, engine.ErrOwnerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"key":     key,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"key":     key,
	})
}

// Items lists the positioned tray left to right with derived zones.
func (h *Handlers) Items(c *gin.Context) {
	items, err := h.engine.Positioned(c.Request.Context())
	if err != nil {
		h.logger.Error("positioned scan failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// InvalidateCache flushes both scan caches.
func (h *Handlers) InvalidateCache(c *gin.Context) {
	h.engine.Invalidate()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PrewarmCache refreshes both scan caches in the background.
func (h *Handlers) PrewarmCache(c *gin.Context) {
	h.engine.Prewarm()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Relocate drags an owner into a target zone.
func (h *Handlers) Relocate(c *gin.Context) {
	var req struct {
		Key  string `json:"key"`
		Zone string `json:"zone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}

	zone := scan.Zone(req.Zone)
	switch zone {
	case scan.ZoneVisible, scan.ZoneHidden, scan.ZoneAlwaysHidden:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "zone must be visible, hidden or always-hidden"})
		return
	}

	ok := h.engine.Relocate(c.Request.Context(), req.Key, zone)
	c.JSON(http.StatusOK, gin.H{
		"success": ok,
		"key":     req.Key,
		"zone":    req.Zone,
	})
}

// RequestPermission prompts for the portal grant.
func (h *Handlers) RequestPermission(c *gin.Context) {
	granted, err := h.engine.RequestPermission(c.Request.Context())
	if err != nil {
		h.logger.Warn("portal grant request failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"granted": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

// MetricsSummary serves the JSON snapshot for the settings dashboard.
func (h *Handlers) MetricsSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Summarize())
}
