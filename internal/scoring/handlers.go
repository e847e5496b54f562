package scoring

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskflow/internal/pagination"
)

// Handler provides HTTP endpoints for risk scoring
type Handler struct {
	service *Service
}

// NewHandler creates a new scoring handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scoring routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/score", h.ComputeScore)
	r.GET("/risk/score/:entity_type/:entity_id", h.GetCachedScore)
	r.POST("/risk/score/batch", h.ComputeScoreBatch)
	r.GET("/risk/score/:entity_type/:entity_id/history", h.GetScoreHistory)
}

// ComputeScore handles POST /risk/score
func (h *Handler) ComputeScore(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.ComputeScore(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute score",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetCachedScore handles GET /risk/score/:entity_type/:entity_id
func (h *Handler) GetCachedScore(c *gin.Context) {
	entityType := c.Param("entity_type")
	entityID := c.Param("entity_id")

	result, err := h.service.GetCachedScore(c.Request.Context(), entityType, entityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read score cache",
		})
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No cached score for entity",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// BatchScoreRequest for scoring multiple entities in one call
type BatchScoreRequest struct {
	Requests []*ScoreRequest `json:"requests" binding:"required"`
}

// ComputeScoreBatch handles POST /risk/score/batch
func (h *Handler) ComputeScoreBatch(c *gin.Context) {
	var req BatchScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	results, err := h.service.ComputeScoreBatch(c.Request.Context(), req.Requests)
	if err != nil {
		if errors.Is(err, ErrBatchTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "batch_too_large",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute batch scores",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// GetScoreHistory handles GET /risk/score/:entity_type/:entity_id/history
// Supports cursor pagination via ?cursor= and ?limit=.
func (h *Handler) GetScoreHistory(c *gin.Context) {
	if h.service.store == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Score history is not enabled",
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid cursor",
		})
		return
	}

	var before time.Time
	var beforeID string
	if cursor != nil {
		before = cursor.CreatedAt
		beforeID = cursor.ID
	}

	// Fetch one extra row to detect whether another page exists.
	scores, err := h.service.store.ListPage(
		c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"), before, beforeID, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read score history",
		})
		return
	}

	scores, nextCursor, hasMore := pagination.ComputePage(scores, limit, func(sc *StoredScore) (time.Time, string) {
		return sc.CreatedAt, sc.ID
	})

	items := make([]gin.H, 0, len(scores))
	for _, sc := range scores {
		items = append(items, gin.H{
			"id":          sc.ID,
			"entity_type": sc.EntityType,
			"entity_id":   sc.EntityID,
			"result":      sc.Result,
			"created_at":  sc.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"scores":      items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}
