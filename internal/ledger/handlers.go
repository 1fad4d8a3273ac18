package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for balance and ledger history queries.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new ledger handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:id/balance", h.GetBalance)
	r.GET("/merchants/:id/ledger", h.ListEntries)
}

// GetBalance handles GET /v1/merchants/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	acct, err := h.engine.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load balance",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": acct})
}

// ListEntries handles GET /v1/merchants/:id/ledger
func (h *Handler) ListEntries(c *gin.Context) {
	filter := EntryFilter{
		Type:      EntryType(c.Query("type")),
		Reference: c.Query("reference"),
		Limit:     50,
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
			if filter.Limit > 200 {
				filter.Limit = 200
			}
		}
	}

	entries, err := h.engine.ListEntries(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load ledger entries",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
