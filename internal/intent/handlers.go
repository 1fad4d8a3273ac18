package intent

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/validation"
)

// Handler provides HTTP endpoints for payment intents.
type Handler struct {
	service *Service
}

// NewHandler creates a new intent handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up intent routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/intents", h.CreateIntent)
	r.POST("/intents/:id/confirm", h.ConfirmIntent)
	r.POST("/intents/:id/tx-hash", h.UpdateTransactionHash)
	r.POST("/intents/:id/cancel", h.CancelIntent)
	r.GET("/intents/:id", h.GetIntent)
}

// CreateIntent handles POST /v1/intents
func (h *Handler) CreateIntent(c *gin.Context) {
	var params CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	it, err := h.service.Create(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"intent": it})
}

// ConfirmIntent handles POST /v1/intents/:id/confirm
func (h *Handler) ConfirmIntent(c *gin.Context) {
	it, err := h.service.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": it})
}

// UpdateTransactionHash handles POST /v1/intents/:id/tx-hash
func (h *Handler) UpdateTransactionHash(c *gin.Context) {
	var body struct {
		TxHash string `json:"txHash"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	it, err := h.service.UpdateTransactionHash(c.Request.Context(), c.Param("id"), body.TxHash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": it})
}

// CancelIntent handles POST /v1/intents/:id/cancel
func (h *Handler) CancelIntent(c *gin.Context) {
	it, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": it})
}

// GetIntent handles GET /v1/intents/:id
func (h *Handler) GetIntent(c *gin.Context) {
	it, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": it})
}

func respondError(c *gin.Context, err error) {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verrs.Error(),
			"fields":  verrs,
		})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Payment intent not found",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
