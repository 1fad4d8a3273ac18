package escroworder

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/validation"
)

// Handler provides HTTP endpoints for escrow orders.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/delivery-proof", h.SubmitDeliveryProof)
	r.POST("/orders/:id/dispute", h.RaiseDispute)
	r.POST("/orders/:id/milestones", h.CreateMilestone)
	r.POST("/orders/:id/milestones/:index/complete", h.CompleteMilestone)
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Order id must be numeric",
		})
		return 0, false
	}
	return id, true
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var params CreateOrderParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	order, milestones, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "milestones": milestones})
}

// SubmitDeliveryProof handles POST /v1/orders/:id/delivery-proof
func (h *Handler) SubmitDeliveryProof(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var params ProofParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	proof, err := h.service.SubmitDeliveryProof(c.Request.Context(), id, params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"proof": proof})
}

// RaiseDispute handles POST /v1/orders/:id/dispute
func (h *Handler) RaiseDispute(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var params DisputeParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	order, err := h.service.RaiseDispute(c.Request.Context(), id, params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CreateMilestone handles POST /v1/orders/:id/milestones
func (h *Handler) CreateMilestone(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var params MilestoneParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	m, err := h.service.CreateMilestone(c.Request.Context(), id, params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"milestone": m})
}

// CompleteMilestone handles POST /v1/orders/:id/milestones/:index/complete
func (h *Handler) CompleteMilestone(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Milestone index must be numeric",
		})
		return
	}

	m, err := h.service.CompleteMilestone(c.Request.Context(), id, index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": m})
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
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrMilestoneNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrOrderTerminal), errors.Is(err, ErrOrderDisputed),
		errors.Is(err, ErrAlreadyDisputed), errors.Is(err, ErrMilestoneExists):
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
