package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/internal/services/billing/lifecycle"
	"github.com/chatwave-go/internal/services/billing/service"
	"github.com/chatwave-go/pkg/logger"
	jwtmiddleware "github.com/chatwave-go/pkg/middleware/auth"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	service *service.Service
	logger  logger.Logger
}

func New(svc *service.Service, log logger.Logger) *Handlers {
	return &Handlers{service: svc, logger: log}
}

func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.GET("/checkout-url", h.CheckoutURL)
	r.GET("/subscription-by-email", h.Subscription)
	r.POST("/cancel-subscription", h.CancelSubscription)
	r.POST("/update-subscription", h.UpdateSubscription)
	r.GET("/verify-session", h.VerifySession)
	r.GET("/products", h.Products)
}

// CheckoutURL drives the plan-change decision for the authenticated
// user. A fresh checkout returns the redirect URL; every other
// transition returns its outcome inline.
func (h *Handlers) CheckoutURL(c *gin.Context) {
	email, _ := jwtmiddleware.GetUserEmail(c)
	userID, _ := jwtmiddleware.GetUserID(c)
	priceID := c.Query("priceId")

	quantity := int64(1)
	if q := c.Query("quantity"); q != "" {
		parsed, err := strconv.ParseInt(q, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive integer"})
			return
		}
		quantity = parsed
	}

	res, err := h.service.RequestPlanChange(c.Request.Context(), email, priceID, quantity, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	switch res.Kind {
	case lifecycle.TransitionNewCheckout:
		c.JSON(http.StatusOK, gin.H{
			"checkoutUrl": res.CheckoutURL,
			"sessionId":   res.CheckoutSessionID,
		})
	case lifecycle.TransitionUpgraded:
		resp := gin.H{
			"result":       string(res.Kind),
			"subscription": res.Subscription,
		}
		if res.LatestInvoice != nil {
			resp["invoiceUrl"] = res.LatestInvoice.HostedInvoiceURL
		}
		c.JSON(http.StatusOK, resp)
	case lifecycle.TransitionDowngradeScheduled:
		c.JSON(http.StatusOK, gin.H{
			"result":       string(res.Kind),
			"subscription": res.Subscription,
			"effectiveAt":  res.EffectiveAt,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"result":       string(res.Kind),
			"subscription": res.Subscription,
		})
	}
}

// Subscription returns the caller's active subscription item, or null.
func (h *Handlers) Subscription(c *gin.Context) {
	email, _ := jwtmiddleware.GetUserEmail(c)

	item, err := h.service.SubscriptionByEmail(c.Request.Context(), email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": item})
}

type cancelRequest struct {
	SubscriptionID string `json:"subscriptionId" binding:"required"`
}

func (h *Handlers) CancelSubscription(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscriptionId is required"})
		return
	}

	userID, _ := jwtmiddleware.GetUserID(c)
	sub, err := h.service.CancelSubscription(c.Request.Context(), req.SubscriptionID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

type updateRequest struct {
	SubscriptionID string `json:"subscriptionId" binding:"required"`
	PriceID        string `json:"priceId" binding:"required"`
}

func (h *Handlers) UpdateSubscription(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscriptionId and priceId are required"})
		return
	}

	sub, err := h.service.UpdateSubscription(c.Request.Context(), req.SubscriptionID, req.PriceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func (h *Handlers) VerifySession(c *gin.Context) {
	v, err := h.service.VerifySession(c.Request.Context(), c.Query("sessionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) Products(c *gin.Context) {
	products, err := h.service.Products(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrProvider):
		h.logger.Error("payments provider error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.logger.Error("internal error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
