package handlers

import (
	"errors"
	"net/http"

	"github.com/chatwave-go/internal/domain/message"
	"github.com/chatwave-go/internal/services/chat/hub"
	"github.com/chatwave-go/internal/services/chat/service"
	"github.com/chatwave-go/pkg/logger"
	jwtmiddleware "github.com/chatwave-go/pkg/middleware/auth"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	service *service.Service
	hub     *hub.Hub
	logger  logger.Logger
}

func New(svc *service.Service, h *hub.Hub, log logger.Logger) *Handlers {
	return &Handlers{service: svc, hub: h, logger: log}
}

func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.POST("/send", h.Send)
	r.GET("/get/:receiverId", h.Conversation)
	r.GET("/ws", h.WebSocket)
}

type sendRequest struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Message    string `json:"message" binding:"required"`
}

func (h *Handlers) Send(c *gin.Context) {
	senderID, ok := jwtmiddleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiverId and message are required"})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), senderID, req.ReceiverID, req.Message)
	if err != nil {
		if errors.Is(err, message.ErrEmptyBody) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to send message", "senderId", senderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *Handlers) Conversation(c *gin.Context) {
	userID, ok := jwtmiddleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	messages, err := h.service.Conversation(c.Request.Context(), userID, c.Param("receiverId"))
	if err != nil {
		h.logger.Error("failed to load conversation", "userId", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handlers) WebSocket(c *gin.Context) {
	userID, ok := jwtmiddleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.hub.ServeWS(c.Writer, c.Request, userID); err != nil {
		h.logger.Error("websocket upgrade failed", "userId", userID, "error", err)
	}
}
