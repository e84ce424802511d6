package service

import (
	"context"

	"github.com/chatwave-go/internal/domain/message"
	"github.com/chatwave-go/internal/services/chat/hub"
	"github.com/chatwave-go/internal/services/chat/repository"
	"github.com/chatwave-go/pkg/events"
	"github.com/chatwave-go/pkg/logger"
	"github.com/chatwave-go/pkg/metrics"
)

// Service persists messages and fans them out to online recipients.
type Service struct {
	repo     *repository.Repository
	hub      *hub.Hub
	eventBus events.EventBus
	logger   logger.Logger
}

func New(repo *repository.Repository, h *hub.Hub, eventBus events.EventBus, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		hub:      h,
		eventBus: eventBus,
		logger:   log,
	}
}

// Send stores the message, then pushes it to the receiver's open
// websocket connections and publishes the domain event. The write is
// the only step that can fail the request.
func (s *Service) Send(ctx context.Context, senderID, receiverID, body string) (*message.Message, error) {
	msg, err := message.New(senderID, receiverID, body)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}

	metrics.MessagesSentTotal.Inc()
	s.hub.SendToUser(receiverID, msg)

	event := events.NewEventBuilder(events.MessageSent).
		WithAggregateID(msg.ID).
		WithAggregateType("message").
		WithUserID(senderID).
		WithPayload("receiverId", receiverID).
		Build()
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish message event", "messageId", msg.ID, "error", err)
	}

	return msg, nil
}

func (s *Service) Conversation(ctx context.Context, userID, otherID string) ([]*message.Message, error) {
	return s.repo.Conversation(ctx, userID, otherID)
}
