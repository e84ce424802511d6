package message

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyBody = errors.New("message body is empty")

// Message is a single chat message between two users.
type Message struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	SenderID   string    `json:"senderId" gorm:"index:idx_conversation;not null"`
	ReceiverID string    `json:"receiverId" gorm:"index:idx_conversation;not null"`
	Body       string    `json:"message" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"`
}

func New(senderID, receiverID, body string) (*Message, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	return &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  time.Now(),
	}, nil
}
