package repository

import (
	"context"

	"github.com/chatwave-go/internal/domain/message"
	"github.com/chatwave-go/pkg/database"
)

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&message.Message{})
}

func (r *Repository) Create(ctx context.Context, msg *message.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// Conversation returns all messages between the two users in either
// direction, oldest first.
func (r *Repository) Conversation(ctx context.Context, userA, userB string) ([]*message.Message, error) {
	var messages []*message.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}
