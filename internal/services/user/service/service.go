package service

import (
	"context"
	"errors"
	"time"

	"github.com/chatwave-go/internal/domain/user"
	"github.com/chatwave-go/internal/services/user/repository"
	"github.com/chatwave-go/pkg/auth/jwt"
	"github.com/chatwave-go/pkg/events"
	"github.com/chatwave-go/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Service implements account registration and session management.
type Service struct {
	repo     *repository.Repository
	jwt      *jwt.Manager
	redis    *redis.Client
	eventBus events.EventBus
	logger   logger.Logger
}

func New(repo *repository.Repository, jwtManager *jwt.Manager, redisClient *redis.Client, eventBus events.EventBus, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		jwt:      jwtManager,
		redis:    redisClient,
		eventBus: eventBus,
		logger:   log,
	}
}

func (s *Service) Register(ctx context.Context, name, email, password string) (*user.User, error) {
	if _, err := s.repo.ByEmail(ctx, email); err == nil {
		return nil, user.ErrEmailTaken
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, err
	}

	u, err := user.NewUser(name, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	event := events.NewEventBuilder(events.UserRegistered).
		WithAggregateID(u.ID).
		WithAggregateType("user").
		WithUserID(u.ID).
		WithPayload("email", u.Email).
		Build()
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish user event", "type", events.UserRegistered, "error", err)
	}

	s.logger.Info("user registered", "userId", u.ID)
	return u, nil
}

// Login verifies credentials and issues a token. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*user.User, string, error) {
	u, err := s.repo.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, "", user.ErrInvalidLogin
		}
		return nil, "", err
	}
	if !u.CheckPassword(password) {
		return nil, "", user.ErrInvalidLogin
	}

	token, err := s.jwt.GenerateToken(u.ID, u.Name, u.Email)
	if err != nil {
		return nil, "", err
	}

	event := events.NewEventBuilder(events.UserLoggedIn).
		WithAggregateID(u.ID).
		WithAggregateType("user").
		WithUserID(u.ID).
		Build()
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish user event", "type", events.UserLoggedIn, "error", err)
	}

	return u, token, nil
}

func (s *Service) UserByID(ctx context.Context, id string) (*user.User, error) {
	return s.repo.ByID(ctx, id)
}

func (s *Service) Users(ctx context.Context) ([]*user.User, error) {
	return s.repo.All(ctx)
}

// Logout blacklists the token in redis until it would have expired, so
// the middleware rejects it on every service from now on.
func (s *Service) Logout(ctx context.Context, token, userID string) error {
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return err
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, "blacklist:"+token, "1", ttl).Err(); err != nil {
		return err
	}

	event := events.NewEventBuilder(events.UserLoggedOut).
		WithAggregateID(userID).
		WithAggregateType("user").
		WithUserID(userID).
		Build()
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish user event", "type", events.UserLoggedOut, "error", err)
	}
	return nil
}
