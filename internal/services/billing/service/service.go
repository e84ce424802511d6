package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/internal/services/billing/lifecycle"
	"github.com/chatwave-go/internal/services/billing/repository"
	"github.com/chatwave-go/pkg/events"
	"github.com/chatwave-go/pkg/logger"
	"github.com/chatwave-go/pkg/metrics"
	"github.com/redis/go-redis/v9"
	stripe "github.com/stripe/stripe-go/v76"
)

const (
	catalogCacheKey = "billing:catalog"
	catalogCacheTTL = 5 * time.Minute
)

// CatalogAPI lists the sellable products and their prices.
type CatalogAPI interface {
	ListProducts(ctx context.Context) ([]*stripe.Product, error)
	ListPrices(ctx context.Context) ([]*stripe.Price, error)
}

// Product is a catalog entry joined with its prices.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Prices      []*stripe.Price `json:"prices"`
}

// Service wires the lifecycle manager to persistence, events and the
// product catalog cache. Plan-change decisions stay in the manager;
// everything here is bookkeeping around them.
type Service struct {
	manager  *lifecycle.Manager
	catalog  CatalogAPI
	repo     *repository.Repository
	redis    *redis.Client
	eventBus events.EventBus
	logger   logger.Logger
}

func New(manager *lifecycle.Manager, catalog CatalogAPI, repo *repository.Repository, redisClient *redis.Client, eventBus events.EventBus, log logger.Logger) *Service {
	return &Service{
		manager:  manager,
		catalog:  catalog,
		repo:     repo,
		redis:    redisClient,
		eventBus: eventBus,
		logger:   log,
	}
}

// RequestPlanChange delegates the decision to the lifecycle manager,
// then records the outcome and publishes the matching event. Audit and
// event failures are logged, not surfaced; the transition already
// happened at the provider.
func (s *Service) RequestPlanChange(ctx context.Context, email, priceID string, quantity int64, userID string) (*lifecycle.Result, error) {
	res, err := s.manager.RequestPlanChange(ctx, email, priceID, quantity, userID)
	if err != nil {
		return nil, err
	}

	metrics.PlanChangesTotal.WithLabelValues(string(res.Kind)).Inc()

	subscriptionID := ""
	fromPriceID := ""
	if res.Subscription != nil {
		subscriptionID = res.Subscription.ID
		if res.Subscription.Items != nil && len(res.Subscription.Items.Data) > 0 {
			fromPriceID = res.Subscription.Items.Data[0].Price.ID
		}
	}

	record := billing.NewPlanChangeRecord(userID, email, fromPriceID, priceID, string(res.Kind), subscriptionID)
	if err := s.repo.RecordPlanChange(ctx, record); err != nil {
		s.logger.Error("failed to record plan change", "userId", userID, "error", err)
	}

	if res.Kind == lifecycle.TransitionNewCheckout {
		rec := &billing.CheckoutReconciliation{
			SessionID: res.CheckoutSessionID,
			UserID:    userID,
			Status:    billing.ReconciliationPending,
			CreatedAt: time.Now(),
		}
		if err := s.repo.UpsertReconciliation(ctx, rec); err != nil {
			s.logger.Error("failed to record checkout session", "sessionId", res.CheckoutSessionID, "error", err)
		}
	}

	s.publishTransition(ctx, res, userID, priceID)
	return res, nil
}

func (s *Service) publishTransition(ctx context.Context, res *lifecycle.Result, userID, priceID string) {
	var eventType string
	switch res.Kind {
	case lifecycle.TransitionNewCheckout:
		eventType = events.CheckoutCreated
	case lifecycle.TransitionUpgraded:
		eventType = events.SubscriptionUpgraded
	case lifecycle.TransitionDowngradeScheduled:
		eventType = events.SubscriptionDowngradeSched
	case lifecycle.TransitionReactivated:
		eventType = events.SubscriptionReactivated
	default:
		return
	}

	subscriptionID := ""
	if res.Subscription != nil {
		subscriptionID = res.Subscription.ID
	}
	event := events.NewEventBuilder(eventType).
		WithAggregateID(subscriptionID).
		WithAggregateType("subscription").
		WithUserID(userID).
		WithPayload("priceId", priceID).
		Build()
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish billing event", "type", eventType, "error", err)
	}
}

func (s *Service) UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error) {
	return s.manager.UpdateSubscription(ctx, subscriptionID, priceID)
}

func (s *Service) CancelSubscription(ctx context.Context, subscriptionID, userID string) (*stripe.Subscription, error) {
	sub, err := s.manager.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	event := events.NewEventBuilder(events.SubscriptionCancelled).
		WithAggregateID(sub.ID).
		WithAggregateType("subscription").
		WithUserID(userID).
		Build()
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish billing event", "type", events.SubscriptionCancelled, "error", err)
	}
	return sub, nil
}

func (s *Service) SubscriptionByEmail(ctx context.Context, email string) (*stripe.SubscriptionItem, error) {
	return s.manager.SubscriptionByEmail(ctx, email)
}

// VerifySession verifies the checkout session at the provider and
// finalizes the stored reconciliation row.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*lifecycle.SessionVerification, error) {
	v, err := s.manager.VerifySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rec := &billing.CheckoutReconciliation{
		SessionID:      v.SessionID,
		UserID:         v.UserID,
		CustomerID:     v.CustomerID,
		SubscriptionID: v.SubscriptionID,
		Status:         billing.ReconciliationComplete,
		CreatedAt:      time.Now(),
	}
	if existing, err := s.repo.ReconciliationBySession(ctx, sessionID); err == nil {
		rec.CreatedAt = existing.CreatedAt
		if rec.UserID == "" {
			rec.UserID = existing.UserID
		}
	}
	if err := s.repo.UpsertReconciliation(ctx, rec); err != nil {
		s.logger.Error("failed to finalize reconciliation", "sessionId", sessionID, "error", err)
	}

	event := events.NewEventBuilder(events.CheckoutVerified).
		WithAggregateID(v.SessionID).
		WithAggregateType("checkout_session").
		WithUserID(rec.UserID).
		WithPayload("subscriptionId", v.SubscriptionID).
		Build()
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish billing event", "type", events.CheckoutVerified, "error", err)
	}
	return v, nil
}

// Products returns the catalog of products joined with their prices,
// served from redis for five minutes at a time.
func (s *Service) Products(ctx context.Context) ([]*Product, error) {
	if cached, err := s.redis.Get(ctx, catalogCacheKey).Result(); err == nil {
		var products []*Product
		if err := json.Unmarshal([]byte(cached), &products); err == nil {
			return products, nil
		}
	}

	stripeProducts, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := s.catalog.ListPrices(ctx)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string][]*stripe.Price)
	for _, p := range prices {
		if p.Product == nil {
			continue
		}
		byProduct[p.Product.ID] = append(byProduct[p.Product.ID], p)
	}

	products := make([]*Product, 0, len(stripeProducts))
	for _, sp := range stripeProducts {
		products = append(products, &Product{
			ID:          sp.ID,
			Name:        sp.Name,
			Description: sp.Description,
			Prices:      byProduct[sp.ID],
		})
	}

	if payload, err := json.Marshal(products); err == nil {
		if err := s.redis.Set(ctx, catalogCacheKey, payload, catalogCacheTTL).Err(); err != nil {
			s.logger.Warn("failed to cache product catalog", "error", err)
		}
	}
	return products, nil
}
