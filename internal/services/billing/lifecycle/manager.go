package lifecycle

import (
	"context"
	"time"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/pkg/logger"
	"github.com/chatwave-go/pkg/saga"
	stripe "github.com/stripe/stripe-go/v76"
)

// PaymentsAPI is the slice of the payments provider the lifecycle
// manager needs. The stripe adapter implements it; tests mock it.
type PaymentsAPI interface {
	ListCustomers(ctx context.Context, email string, limit int64) ([]*stripe.Customer, error)
	CreateCustomer(ctx context.Context, email string) (*stripe.Customer, error)
	ListSubscriptions(ctx context.Context, customerID, status string, limit int64) ([]*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string, expand []string) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string, expand []string) (*stripe.CheckoutSession, error)
}

// TransitionKind names the outcome of a plan-change request.
type TransitionKind string

const (
	TransitionNewCheckout        TransitionKind = "new_checkout"
	TransitionAlreadySubscribed  TransitionKind = "already_subscribed"
	TransitionReactivated        TransitionKind = "reactivated"
	TransitionUpgraded           TransitionKind = "upgraded"
	TransitionDowngradeScheduled TransitionKind = "downgrade_scheduled"
)

// Result is the outcome of RequestPlanChange. Which fields are set
// depends on Kind: NewCheckout carries the checkout URL and session ID,
// Upgraded additionally carries the latest invoice, DowngradeScheduled
// carries the future subscription and the moment it takes over.
type Result struct {
	Kind              TransitionKind       `json:"kind"`
	CheckoutURL       string               `json:"checkoutUrl,omitempty"`
	CheckoutSessionID string               `json:"checkoutSessionId,omitempty"`
	Subscription      *stripe.Subscription `json:"subscription,omitempty"`
	LatestInvoice     *stripe.Invoice      `json:"latestInvoice,omitempty"`
	EffectiveAt       time.Time            `json:"effectiveAt,omitempty"`
}

// Manager decides how a plan-change request maps onto provider calls.
// It is stateless; every decision is derived from the provider's
// current view of the customer.
type Manager struct {
	payments    PaymentsAPI
	frontendURL string
	logger      logger.Logger
}

func NewManager(payments PaymentsAPI, frontendURL string, log logger.Logger) *Manager {
	return &Manager{
		payments:    payments,
		frontendURL: frontendURL,
		logger:      log,
	}
}

// RequestPlanChange resolves the customer's current subscription state
// and performs exactly one transition: a fresh checkout when no active
// subscription exists, a no-op when the requested price is already
// active, a reactivation when a pending cancellation targets the same
// price, an immediate prorated upgrade, or a scheduled end-of-period
// downgrade.
func (m *Manager) RequestPlanChange(ctx context.Context, email, priceID string, quantity int64, userID string) (*Result, error) {
	if email == "" {
		return nil, billing.ValidationError("email is required")
	}
	if priceID == "" {
		return nil, billing.ValidationError("priceId is required")
	}
	if quantity <= 0 {
		quantity = 1
	}

	customer, err := m.resolveCustomer(ctx, email)
	if err != nil {
		return nil, err
	}

	subs, err := m.payments.ListSubscriptions(ctx, customer.ID, string(stripe.SubscriptionStatusActive), 1)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return m.newCheckout(ctx, customer, priceID, quantity, userID)
	}

	current := subs[0]
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, billing.NotFoundError("subscription has no items")
	}
	currentItem := current.Items.Data[0]
	currentPriceID := currentItem.Price.ID

	if currentPriceID == priceID {
		if current.CancelAtPeriodEnd {
			return m.reactivate(ctx, current)
		}
		m.logger.Info("plan change is a no-op, price already active",
			"subscriptionId", current.ID, "priceId", priceID)
		return &Result{Kind: TransitionAlreadySubscribed, Subscription: current}, nil
	}

	currentPrice, err := m.payments.GetPrice(ctx, currentPriceID)
	if err != nil {
		return nil, err
	}
	requestedPrice, err := m.payments.GetPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}

	switch {
	case requestedPrice.UnitAmount > currentPrice.UnitAmount:
		return m.upgrade(ctx, current, currentItem, priceID)
	case requestedPrice.UnitAmount < currentPrice.UnitAmount:
		return m.scheduleDowngrade(ctx, current, priceID)
	default:
		// Equal amounts on different prices (e.g. another interval at
		// the same rate) change nothing.
		m.logger.Info("plan change is a no-op, amounts are equal",
			"subscriptionId", current.ID, "priceId", priceID)
		return &Result{Kind: TransitionAlreadySubscribed, Subscription: current}, nil
	}
}

// resolveCustomer returns the existing customer for the email, creating
// one when none exists. The provider lists most-recent-first and we take
// the first match.
func (m *Manager) resolveCustomer(ctx context.Context, email string) (*stripe.Customer, error) {
	customers, err := m.payments.ListCustomers(ctx, email, 1)
	if err != nil {
		return nil, err
	}
	if len(customers) > 0 {
		return customers[0], nil
	}
	return m.payments.CreateCustomer(ctx, email)
}

func (m *Manager) newCheckout(ctx context.Context, customer *stripe.Customer, priceID string, quantity int64, userID string) (*Result, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customer.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(quantity),
		}},
		SuccessURL: stripe.String(m.frontendURL + "/subscription/status?status=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(m.frontendURL + "/subscription/status?status=cancel"),
	}
	if userID != "" {
		params.ClientReferenceID = stripe.String(userID)
	}

	session, err := m.payments.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}

	m.logger.Info("checkout session created",
		"sessionId", session.ID, "customerId", customer.ID, "priceId", priceID)
	return &Result{
		Kind:              TransitionNewCheckout,
		CheckoutURL:       session.URL,
		CheckoutSessionID: session.ID,
	}, nil
}

// reactivate clears a pending cancellation on a subscription whose
// current price matches the requested one. No item swap happens.
func (m *Manager) reactivate(ctx context.Context, current *stripe.Subscription) (*Result, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.AddMetadata(billing.MetaScheduledLowerPrice, "")
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := m.payments.UpdateSubscription(ctx, current.ID, params)
	if err != nil {
		return nil, err
	}

	m.logger.Info("subscription reactivated", "subscriptionId", sub.ID)
	return &Result{Kind: TransitionReactivated, Subscription: sub}, nil
}

// upgrade swaps the subscription item onto the higher price with an
// immediate proration, clearing any pending cancellation or scheduled
// downgrade left behind by an earlier request.
func (m *Manager) upgrade(ctx context.Context, current *stripe.Subscription, currentItem *stripe.SubscriptionItem, priceID string) (*Result, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
		ProrationBehavior: stripe.String("create_prorations"),
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(currentItem.ID),
			Price: stripe.String(priceID),
		}},
	}
	params.AddMetadata(billing.MetaScheduledLowerPrice, "")
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := m.payments.UpdateSubscription(ctx, current.ID, params)
	if err != nil {
		return nil, err
	}

	m.logger.Info("subscription upgraded",
		"subscriptionId", sub.ID, "priceId", priceID)
	return &Result{
		Kind:          TransitionUpgraded,
		Subscription:  sub,
		LatestInvoice: sub.LatestInvoice,
	}, nil
}

// scheduleDowngrade is a two-call sequence: flag the current
// subscription to lapse at period end, then create the lower-priced
// subscription anchored to the same period boundary so billing
// continuity is preserved. If the second call fails the flag and
// metadata are rolled back.
func (m *Manager) scheduleDowngrade(ctx context.Context, current *stripe.Subscription, priceID string) (*Result, error) {
	anchor := current.BillingCycleAnchor
	var future *stripe.Subscription

	orch := saga.NewOrchestrator()
	orch.AddStep(saga.Step{
		Name: "flag-cancel-at-period-end",
		Action: func(ctx context.Context) error {
			params := &stripe.SubscriptionParams{
				CancelAtPeriodEnd: stripe.Bool(true),
			}
			params.AddMetadata(billing.MetaScheduledLowerPrice, priceID)
			_, err := m.payments.UpdateSubscription(ctx, current.ID, params)
			return err
		},
		Compensation: func(ctx context.Context) error {
			params := &stripe.SubscriptionParams{
				CancelAtPeriodEnd: stripe.Bool(false),
			}
			params.AddMetadata(billing.MetaScheduledLowerPrice, "")
			_, err := m.payments.UpdateSubscription(ctx, current.ID, params)
			return err
		},
	})
	orch.AddStep(saga.Step{
		Name: "create-future-subscription",
		Action: func(ctx context.Context) error {
			params := &stripe.SubscriptionParams{
				Customer: stripe.String(current.Customer.ID),
				Items: []*stripe.SubscriptionItemsParams{{
					Price: stripe.String(priceID),
				}},
				BillingCycleAnchor: stripe.Int64(anchor),
				ProrationBehavior:  stripe.String("none"),
			}
			params.AddMetadata(billing.MetaCreatedBy, billing.CreatedByScheduledDowngrade)
			sub, err := m.payments.CreateSubscription(ctx, params)
			if err != nil {
				return err
			}
			future = sub
			return nil
		},
	})

	if err := orch.Execute(ctx); err != nil {
		m.logger.Error("downgrade scheduling failed",
			"subscriptionId", current.ID, "priceId", priceID, "error", err)
		return nil, billing.ProviderError(err)
	}

	m.logger.Info("downgrade scheduled",
		"subscriptionId", current.ID, "futureSubscriptionId", future.ID,
		"priceId", priceID, "effectiveAt", anchor)
	return &Result{
		Kind:         TransitionDowngradeScheduled,
		Subscription: future,
		EffectiveAt:  time.Unix(anchor, 0),
	}, nil
}

// UpdateSubscription swaps a known subscription onto a new price
// directly, prorating only when the price goes up. It is the narrow
// variant used when the caller already holds the subscription ID.
func (m *Manager) UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, billing.ValidationError("subscriptionId is required")
	}
	if priceID == "" {
		return nil, billing.ValidationError("priceId is required")
	}

	current, err := m.payments.GetSubscription(ctx, subscriptionID, []string{"items.data.price"})
	if err != nil {
		return nil, err
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, billing.NotFoundError("subscription has no items")
	}
	currentItem := current.Items.Data[0]
	if currentItem.Price.ID == priceID {
		return current, nil
	}

	requestedPrice, err := m.payments.GetPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if requestedPrice.UnitAmount == 0 || currentItem.Price.UnitAmount == 0 {
		return nil, billing.ValidationError("price amount is not available")
	}

	prorate := "create_prorations"
	if requestedPrice.UnitAmount < currentItem.Price.UnitAmount {
		prorate = "none"
	}

	params := &stripe.SubscriptionParams{
		ProrationBehavior: stripe.String(prorate),
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(currentItem.ID),
			Price: stripe.String(priceID),
		}},
	}
	params.AddExpand("latest_invoice.payment_intent")

	return m.payments.UpdateSubscription(ctx, subscriptionID, params)
}

// CancelSubscription cancels immediately at the provider.
func (m *Manager) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, billing.ValidationError("subscriptionId is required")
	}
	sub, err := m.payments.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("subscription cancelled", "subscriptionId", sub.ID)
	return sub, nil
}

// SubscriptionByEmail returns the first active subscription item for the
// customer with that email, or nil when the customer or subscription
// does not exist.
func (m *Manager) SubscriptionByEmail(ctx context.Context, email string) (*stripe.SubscriptionItem, error) {
	if email == "" {
		return nil, billing.ValidationError("email is required")
	}

	customers, err := m.payments.ListCustomers(ctx, email, 1)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, nil
	}

	subs, err := m.payments.ListSubscriptions(ctx, customers[0].ID, string(stripe.SubscriptionStatusActive), 1)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}

	sub, err := m.payments.GetSubscription(ctx, subs[0].ID, []string{
		"latest_invoice",
		"customer.invoice_settings.default_payment_method",
		"items.data.price.product",
	})
	if err != nil {
		return nil, err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, nil
	}
	return sub.Items.Data[0], nil
}

// VerifySession fetches a checkout session and reports whether payment
// completed, along with the identifiers needed to link it back to the
// internal user.
type SessionVerification struct {
	Paid           bool   `json:"paid"`
	SessionID      string `json:"sessionId"`
	CustomerID     string `json:"customerId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

func (m *Manager) VerifySession(ctx context.Context, sessionID string) (*SessionVerification, error) {
	if sessionID == "" {
		return nil, billing.ValidationError("sessionId is required")
	}

	session, err := m.payments.GetCheckoutSession(ctx, sessionID, []string{"subscription", "customer"})
	if err != nil {
		return nil, err
	}
	if session.Status != stripe.CheckoutSessionStatusComplete {
		return nil, billing.NotFoundError("checkout session not complete")
	}

	v := &SessionVerification{
		Paid:      session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		SessionID: session.ID,
		UserID:    session.ClientReferenceID,
	}
	if session.Customer != nil {
		v.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		v.SubscriptionID = session.Subscription.ID
	}
	return v, nil
}
