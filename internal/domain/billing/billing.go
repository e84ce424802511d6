package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error taxonomy for the billing service. ErrProvider wraps any failure
// coming back from the payments provider with its message preserved;
// callers map the three classes to HTTP statuses and nothing finer.
var (
	ErrValidation = errors.New("validation error")
	ErrProvider   = errors.New("payments provider error")
	ErrNotFound   = errors.New("not found")
)

// ValidationError reports a missing or malformed input field.
func ValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// ProviderError wraps an upstream payments API failure.
func ProviderError(err error) error {
	return fmt.Errorf("%w: %v", ErrProvider, err)
}

// NotFoundError reports an entity that was expected to exist upstream.
func NotFoundError(msg string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, msg)
}

// Metadata keys attached to provider-side subscriptions.
const (
	// MetaScheduledLowerPrice records the target price of a pending
	// downgrade on the subscription being retired.
	MetaScheduledLowerPrice = "scheduled_lower_price"

	// MetaCreatedBy marks subscriptions this service created outside of
	// a checkout flow.
	MetaCreatedBy = "created_by"

	CreatedByScheduledDowngrade = "scheduled_downgrade"
)

// Reconciliation statuses for checkout sessions awaiting verification.
const (
	ReconciliationPending  = "pending"
	ReconciliationComplete = "complete"
)

// PlanChangeRecord is an audit row written for every plan-change
// transition the lifecycle manager performs.
type PlanChangeRecord struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"userId" gorm:"index"`
	Email          string    `json:"email" gorm:"index"`
	FromPriceID    string    `json:"fromPriceId"`
	ToPriceID      string    `json:"toPriceId"`
	Transition     string    `json:"transition" gorm:"index"`
	SubscriptionID string    `json:"subscriptionId"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewPlanChangeRecord(userID, email, fromPriceID, toPriceID, transition, subscriptionID string) *PlanChangeRecord {
	return &PlanChangeRecord{
		ID:             uuid.New().String(),
		UserID:         userID,
		Email:          email,
		FromPriceID:    fromPriceID,
		ToPriceID:      toPriceID,
		Transition:     transition,
		SubscriptionID: subscriptionID,
		CreatedAt:      time.Now(),
	}
}

// CheckoutReconciliation tracks a checkout session from creation until
// its completion has been verified and linked back to the internal user.
type CheckoutReconciliation struct {
	SessionID      string    `json:"sessionId" gorm:"primaryKey"`
	UserID         string    `json:"userId" gorm:"index"`
	CustomerID     string    `json:"customerId"`
	SubscriptionID string    `json:"subscriptionId"`
	Status         string    `json:"status" gorm:"index"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
