package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"
)

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) ListCustomers(ctx context.Context, email string, limit int64) ([]*stripe.Customer, error) {
	args := m.Called(ctx, email, limit)
	if v := args.Get(0); v != nil {
		return v.([]*stripe.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) CreateCustomer(ctx context.Context, email string) (*stripe.Customer, error) {
	args := m.Called(ctx, email)
	if v := args.Get(0); v != nil {
		return v.(*stripe.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) ListSubscriptions(ctx context.Context, customerID, status string, limit int64) ([]*stripe.Subscription, error) {
	args := m.Called(ctx, customerID, status, limit)
	if v := args.Get(0); v != nil {
		return v.([]*stripe.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) GetSubscription(ctx context.Context, id string, expand []string) (*stripe.Subscription, error) {
	args := m.Called(ctx, id, expand)
	if v := args.Get(0); v != nil {
		return v.(*stripe.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	args := m.Called(ctx, id, params)
	if v := args.Get(0); v != nil {
		return v.(*stripe.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*stripe.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	args := m.Called(ctx, params)
	if v := args.Get(0); v != nil {
		return v.(*stripe.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*stripe.Price), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if v := args.Get(0); v != nil {
		return v.(*stripe.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPayments) GetCheckoutSession(ctx context.Context, id string, expand []string) (*stripe.CheckoutSession, error) {
	args := m.Called(ctx, id, expand)
	if v := args.Get(0); v != nil {
		return v.(*stripe.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

const (
	testEmail      = "alice@example.com"
	testCustomerID = "cus_123"
	testSubID      = "sub_123"
	testAnchor     = int64(1756600000)
)

func activeSubscription(priceID string, unitAmount int64, cancelAtPeriodEnd bool) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                 testSubID,
		Customer:           &stripe.Customer{ID: testCustomerID},
		CancelAtPeriodEnd:  cancelAtPeriodEnd,
		BillingCycleAnchor: testAnchor,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				ID:    "si_1",
				Price: &stripe.Price{ID: priceID, UnitAmount: unitAmount},
			}},
		},
	}
}

func expectCustomer(payments *mockPayments) {
	payments.On("ListCustomers", mock.Anything, testEmail, int64(1)).
		Return([]*stripe.Customer{{ID: testCustomerID, Email: testEmail}}, nil)
}

func TestRequestPlanChange_Validation(t *testing.T) {
	m := NewManager(new(mockPayments), "https://app.test", logger.NewNop())

	_, err := m.RequestPlanChange(context.Background(), "", "price_basic", 1, "user-1")
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = m.RequestPlanChange(context.Background(), testEmail, "", 1, "user-1")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestRequestPlanChange_NewCheckout(t *testing.T) {
	payments := new(mockPayments)
	expectCustomer(payments)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{}, nil)
	payments.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p *stripe.CheckoutSessionParams) bool {
		return *p.Mode == "subscription" &&
			*p.Customer == testCustomerID &&
			*p.ClientReferenceID == "user-1" &&
			len(p.LineItems) == 1 &&
			*p.LineItems[0].Price == "price_pro" &&
			*p.LineItems[0].Quantity == 1 &&
			*p.SuccessURL == "https://app.test/subscription/status?status=success&session_id={CHECKOUT_SESSION_ID}" &&
			*p.CancelURL == "https://app.test/subscription/status?status=cancel"
	})).Return(&stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_pro", 0, "user-1")

	require.NoError(t, err)
	assert.Equal(t, TransitionNewCheckout, res.Kind)
	assert.Equal(t, "https://checkout.test/cs_1", res.CheckoutURL)
	assert.Equal(t, "cs_1", res.CheckoutSessionID)
	payments.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
	payments.AssertExpectations(t)
}

func TestRequestPlanChange_CreatesCustomerWhenMissing(t *testing.T) {
	payments := new(mockPayments)
	payments.On("ListCustomers", mock.Anything, testEmail, int64(1)).
		Return([]*stripe.Customer{}, nil)
	payments.On("CreateCustomer", mock.Anything, testEmail).
		Return(&stripe.Customer{ID: testCustomerID, Email: testEmail}, nil)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{}, nil)
	payments.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_pro", 1, "user-1")

	require.NoError(t, err)
	assert.Equal(t, TransitionNewCheckout, res.Kind)
	payments.AssertExpectations(t)
}

func TestRequestPlanChange_AlreadySubscribed(t *testing.T) {
	payments := new(mockPayments)
	expectCustomer(payments)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{activeSubscription("price_pro", 2000, false)}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_pro", 1, "user-1")

	require.NoError(t, err)
	assert.Equal(t, TransitionAlreadySubscribed, res.Kind)
	assert.Equal(t, testSubID, res.Subscription.ID)
	payments.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "GetPrice", mock.Anything, mock.Anything)
}

func TestRequestPlanChange_EqualAmountIsNoOp(t *testing.T) {
	payments := new(mockPayments)
	expectCustomer(payments)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{activeSubscription("price_pro_monthly", 2000, false)}, nil)
	payments.On("GetPrice", mock.Anything, "price_pro_monthly").
		Return(&stripe.Price{ID: "price_pro_monthly", UnitAmount: 2000}, nil)
	payments.On("GetPrice", mock.Anything, "price_pro_alt").
		Return(&stripe.Price{ID: "price_pro_alt", UnitAmount: 2000}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_pro_alt", 1, "user-1")

	require.NoError(t, err)
	assert.Equal(t, TransitionAlreadySubscribed, res.Kind)
	payments.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
}

func TestRequestPlanChange_Reactivate(t *testing.T) {
	payments := new(mockPayments)
	expectCustomer(payments)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{activeSubscription("price_pro", 2000, true)}, nil)
	payments.On("UpdateSubscription", mock.Anything, testSubID, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
		return p.CancelAtPeriodEnd != nil && !*p.CancelAtPeriodEnd &&
			p.Items == nil &&
			p.Metadata[billing.MetaScheduledLowerPrice] == ""
	})).Return(activeSubscription("price_pro", 2000, false), nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_pro", 1, "user-1")

	require.NoError(t, err)
	assert.Equal(t, TransitionReactivated, res.Kind)
	assert.False(t, res.Subscription.CancelAtPeriodEnd)
	payments.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
	payments.AssertExpectations(t)
}

func TestRequestPlanChange_Upgrade(t *testing.T) {
	payments := new(mockPayments)
	expectCustomer(payments)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{activeSubscription("price_basic", 1000, false)}, nil)
	payments.On("GetPrice", mock.Anything, "price_basic").
		Return(&stripe.Price{ID: "price_basic", UnitAmount: 1000}, nil)
	payments.On("GetPrice", mock.Anything, "price_pro").
		Return(&stripe.Price{ID: "price_pro", UnitAmount: 2000}, nil)

	upgraded := activeSubscription("price_pro", 2000, false)
	upgraded.LatestInvoice = &stripe.Invoice{ID: "in_1", HostedInvoiceURL: "https://invoice.test/in_1"}
	payments.On("UpdateSubscription", mock.Anything, testSubID, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
		return p.CancelAtPeriodEnd != nil && !*p.CancelAtPeriodEnd &&
			p.ProrationBehavior != nil && *p.ProrationBehavior == "create_prorations" &&
			len(p.Items) == 1 &&
			*p.Items[0].ID == "si_1" &&
			*p.Items[0].Price == "price_pro" &&
			p.Metadata[billing.MetaScheduledLowerPrice] == ""
	})).Return(upgraded, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_pro", 1, "user-1")

	require.NoError(t, err)
	assert.Equal(t, TransitionUpgraded, res.Kind)
	require.NotNil(t, res.LatestInvoice)
	assert.Equal(t, "https://invoice.test/in_1", res.LatestInvoice.HostedInvoiceURL)
	payments.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
	payments.AssertExpectations(t)
}

func TestRequestPlanChange_DowngradeScheduled(t *testing.T) {
	payments := new(mockPayments)
	expectCustomer(payments)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{activeSubscription("price_pro", 2000, false)}, nil)
	payments.On("GetPrice", mock.Anything, "price_pro").
		Return(&stripe.Price{ID: "price_pro", UnitAmount: 2000}, nil)
	payments.On("GetPrice", mock.Anything, "price_basic").
		Return(&stripe.Price{ID: "price_basic", UnitAmount: 1000}, nil)
	payments.On("UpdateSubscription", mock.Anything, testSubID, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
		return p.CancelAtPeriodEnd != nil && *p.CancelAtPeriodEnd &&
			p.Metadata[billing.MetaScheduledLowerPrice] == "price_basic"
	})).Return(activeSubscription("price_pro", 2000, true), nil)
	payments.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
		return *p.Customer == testCustomerID &&
			len(p.Items) == 1 &&
			*p.Items[0].Price == "price_basic" &&
			*p.BillingCycleAnchor == testAnchor &&
			*p.ProrationBehavior == "none" &&
			p.Metadata[billing.MetaCreatedBy] == billing.CreatedByScheduledDowngrade
	})).Return(&stripe.Subscription{ID: "sub_future", BillingCycleAnchor: testAnchor}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_basic", 1, "user-1")

	require.NoError(t, err)
	assert.Equal(t, TransitionDowngradeScheduled, res.Kind)
	assert.Equal(t, "sub_future", res.Subscription.ID)
	assert.Equal(t, time.Unix(testAnchor, 0), res.EffectiveAt)
	payments.AssertExpectations(t)
}

func TestRequestPlanChange_DowngradeCompensatesOnCreateFailure(t *testing.T) {
	payments := new(mockPayments)
	expectCustomer(payments)
	payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
		Return([]*stripe.Subscription{activeSubscription("price_pro", 2000, false)}, nil)
	payments.On("GetPrice", mock.Anything, "price_pro").
		Return(&stripe.Price{ID: "price_pro", UnitAmount: 2000}, nil)
	payments.On("GetPrice", mock.Anything, "price_basic").
		Return(&stripe.Price{ID: "price_basic", UnitAmount: 1000}, nil)
	payments.On("UpdateSubscription", mock.Anything, testSubID, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
		return p.CancelAtPeriodEnd != nil && *p.CancelAtPeriodEnd
	})).Return(activeSubscription("price_pro", 2000, true), nil).Once()
	payments.On("CreateSubscription", mock.Anything, mock.Anything).
		Return(nil, errors.New("card declined"))
	payments.On("UpdateSubscription", mock.Anything, testSubID, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
		return p.CancelAtPeriodEnd != nil && !*p.CancelAtPeriodEnd &&
			p.Metadata[billing.MetaScheduledLowerPrice] == ""
	})).Return(activeSubscription("price_pro", 2000, false), nil).Once()

	m := NewManager(payments, "https://app.test", logger.NewNop())
	res, err := m.RequestPlanChange(context.Background(), testEmail, "price_basic", 1, "user-1")

	assert.Nil(t, res)
	assert.ErrorIs(t, err, billing.ErrProvider)
	payments.AssertExpectations(t)
}

func TestRequestPlanChange_ProviderErrorSurfaces(t *testing.T) {
	payments := new(mockPayments)
	payments.On("ListCustomers", mock.Anything, testEmail, int64(1)).
		Return(nil, billing.ProviderError(errors.New("rate limited")))

	m := NewManager(payments, "https://app.test", logger.NewNop())
	_, err := m.RequestPlanChange(context.Background(), testEmail, "price_pro", 1, "user-1")

	assert.ErrorIs(t, err, billing.ErrProvider)
}

func TestUpdateSubscription(t *testing.T) {
	t.Run("same price is a no-op", func(t *testing.T) {
		payments := new(mockPayments)
		payments.On("GetSubscription", mock.Anything, testSubID, []string{"items.data.price"}).
			Return(activeSubscription("price_pro", 2000, false), nil)

		m := NewManager(payments, "https://app.test", logger.NewNop())
		sub, err := m.UpdateSubscription(context.Background(), testSubID, "price_pro")

		require.NoError(t, err)
		assert.Equal(t, testSubID, sub.ID)
		payments.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lower price swaps without proration", func(t *testing.T) {
		payments := new(mockPayments)
		payments.On("GetSubscription", mock.Anything, testSubID, []string{"items.data.price"}).
			Return(activeSubscription("price_pro", 2000, false), nil)
		payments.On("GetPrice", mock.Anything, "price_basic").
			Return(&stripe.Price{ID: "price_basic", UnitAmount: 1000}, nil)
		payments.On("UpdateSubscription", mock.Anything, testSubID, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
			return *p.ProrationBehavior == "none" &&
				len(p.Items) == 1 && *p.Items[0].Price == "price_basic"
		})).Return(activeSubscription("price_basic", 1000, false), nil)

		m := NewManager(payments, "https://app.test", logger.NewNop())
		sub, err := m.UpdateSubscription(context.Background(), testSubID, "price_basic")

		require.NoError(t, err)
		assert.Equal(t, "price_basic", sub.Items.Data[0].Price.ID)
		payments.AssertExpectations(t)
	})

	t.Run("higher price prorates", func(t *testing.T) {
		payments := new(mockPayments)
		payments.On("GetSubscription", mock.Anything, testSubID, []string{"items.data.price"}).
			Return(activeSubscription("price_basic", 1000, false), nil)
		payments.On("GetPrice", mock.Anything, "price_pro").
			Return(&stripe.Price{ID: "price_pro", UnitAmount: 2000}, nil)
		payments.On("UpdateSubscription", mock.Anything, testSubID, mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
			return *p.ProrationBehavior == "create_prorations"
		})).Return(activeSubscription("price_pro", 2000, false), nil)

		m := NewManager(payments, "https://app.test", logger.NewNop())
		_, err := m.UpdateSubscription(context.Background(), testSubID, "price_pro")

		require.NoError(t, err)
		payments.AssertExpectations(t)
	})

	t.Run("missing amount is rejected", func(t *testing.T) {
		payments := new(mockPayments)
		payments.On("GetSubscription", mock.Anything, testSubID, []string{"items.data.price"}).
			Return(activeSubscription("price_pro", 2000, false), nil)
		payments.On("GetPrice", mock.Anything, "price_metered").
			Return(&stripe.Price{ID: "price_metered", UnitAmount: 0}, nil)

		m := NewManager(payments, "https://app.test", logger.NewNop())
		_, err := m.UpdateSubscription(context.Background(), testSubID, "price_metered")

		assert.ErrorIs(t, err, billing.ErrValidation)
	})
}

func TestCancelSubscription(t *testing.T) {
	payments := new(mockPayments)
	payments.On("CancelSubscription", mock.Anything, testSubID).
		Return(&stripe.Subscription{ID: testSubID, Status: stripe.SubscriptionStatusCanceled}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	sub, err := m.CancelSubscription(context.Background(), testSubID)

	require.NoError(t, err)
	assert.Equal(t, stripe.SubscriptionStatusCanceled, sub.Status)

	_, err = m.CancelSubscription(context.Background(), "")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestSubscriptionByEmail(t *testing.T) {
	t.Run("no customer", func(t *testing.T) {
		payments := new(mockPayments)
		payments.On("ListCustomers", mock.Anything, testEmail, int64(1)).
			Return([]*stripe.Customer{}, nil)

		m := NewManager(payments, "https://app.test", logger.NewNop())
		item, err := m.SubscriptionByEmail(context.Background(), testEmail)

		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("no active subscription", func(t *testing.T) {
		payments := new(mockPayments)
		expectCustomer(payments)
		payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
			Return([]*stripe.Subscription{}, nil)

		m := NewManager(payments, "https://app.test", logger.NewNop())
		item, err := m.SubscriptionByEmail(context.Background(), testEmail)

		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("returns first item expanded", func(t *testing.T) {
		payments := new(mockPayments)
		expectCustomer(payments)
		payments.On("ListSubscriptions", mock.Anything, testCustomerID, "active", int64(1)).
			Return([]*stripe.Subscription{activeSubscription("price_pro", 2000, false)}, nil)
		payments.On("GetSubscription", mock.Anything, testSubID, []string{
			"latest_invoice",
			"customer.invoice_settings.default_payment_method",
			"items.data.price.product",
		}).Return(activeSubscription("price_pro", 2000, false), nil)

		m := NewManager(payments, "https://app.test", logger.NewNop())
		item, err := m.SubscriptionByEmail(context.Background(), testEmail)

		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "price_pro", item.Price.ID)
	})
}

func TestVerifySession(t *testing.T) {
	payments := new(mockPayments)
	payments.On("GetCheckoutSession", mock.Anything, "cs_1", []string{"subscription", "customer"}).
		Return(&stripe.CheckoutSession{
			ID:                "cs_1",
			Status:            stripe.CheckoutSessionStatusComplete,
			PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
			ClientReferenceID: "user-1",
			Customer:          &stripe.Customer{ID: testCustomerID},
			Subscription:      &stripe.Subscription{ID: testSubID},
		}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	v, err := m.VerifySession(context.Background(), "cs_1")

	require.NoError(t, err)
	assert.True(t, v.Paid)
	assert.Equal(t, "user-1", v.UserID)
	assert.Equal(t, testCustomerID, v.CustomerID)
	assert.Equal(t, testSubID, v.SubscriptionID)

	_, err = m.VerifySession(context.Background(), "")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestVerifySession_IncompleteSession(t *testing.T) {
	payments := new(mockPayments)
	payments.On("GetCheckoutSession", mock.Anything, "cs_2", mock.Anything).
		Return(&stripe.CheckoutSession{ID: "cs_2", Status: stripe.CheckoutSessionStatusOpen}, nil)

	m := NewManager(payments, "https://app.test", logger.NewNop())
	_, err := m.VerifySession(context.Background(), "cs_2")

	assert.ErrorIs(t, err, billing.ErrNotFound)
}
