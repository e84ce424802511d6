package stripe

import (
	"context"
	"time"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/pkg/metrics"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Client adapts the stripe-go SDK to the PaymentsAPI the lifecycle
// manager consumes. The API key is held by an injected client handle,
// never by package-level state.
//
// Listing calls return records in the provider's most-recent-first
// order; callers that take the first element are relying on that.
type Client struct {
	api *client.API
}

func NewClient(secretKey string) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Client{api: api}
}

func (c *Client) instrument(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ProviderCallsTotal.WithLabelValues(op, status).Inc()
	metrics.ProviderCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Customer operations

func (c *Client) ListCustomers(ctx context.Context, email string, limit int64) (_ []*stripe.Customer, err error) {
	start := time.Now()
	defer func() { c.instrument("customers.list", start, err) }()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)

	var customers []*stripe.Customer
	iter := c.api.Customers.List(params)
	for iter.Next() {
		customers = append(customers, iter.Customer())
	}
	if iterErr := iter.Err(); iterErr != nil {
		err = billing.ProviderError(iterErr)
		return nil, err
	}
	return customers, nil
}

func (c *Client) CreateCustomer(ctx context.Context, email string) (_ *stripe.Customer, err error) {
	start := time.Now()
	defer func() { c.instrument("customers.create", start, err) }()

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx

	customer, err := c.api.Customers.New(params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return customer, nil
}

// Subscription operations

func (c *Client) ListSubscriptions(ctx context.Context, customerID, status string, limit int64) (_ []*stripe.Subscription, err error) {
	start := time.Now()
	defer func() { c.instrument("subscriptions.list", start, err) }()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(status),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)

	var subs []*stripe.Subscription
	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if iterErr := iter.Err(); iterErr != nil {
		err = billing.ProviderError(iterErr)
		return nil, err
	}
	return subs, nil
}

func (c *Client) GetSubscription(ctx context.Context, id string, expand []string) (_ *stripe.Subscription, err error) {
	start := time.Now()
	defer func() { c.instrument("subscriptions.get", start, err) }()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	for _, e := range expand {
		params.AddExpand(e)
	}

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return sub, nil
}

func (c *Client) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (_ *stripe.Subscription, err error) {
	start := time.Now()
	defer func() { c.instrument("subscriptions.update", start, err) }()

	params.Context = ctx
	sub, err := c.api.Subscriptions.Update(id, params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return sub, nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) (_ *stripe.Subscription, err error) {
	start := time.Now()
	defer func() { c.instrument("subscriptions.cancel", start, err) }()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Cancel(id, params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return sub, nil
}

func (c *Client) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (_ *stripe.Subscription, err error) {
	start := time.Now()
	defer func() { c.instrument("subscriptions.create", start, err) }()

	params.Context = ctx
	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return sub, nil
}

// Price and product operations

func (c *Client) GetPrice(ctx context.Context, id string) (_ *stripe.Price, err error) {
	start := time.Now()
	defer func() { c.instrument("prices.get", start, err) }()

	params := &stripe.PriceParams{}
	params.Context = ctx

	price, err := c.api.Prices.Get(id, params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return price, nil
}

func (c *Client) ListProducts(ctx context.Context) (_ []*stripe.Product, err error) {
	start := time.Now()
	defer func() { c.instrument("products.list", start, err) }()

	params := &stripe.ProductListParams{}
	params.Context = ctx

	var products []*stripe.Product
	iter := c.api.Products.List(params)
	for iter.Next() {
		products = append(products, iter.Product())
	}
	if iterErr := iter.Err(); iterErr != nil {
		err = billing.ProviderError(iterErr)
		return nil, err
	}
	return products, nil
}

func (c *Client) ListPrices(ctx context.Context) (_ []*stripe.Price, err error) {
	start := time.Now()
	defer func() { c.instrument("prices.list", start, err) }()

	params := &stripe.PriceListParams{}
	params.Context = ctx
	params.AddExpand("data.tiers")

	var prices []*stripe.Price
	iter := c.api.Prices.List(params)
	for iter.Next() {
		prices = append(prices, iter.Price())
	}
	if iterErr := iter.Err(); iterErr != nil {
		err = billing.ProviderError(iterErr)
		return nil, err
	}
	return prices, nil
}

// Checkout session operations

func (c *Client) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (_ *stripe.CheckoutSession, err error) {
	start := time.Now()
	defer func() { c.instrument("checkout.sessions.create", start, err) }()

	params.Context = ctx
	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return session, nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, id string, expand []string) (_ *stripe.CheckoutSession, err error) {
	start := time.Now()
	defer func() { c.instrument("checkout.sessions.get", start, err) }()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	for _, e := range expand {
		params.AddExpand(e)
	}

	session, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		err = billing.ProviderError(err)
		return nil, err
	}
	return session, nil
}
