package stripe

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v84"

	"github.com/bumperworks/preorders/internal/models"
)

// MetadataOrderNumber is the checkout metadata key that links a session to an order.
const MetadataOrderNumber = "order_number"

// Client creates Checkout Sessions used as preorder payment links.
type Client struct {
	client *stripe.Client
}

func NewClient(secretKey string) *Client {
	return &Client{client: stripe.NewClient(secretKey)}
}

type PaymentLinkParams struct {
	Order      *models.Order
	SuccessURL string
	CancelURL  string
}

// CreatePaymentLink opens a checkout session covering every line item and shipping.
func (c *Client) CreatePaymentLink(ctx context.Context, params PaymentLinkParams) (*stripe.CheckoutSession, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("stripe client not configured")
	}

	sessionParams, err := buildCheckoutParams(params)
	if err != nil {
		return nil, err
	}

	sess, err := c.client.V1CheckoutSessions.Create(ctx, sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess, nil
}

func buildCheckoutParams(params PaymentLinkParams) (*stripe.CheckoutSessionCreateParams, error) {
	order := params.Order
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("order %s has no items", order.OrderNumber)
	}

	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity <= 0 || item.UnitPriceCents <= 0 {
			return nil, fmt.Errorf("order %s has an invalid line item", order.OrderNumber)
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String("usd"),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(plateName(item.WeightLbs)),
				},
				UnitAmount: stripe.Int64(int64(item.UnitPriceCents)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	sessionParams := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems:  lineItems,
		Metadata: map[string]string{
			MetadataOrderNumber: order.OrderNumber,
			"order_id":          order.ID.String(),
		},
		ClientReferenceID: stripe.String(order.OrderNumber),
	}
	if order.ShippingCents > 0 {
		sessionParams.ShippingOptions = []*stripe.CheckoutSessionCreateShippingOptionParams{
			{
				ShippingRateData: &stripe.CheckoutSessionCreateShippingOptionShippingRateDataParams{
					DisplayName: stripe.String("Freight"),
					Type:        stripe.String(string(stripe.ShippingRateTypeFixedAmount)),
					FixedAmount: &stripe.CheckoutSessionCreateShippingOptionShippingRateDataFixedAmountParams{
						Amount:   stripe.Int64(int64(order.ShippingCents)),
						Currency: stripe.String("usd"),
					},
				},
			},
		}
	}
	// Only send the e-mail when present to avoid Stripe validation errors.
	if order.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(order.CustomerEmail)
	}

	return sessionParams, nil
}

func plateName(weightLbs float64) string {
	return strconv.FormatFloat(weightLbs, 'f', -1, 64) + " lb bumper plate"
}
