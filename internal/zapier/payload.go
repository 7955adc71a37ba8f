// Package zapier builds and delivers outbound order notifications.
package zapier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bumperworks/preorders/internal/models"
)

var (
	ErrPayloadTooLarge    = errors.New("webhook payload exceeds size limit")
	ErrMissingOrderFields = errors.New("order is missing required fields")
)

type Payload struct {
	Event     models.WebhookEvent `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
	Order     OrderSection        `json:"order"`
	Customer  *CustomerSection    `json:"customer,omitempty"`
	Items     []ItemSection       `json:"items,omitempty"`
	Pricing   *PricingSection     `json:"pricing,omitempty"`
	Shipping  *ShippingSection    `json:"shipping,omitempty"`
}

type OrderSection struct {
	ID            uuid.UUID            `json:"id"`
	OrderNumber   string               `json:"order_number"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Locked        bool                 `json:"locked"`
	CreatedAt     time.Time            `json:"created_at"`
	PaidAt        *time.Time           `json:"paid_at,omitempty"`
}

type CustomerSection struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ItemSection carries prices only when pricing is included.
type ItemSection struct {
	WeightLbs      float64 `json:"weight_lbs"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents *int    `json:"unit_price_cents,omitempty"`
	LineTotalCents *int    `json:"line_total_cents,omitempty"`
}

type PricingSection struct {
	Currency      string `json:"currency"`
	SubtotalCents int    `json:"subtotal_cents"`
	ShippingCents int    `json:"shipping_cents"`
	TotalCents    int    `json:"total_cents"`
}

type ShippingSection struct {
	Address        models.Address `json:"address"`
	TotalWeightLbs float64        `json:"total_weight_lbs"`
}

// NewPayload assembles the sections enabled in settings.
func NewPayload(event models.WebhookEvent, order *models.Order, settings models.WebhookSettings, now time.Time) (*Payload, error) {
	if order == nil || order.ID == uuid.Nil || strings.TrimSpace(order.OrderNumber) == "" {
		return nil, ErrMissingOrderFields
	}

	payload := &Payload{
		Event:     event,
		Timestamp: now.UTC(),
		Order: OrderSection{
			ID:            order.ID,
			OrderNumber:   order.OrderNumber,
			PaymentStatus: order.PaymentStatus,
			Locked:        order.Locked,
			CreatedAt:     order.CreatedAt,
		},
	}
	if !order.PaidAt.IsZero() {
		paidAt := order.PaidAt
		payload.Order.PaidAt = &paidAt
	}

	if settings.IncludeCustomerData {
		payload.Customer = &CustomerSection{
			Email: order.CustomerEmail,
			Name:  order.CustomerName,
			Phone: order.CustomerPhone,
		}
	}

	if settings.IncludeOrderItems {
		payload.Items = make([]ItemSection, 0, len(order.Items))
		for _, item := range order.Items {
			section := ItemSection{WeightLbs: item.WeightLbs, Quantity: item.Quantity}
			if settings.IncludePricing {
				unit := item.UnitPriceCents
				total := item.TotalCents()
				section.UnitPriceCents = &unit
				section.LineTotalCents = &total
			}
			payload.Items = append(payload.Items, section)
		}
	}

	if settings.IncludePricing {
		payload.Pricing = &PricingSection{
			Currency:      "usd",
			SubtotalCents: order.SubtotalCents,
			ShippingCents: order.ShippingCents,
			TotalCents:    order.TotalCents,
		}
	}

	if settings.IncludeShipping {
		payload.Shipping = &ShippingSection{
			Address:        order.ShippingAddress,
			TotalWeightLbs: order.TotalWeightLbs(),
		}
	}

	return payload, nil
}

// BuildPayload encodes the notification body and enforces maxBytes when positive.
func BuildPayload(event models.WebhookEvent, order *models.Order, settings models.WebhookSettings, maxBytes int) ([]byte, error) {
	payload, err := NewPayload(event, order, settings, time.Now())
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	if err := CheckSize(body, maxBytes); err != nil {
		return nil, err
	}
	return body, nil
}

func CheckSize(body []byte, maxBytes int) error {
	if maxBytes > 0 && len(body) > maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrPayloadTooLarge, len(body), maxBytes)
	}
	return nil
}

// ValidateOrder lists every problem that would make a notification unusable.
func ValidateOrder(order *models.Order) []string {
	if order == nil {
		return []string{"order is missing"}
	}

	var problems []string
	if order.ID == uuid.Nil {
		problems = append(problems, "order id is missing")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		problems = append(problems, "order number is missing")
	}
	if strings.TrimSpace(order.CustomerEmail) == "" {
		problems = append(problems, "customer email is missing")
	}
	if order.PaymentStatus == "" {
		problems = append(problems, "payment status is missing")
	}
	if len(order.Items) == 0 {
		problems = append(problems, "order has no items")
	}
	for i, item := range order.Items {
		if item.WeightLbs <= 0 {
			problems = append(problems, fmt.Sprintf("item %d has non-positive weight", i+1))
		}
		if item.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("item %d has non-positive quantity", i+1))
		}
		if item.UnitPriceCents <= 0 {
			problems = append(problems, fmt.Sprintf("item %d has non-positive price", i+1))
		}
	}
	return problems
}
