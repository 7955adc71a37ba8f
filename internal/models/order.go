package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// LineItem is one plate size on a preorder.
type LineItem struct {
	WeightLbs      float64 `json:"weight_lbs"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int     `json:"unit_price_cents"`
}

func (i LineItem) TotalCents() int {
	return i.Quantity * i.UnitPriceCents
}

type Order struct {
	ID                    uuid.UUID     `json:"id"`
	OrderNumber           string        `json:"order_number"`
	CustomerEmail         string        `json:"customer_email"`
	CustomerName          string        `json:"customer_name"`
	CustomerPhone         string        `json:"customer_phone"`
	ShippingAddress       Address       `json:"shipping_address"`
	Items                 []LineItem    `json:"items"`
	SubtotalCents         int           `json:"subtotal_cents"`
	ShippingCents         int           `json:"shipping_cents"`
	TotalCents            int           `json:"total_cents"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	Locked                bool          `json:"locked"`
	StripeSessionID       string        `json:"stripe_session_id"`
	StripePaymentIntentID string        `json:"stripe_payment_intent_id"`
	StripeInvoiceID       string        `json:"stripe_invoice_id"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	PaidAt                time.Time     `json:"paid_at"`
}

func (o *Order) IsPaid() bool {
	return o != nil && o.PaymentStatus == PaymentPaid
}

// CanModify reports whether items and address may still change.
func (o *Order) CanModify() bool {
	return o != nil && !o.IsPaid() && !o.Locked
}

func (o *Order) TotalWeightLbs() float64 {
	if o == nil {
		return 0
	}
	var total float64
	for _, item := range o.Items {
		total += item.WeightLbs * float64(item.Quantity)
	}
	return total
}

type TimelineEvent struct {
	ID          uuid.UUID      `json:"id"`
	OrderID     uuid.UUID      `json:"order_id"`
	EventType   string         `json:"event_type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}
