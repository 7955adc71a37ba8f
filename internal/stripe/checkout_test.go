package stripe

import (
	"testing"

	"github.com/google/uuid"

	"github.com/bumperworks/preorders/internal/models"
)

func TestBuildCheckoutParams(t *testing.T) {
	t.Parallel()

	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "BP-1001",
		CustomerEmail: "lifter@example.com",
		Items: []models.LineItem{
			{WeightLbs: 45, Quantity: 2, UnitPriceCents: 12900},
			{WeightLbs: 2.5, Quantity: 4, UnitPriceCents: 1900},
		},
		ShippingCents: 4500,
	}

	params, err := buildCheckoutParams(PaymentLinkParams{
		Order:      order,
		SuccessURL: "https://plates.example.com/orders/BP-1001/thanks",
		CancelURL:  "https://plates.example.com/orders/BP-1001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(params.LineItems))
	}
	if got := *params.LineItems[1].PriceData.ProductData.Name; got != "2.5 lb bumper plate" {
		t.Fatalf("unexpected product name %q", got)
	}
	if params.Metadata[MetadataOrderNumber] != "BP-1001" {
		t.Fatalf("expected order number metadata, got %v", params.Metadata)
	}
	if params.CustomerEmail == nil || *params.CustomerEmail != "lifter@example.com" {
		t.Fatalf("expected customer email to be set")
	}
	if len(params.ShippingOptions) != 1 || *params.ShippingOptions[0].ShippingRateData.FixedAmount.Amount != 4500 {
		t.Fatalf("expected freight shipping option")
	}
}

func TestBuildCheckoutParams_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		order *models.Order
	}{
		{name: "nil order", order: nil},
		{name: "no items", order: &models.Order{OrderNumber: "BP-1"}},
		{name: "zero quantity", order: &models.Order{OrderNumber: "BP-2", Items: []models.LineItem{{WeightLbs: 10, Quantity: 0, UnitPriceCents: 100}}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := buildCheckoutParams(PaymentLinkParams{Order: tt.order}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
