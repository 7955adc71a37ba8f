// Package services holds the webhook reliability logic between handlers and stores.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
)

var ErrOrderNotFound = errors.New("order not found")

// LookupStrategy names the rule that located an order.
type LookupStrategy string

const (
	LookupMetadataOrderNumber LookupStrategy = "metadata_order_number"
	LookupPendingEmail        LookupStrategy = "pending_email"
	LookupSessionID           LookupStrategy = "session_id"
)

type OrderFinder interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindLatestPendingByEmail(ctx context.Context, email string) (*models.Order, error)
	GetByStripeSessionID(ctx context.Context, sessionID string) (*models.Order, error)
}

// CheckoutLookup is what a checkout session tells us about its order.
type CheckoutLookup struct {
	OrderNumber string
	Email       string
	SessionID   string
}

type lookupStrategy struct {
	tag  LookupStrategy
	find func(ctx context.Context, lookup CheckoutLookup) (*models.Order, error)
}

// OrderResolver tries each strategy in order and returns the first match.
type OrderResolver struct {
	strategies []lookupStrategy
}

func NewOrderResolver(finder OrderFinder) *OrderResolver {
	return &OrderResolver{
		strategies: []lookupStrategy{
			{
				tag: LookupMetadataOrderNumber,
				find: func(ctx context.Context, lookup CheckoutLookup) (*models.Order, error) {
					if strings.TrimSpace(lookup.OrderNumber) == "" {
						return nil, nil
					}
					return finder.GetByOrderNumber(ctx, lookup.OrderNumber)
				},
			},
			{
				tag: LookupPendingEmail,
				find: func(ctx context.Context, lookup CheckoutLookup) (*models.Order, error) {
					if strings.TrimSpace(lookup.Email) == "" {
						return nil, nil
					}
					return finder.FindLatestPendingByEmail(ctx, lookup.Email)
				},
			},
			{
				tag: LookupSessionID,
				find: func(ctx context.Context, lookup CheckoutLookup) (*models.Order, error) {
					if strings.TrimSpace(lookup.SessionID) == "" {
						return nil, nil
					}
					return finder.GetByStripeSessionID(ctx, lookup.SessionID)
				},
			},
		},
	}
}

// Resolve returns ErrOrderNotFound when no strategy matches. Store failures
// other than not-found stop the chain so the caller can retry the event.
func (r *OrderResolver) Resolve(ctx context.Context, lookup CheckoutLookup) (*models.Order, LookupStrategy, error) {
	metadataMissed := false
	for _, strategy := range r.strategies {
		order, err := strategy.find(ctx, lookup)
		if errors.Is(err, db.ErrNotFound) {
			if strategy.tag == LookupMetadataOrderNumber {
				metadataMissed = true
			}
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("order lookup by %s failed: %w", strategy.tag, err)
		}
		if order != nil {
			if metadataMissed {
				logging.FromContext(ctx, nil).Warn("metadata order number matched no order; resolved by fallback",
					"metadata_order_number", lookup.OrderNumber, "order_number", order.OrderNumber, "lookup_strategy", string(strategy.tag))
			}
			return order, strategy.tag, nil
		}
	}
	return nil, "", ErrOrderNotFound
}
