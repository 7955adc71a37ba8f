package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bumperworks/preorders/internal/models"
)

const orderColumns = `
	id, order_number, customer_email, customer_name, customer_phone, shipping_address, items,
	subtotal_cents, shipping_cents, total_cents, payment_status, locked,
	stripe_session_id, stripe_payment_intent_id, stripe_invoice_id,
	created_at, updated_at, paid_at`

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// PaidUpdate carries the Stripe identifiers recorded when an order is paid.
type PaidUpdate struct {
	SessionID       string
	PaymentIntentID string
	InvoiceID       string
	CustomerEmail   string
	CustomerName    string
}

func (s *OrderStore) GetByOrderNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return s.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, strings.TrimSpace(orderNumber))
}

func (s *OrderStore) GetByStripeSessionID(ctx context.Context, sessionID string) (*Order, error) {
	return s.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID)
}

func (s *OrderStore) GetByStripeInvoiceID(ctx context.Context, invoiceID string) (*Order, error) {
	return s.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE stripe_invoice_id = $1 ORDER BY created_at DESC LIMIT 1`, invoiceID)
}

// FindLatestPendingByEmail returns the most recent pending order for the address.
func (s *OrderStore) FindLatestPendingByEmail(ctx context.Context, email string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE lower(customer_email) = lower($1) AND payment_status = $2
		ORDER BY created_at DESC LIMIT 1`
	return s.getOne(ctx, query, strings.TrimSpace(email), PaymentPending)
}

// MarkPaid moves a pending or failed order to paid. A paid order matches no
// row, so only one of several concurrent writers transitions it.
func (s *OrderStore) MarkPaid(ctx context.Context, orderID uuid.UUID, update PaidUpdate) error {
	query := `
		UPDATE orders
		SET payment_status = $1,
		    stripe_session_id = COALESCE(NULLIF($2, ''), stripe_session_id),
		    stripe_payment_intent_id = COALESCE(NULLIF($3, ''), stripe_payment_intent_id),
		    stripe_invoice_id = COALESCE(NULLIF($4, ''), stripe_invoice_id),
		    customer_email = COALESCE(NULLIF($5, ''), customer_email),
		    customer_name = COALESCE(NULLIF($6, ''), customer_name),
		    paid_at = COALESCE(paid_at, NOW()),
		    updated_at = NOW()
		WHERE id = $7 AND payment_status IN ('pending', 'failed')
	`
	cmdTag, err := s.pool.Exec(ctx, query, PaymentPaid, update.SessionID, update.PaymentIntentID,
		update.InvoiceID, update.CustomerEmail, update.CustomerName, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending/failed", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OrderStore) MarkFailed(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status IN ('pending', 'failed')
	`
	cmdTag, err := s.pool.Exec(ctx, query, PaymentFailed, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending/failed", ErrInvalidStatusTransition)
	}
	return nil
}

// MarkCancelled releases the payment-link lock so the order can be re-quoted.
func (s *OrderStore) MarkCancelled(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET payment_status = $1, locked = FALSE, updated_at = NOW()
		WHERE id = $2 AND payment_status = 'pending'
	`
	cmdTag, err := s.pool.Exec(ctx, query, PaymentCancelled, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OrderStore) SetInvoiceID(ctx context.Context, orderID uuid.UUID, invoiceID string) error {
	query := `UPDATE orders SET stripe_invoice_id = $1, updated_at = NOW() WHERE id = $2`
	cmdTag, err := s.pool.Exec(ctx, query, invoiceID, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LockWithPaymentLink stores the checkout session and locks the order. A pending
// order that is already locked keeps its current session.
func (s *OrderStore) LockWithPaymentLink(ctx context.Context, orderID uuid.UUID, sessionID string) error {
	query := `
		UPDATE orders
		SET stripe_session_id = $1, locked = TRUE, updated_at = NOW()
		WHERE id = $2 AND (payment_status = 'failed' OR (payment_status = 'pending' AND NOT locked))
	`
	cmdTag, err := s.pool.Exec(ctx, query, sessionID, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected failed or unlocked pending", ErrInvalidStatusTransition)
	}
	return nil
}

// UpdateItems replaces line items and totals unless the order is paid or locked.
func (s *OrderStore) UpdateItems(ctx context.Context, orderID uuid.UUID, items []LineItem, subtotalCents, shippingCents int) error {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	query := `
		UPDATE orders
		SET items = $1, subtotal_cents = $2, shipping_cents = $3, total_cents = $2 + $3, updated_at = NOW()
		WHERE id = $4 AND payment_status <> 'paid' AND locked = FALSE
	`
	cmdTag, err := s.pool.Exec(ctx, query, itemsJSON, subtotalCents, shippingCents, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderLocked
	}
	return nil
}

func (s *OrderStore) getOne(ctx context.Context, query string, args ...any) (*Order, error) {
	order, err := scanOrder(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return order, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order           Order
		customerEmail   pgtype.Text
		customerName    pgtype.Text
		customerPhone   pgtype.Text
		addressJSON     []byte
		itemsJSON       []byte
		status          string
		sessionID       pgtype.Text
		paymentIntentID pgtype.Text
		invoiceID       pgtype.Text
		paidAt          pgtype.Timestamptz
	)

	if err := row.Scan(
		&order.ID, &order.OrderNumber, &customerEmail, &customerName, &customerPhone, &addressJSON, &itemsJSON,
		&order.SubtotalCents, &order.ShippingCents, &order.TotalCents, &status, &order.Locked,
		&sessionID, &paymentIntentID, &invoiceID,
		&order.CreatedAt, &order.UpdatedAt, &paidAt,
	); err != nil {
		return nil, err
	}

	order.PaymentStatus = models.PaymentStatus(status)
	order.CustomerEmail = customerEmail.String
	order.CustomerName = customerName.String
	order.CustomerPhone = customerPhone.String
	order.StripeSessionID = sessionID.String
	order.StripePaymentIntentID = paymentIntentID.String
	order.StripeInvoiceID = invoiceID.String
	if paidAt.Valid {
		order.PaidAt = paidAt.Time
	}

	if len(addressJSON) > 0 {
		if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
			return nil, fmt.Errorf("failed to decode shipping address: %w", err)
		}
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items: %w", err)
		}
	}

	return &order, nil
}
