package db

import "github.com/bumperworks/preorders/internal/models"

type Order = models.Order
type LineItem = models.LineItem
type PaymentStatus = models.PaymentStatus

const (
	PaymentPending   = models.PaymentPending
	PaymentPaid      = models.PaymentPaid
	PaymentFailed    = models.PaymentFailed
	PaymentCancelled = models.PaymentCancelled
)
