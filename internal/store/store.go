package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"belanjaku/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyCancelled  = errors.New("order already cancelled")
)

// StockShortage describes one line that cannot be fulfilled.
type StockShortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockError aggregates every offending line of a failed deduction, not just
// the first. It unwraps to ErrInsufficientStock.
type StockError struct {
	Shortages []StockShortage
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// StockDeduction is one line of an inventory decrement batch.
type StockDeduction struct {
	ProductID string
	Quantity  int
}

// PaidUpdate carries the fields MarkOrderPaid writes when the unpaid→paid
// transition applies. Gateway ids only backfill empty columns; metadata is
// merged key-by-key.
type PaidUpdate struct {
	PaidAmountCents int64
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	Metadata        map[string]string
}

// GatewayRefs backfills gateway correlation ids discovered after draft time.
// Empty fields are ignored; existing non-empty columns are never overwritten.
type GatewayRefs struct {
	SessionID       string
	PaymentIntentID string
	ChargeID        string
}

type Repository interface {
	// CreateOrder writes the order row and its items. Implementations must
	// treat item insertion failure as non-fatal: the order row survives and
	// the failure is logged for audit/backfill.
	CreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// FindOrderByGatewayRef locates an order by any known gateway id
	// (session, payment intent, or charge). Used by webhook correlation.
	FindOrderByGatewayRef(ctx context.Context, ref string) (*domain.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)

	// MarkOrderPaid performs the unpaid→paid transition as a single
	// conditional update (WHERE payment_status <> 'paid'). It returns the
	// order after the call and whether this call applied the transition.
	MarkOrderPaid(ctx context.Context, orderID string, update PaidUpdate) (*domain.Order, bool, error)

	// ClaimOrderFlag atomically records (orderID, flag) if absent and reports
	// whether this call won the claim. Exactly one concurrent caller wins.
	ClaimOrderFlag(ctx context.Context, orderID string, flag string) (bool, error)
	// ReleaseOrderFlag removes a claim so a later invocation can retry the
	// guarded side effect after a failure.
	ReleaseOrderFlag(ctx context.Context, orderID string, flag string) error

	UpdateOrderGatewayRefs(ctx context.Context, orderID string, refs GatewayRefs) error

	// ApplyRefund records a gateway refund idempotently: re-applying the same
	// refund id leaves amounts and statuses unchanged. payment_status flips to
	// refunded only when the refund succeeded; a refund covering the full paid
	// amount also cancels the order.
	ApplyRefund(ctx context.Context, orderID string, refund domain.RefundState) (*domain.Order, error)

	// CancelOrder sets status=cancelled and updated_at regardless of the
	// refund outcome, and is safe to repeat. The already-cancelled rejection
	// lives in the service, before any refund is attempted.
	CancelOrder(ctx context.Context, orderID string, reason string, refundRequired bool, at time.Time) (*domain.Order, error)

	GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error)
	// DeductStock decrements each line with a conditional write
	// (stock = stock - qty only while stock >= qty), all-or-nothing. A line
	// that loses the condition fails the whole batch with a *StockError
	// naming the product and its current stock.
	DeductStock(ctx context.Context, deductions []StockDeduction) error

	// ClearCart drops the customer's cart snapshot source. Safe to repeat.
	ClearCart(ctx context.Context, customerID string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
