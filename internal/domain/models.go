package domain

import "time"

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusReturned   = "returned"
)

const (
	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

const (
	PaymentMethodCard         = "card"
	PaymentMethodGateway      = "gateway"
	PaymentMethodCOD          = "cod"
	PaymentMethodBankTransfer = "bank_transfer"
)

// FlagStockDeducted is the per-order effect name recorded in order_flags once
// inventory has been decremented for the order's line items.
const FlagStockDeducted = "stock_deducted"

// MetaRefundRequired marks an order whose cancellation could not issue an
// automatic refund; money is still captured and ops must refund manually.
const MetaRefundRequired = "refund_required"

type Order struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	CustomerID string `json:"customer_id,omitempty"`

	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`

	TotalCents        int64 `json:"total_cents"`
	PaidAmountCents   int64 `json:"paid_amount_cents"`
	RefundAmountCents int64 `json:"refund_amount_cents"`

	// Gateway correlation ids, progressively discovered over the order's life.
	SessionID       string `json:"session_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	ChargeID        string `json:"charge_id,omitempty"`

	RefundID     string `json:"refund_id,omitempty"`
	RefundReason string `json:"refund_reason,omitempty"`

	PaymentMethod   string            `json:"payment_method"`
	ShippingAddress string            `json:"shipping_address,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	StockDeducted bool `json:"stock_deducted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Items []OrderItem `json:"items,omitempty"`
}

// OrderItem is immutable once created; it is a snapshot of the cart line at
// draft time, not a reference into the catalog.
type OrderItem struct {
	OrderID         string `json:"order_id"`
	ProductID       string `json:"product_id"`
	Name            string `json:"name"`
	UnitAmountCents int64  `json:"unit_amount_cents"`
	Quantity        int    `json:"quantity"`
}

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
	Active     bool   `json:"active"`
}

type Actor struct {
	Username string
	Role     string
}

type DraftItem struct {
	ProductID       string `json:"product_id"`
	Name            string `json:"name"`
	UnitAmountCents int64  `json:"unit_amount_cents"`
	Quantity        int    `json:"quantity"`
}

type DraftRequest struct {
	CustomerID      string            `json:"customer_id,omitempty"`
	ShippingAddress string            `json:"shipping_address"`
	PaymentMethod   string            `json:"payment_method"`
	Items           []DraftItem       `json:"items"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type DraftResponse struct {
	Order Order `json:"order"`
}

// PaymentEvidence is gateway-confirmed proof that a payment succeeded. The
// reconciler acts only on what is passed here; verification against the
// gateway is the caller's job.
type PaymentEvidence struct {
	AmountCents     int64
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	Metadata        map[string]string
}

type ConfirmResult struct {
	Order Order `json:"order"`
	// AlreadyPaid reports that the monetary transition was a no-op because a
	// previous invocation already marked the order paid.
	AlreadyPaid bool `json:"already_paid"`
	// StockDeducted reports whether this invocation performed the deduction.
	StockDeducted bool `json:"stock_deducted"`
}

// RefundState is what a discovered or pushed gateway refund boils down to
// before it is applied onto the order row.
type RefundState struct {
	RefundID    string
	AmountCents int64
	Reason      string
	// Succeeded is true only for terminal-success gateway statuses; a pending
	// refund is recorded but does not flip payment_status.
	Succeeded bool
}

type RefundSyncResult struct {
	Synced            bool   `json:"synced"`
	Refunded          bool   `json:"refunded"`
	RefundID          string `json:"refund_id,omitempty"`
	RefundAmountCents int64  `json:"refund_amount_cents,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CancelResult struct {
	Refunded bool   `json:"refunded"`
	RefundID string `json:"refund_id,omitempty"`
	// RefundRequired means the order is cancelled but money is still captured;
	// the refund must be processed manually.
	RefundRequired bool `json:"refund_required"`
}

type VerifyPaymentRequest struct {
	SessionID string `json:"session_id"`
}

type VerifyPaymentResponse struct {
	Verified        bool   `json:"verified"`
	AlreadyVerified bool   `json:"already_verified"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	StockIssue      string `json:"stock_issue,omitempty"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
