// Package gateway talks to the external payment provider. The provider is the
// source of truth for whether money actually moved; everything here is
// read-mostly and fallible, and callers treat failures as soft unless money
// is being created (CreateRefund).
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("gateway object not found")
	// ErrRateLimited is returned after the single 429 retry is exhausted.
	ErrRateLimited = errors.New("gateway rate limited")
)

const (
	SessionPaid   = "paid"
	SessionUnpaid = "unpaid"
)

const (
	RefundSucceeded = "succeeded"
	RefundPaid      = "paid"
	RefundPending   = "pending"
	RefundFailed    = "failed"
)

// Session is a checkout session as reported by the provider.
type Session struct {
	ID               string            `json:"id"`
	PaymentIntentID  string            `json:"payment_intent"`
	AmountTotalCents int64             `json:"amount_total"`
	Currency         string            `json:"currency"`
	PaymentStatus    string            `json:"payment_status"`
	Metadata         map[string]string `json:"metadata"`
	CreatedAt        time.Time         `json:"-"`
}

type PaymentIntent struct {
	ID             string            `json:"id"`
	AmountCents    int64             `json:"amount"`
	Status         string            `json:"status"`
	LatestChargeID string            `json:"latest_charge"`
	Metadata       map[string]string `json:"metadata"`
}

type Charge struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent"`
	AmountCents     int64  `json:"amount"`
	Status          string `json:"status"`
	Refunded        bool   `json:"refunded"`
}

type Refund struct {
	ID              string    `json:"id"`
	AmountCents     int64     `json:"amount"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason"`
	PaymentIntentID string    `json:"payment_intent"`
	ChargeID        string    `json:"charge"`
	CreatedAt       time.Time `json:"-"`
}

// Settled reports a terminal-success refund status. Anything else is treated
// as pending and must not flip the order's payment_status.
func (r Refund) Settled() bool {
	return r.Status == RefundSucceeded || r.Status == RefundPaid
}

// CreateRefundRequest targets the payment intent when known, else the charge.
type CreateRefundRequest struct {
	PaymentIntentID string
	ChargeID        string
	AmountCents     int64
	Reason          string
	// Metadata tags the refund with the local order id for later discovery.
	Metadata map[string]string
}

type Client interface {
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error)
	ListRefundsByPaymentIntent(ctx context.Context, intentID string) ([]Refund, error)
	ListRefundsByCharge(ctx context.Context, chargeID string) ([]Refund, error)
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error)
	// ListRecentSessions is the legacy-order fallback: sessions created in the
	// recent window, newest first, for metadata/amount matching.
	ListRecentSessions(ctx context.Context, limit int) ([]Session, error)
}
