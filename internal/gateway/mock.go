package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock is the in-memory provider used in dev mode (no GATEWAY_API_KEY) and in
// tests. Grounded on the same mock-mode pattern the provider integrations in
// this codebase's sibling services use.
type Mock struct {
	mu       sync.Mutex
	sessions map[string]Session
	intents  map[string]PaymentIntent
	charges  map[string]Charge
	refunds  []Refund

	// FailCreateRefund simulates a provider outage during refund issuance.
	FailCreateRefund error
	// FailAll simulates the provider being unreachable.
	FailAll error
}

func NewMock() *Mock {
	return &Mock{
		sessions: make(map[string]Session),
		intents:  make(map[string]PaymentIntent),
		charges:  make(map[string]Charge),
	}
}

// SeedSession registers a session together with its intent and charge so the
// usual correlation walks work.
func (m *Mock) SeedSession(session Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = "cs_" + uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	m.sessions[session.ID] = session

	if session.PaymentIntentID != "" {
		chargeID := "ch_" + uuid.NewString()
		m.intents[session.PaymentIntentID] = PaymentIntent{
			ID:             session.PaymentIntentID,
			AmountCents:    session.AmountTotalCents,
			Status:         "succeeded",
			LatestChargeID: chargeID,
			Metadata:       session.Metadata,
		}
		m.charges[chargeID] = Charge{
			ID:              chargeID,
			PaymentIntentID: session.PaymentIntentID,
			AmountCents:     session.AmountTotalCents,
			Status:          "succeeded",
		}
	}
}

// SeedRefund registers an externally created refund for discovery.
func (m *Mock) SeedRefund(refund Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if refund.ID == "" {
		refund.ID = "re_" + uuid.NewString()
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	m.refunds = append(m.refunds, refund)
}

func (m *Mock) RetrieveSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return nil, m.FailAll
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (m *Mock) RetrievePaymentIntent(_ context.Context, intentID string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return nil, m.FailAll
	}
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &intent, nil
}

func (m *Mock) RetrieveCharge(_ context.Context, chargeID string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return nil, m.FailAll
	}
	charge, ok := m.charges[chargeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &charge, nil
}

func (m *Mock) ListRefundsByPaymentIntent(_ context.Context, intentID string) ([]Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return nil, m.FailAll
	}
	matched := make([]Refund, 0, 4)
	for _, refund := range m.refunds {
		if refund.PaymentIntentID == intentID {
			matched = append(matched, refund)
		}
	}
	return matched, nil
}

func (m *Mock) ListRefundsByCharge(_ context.Context, chargeID string) ([]Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return nil, m.FailAll
	}
	matched := make([]Refund, 0, 4)
	for _, refund := range m.refunds {
		if refund.ChargeID == chargeID {
			matched = append(matched, refund)
		}
	}
	return matched, nil
}

func (m *Mock) CreateRefund(_ context.Context, req CreateRefundRequest) (*Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return nil, m.FailAll
	}
	if m.FailCreateRefund != nil {
		return nil, m.FailCreateRefund
	}
	if req.PaymentIntentID == "" && req.ChargeID == "" {
		return nil, fmt.Errorf("create refund: no payment intent or charge id")
	}

	chargeID := req.ChargeID
	if chargeID == "" {
		if intent, ok := m.intents[req.PaymentIntentID]; ok {
			chargeID = intent.LatestChargeID
		}
	}

	refund := Refund{
		ID:              "re_" + uuid.NewString(),
		AmountCents:     req.AmountCents,
		Status:          RefundSucceeded,
		Reason:          req.Reason,
		PaymentIntentID: req.PaymentIntentID,
		ChargeID:        chargeID,
		CreatedAt:       time.Now().UTC(),
	}
	m.refunds = append(m.refunds, refund)
	return &refund, nil
}

func (m *Mock) ListRecentSessions(_ context.Context, limit int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return nil, m.FailAll
	}
	sessions := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
