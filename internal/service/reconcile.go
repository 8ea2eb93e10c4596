package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"belanjaku/backend/internal/domain"
	"belanjaku/backend/internal/gateway"
	"belanjaku/backend/internal/store"
)

// verifiedMarkerTTL bounds how long a session's "already verified" marker
// lives. Verification after expiry just repeats an idempotent no-op.
const verifiedMarkerTTL = 24 * time.Hour

// ConfirmPayment converges an order to processing/paid given
// gateway-confirmed evidence, no matter how many times or from how many
// trigger paths it is invoked. The monetary transition and the stock
// deduction are guarded independently: a prior invocation may have crashed
// between marking paid and deducting stock.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, evidence domain.PaymentEvidence) (domain.ConfirmResult, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.ConfirmResult{}, err
	}

	updated, applied, err := s.repo.MarkOrderPaid(ctx, orderID, store.PaidUpdate{
		PaidAmountCents: evidence.AmountCents,
		SessionID:       evidence.SessionID,
		PaymentIntentID: evidence.PaymentIntentID,
		ChargeID:        evidence.ChargeID,
		Metadata:        evidence.Metadata,
	})
	if err != nil {
		return domain.ConfirmResult{}, err
	}

	result := domain.ConfirmResult{Order: *updated, AlreadyPaid: !applied}
	if applied {
		s.logAudit(ctx, "payment_confirmed", "order", orderID, fmt.Sprintf("paid=%d,session=%s,intent=%s", updated.PaidAmountCents, updated.SessionID, updated.PaymentIntentID))
	}

	// Safe to repeat, so no idempotency flag guards it.
	if order.CustomerID != "" {
		if err := s.repo.ClearCart(ctx, order.CustomerID); err != nil {
			log.Printf("[service] WARN: failed to clear cart customer=%s order=%s: %v", order.CustomerID, orderID, err)
		}
	}

	claimed, err := s.repo.ClaimOrderFlag(ctx, orderID, domain.FlagStockDeducted)
	if err != nil {
		return result, err
	}
	if !claimed {
		result.Order.StockDeducted = true
		return result, nil
	}

	items, err := s.repo.ListOrderItems(ctx, orderID)
	if err == nil {
		err = s.deductStock(ctx, items)
	}
	if err != nil {
		// Leave the flag unset so a later invocation retries. The order stays
		// paid: money is captured, the shortfall is an operational problem,
		// not a payment failure.
		if releaseErr := s.repo.ReleaseOrderFlag(ctx, orderID, domain.FlagStockDeducted); releaseErr != nil {
			log.Printf("[service] WARN: failed to release stock flag order=%s: %v", orderID, releaseErr)
		}
		s.logAudit(ctx, "stock_deduction_failed", "order", orderID, err.Error())
		return result, err
	}

	result.StockDeducted = true
	result.Order.StockDeducted = true
	s.logAudit(ctx, "stock_deducted", "order", orderID, fmt.Sprintf("lines=%d", len(items)))

	return result, nil
}

// ConfirmBySession reconciles from a completed checkout session pushed by
// the webhook. The order is located by the session's metadata tag, falling
// back to a stored session id.
func (s *Service) ConfirmBySession(ctx context.Context, session gateway.Session) (domain.ConfirmResult, error) {
	orderID := session.Metadata["order_id"]
	if orderID == "" {
		order, err := s.repo.FindOrderByGatewayRef(ctx, session.ID)
		if err != nil {
			return domain.ConfirmResult{}, err
		}
		orderID = order.ID
	}

	return s.ConfirmPayment(ctx, orderID, domain.PaymentEvidence{
		AmountCents:     session.AmountTotalCents,
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntentID,
		Metadata:        session.Metadata,
	})
}

// VerifyPaymentBySession is the pull-based duplicate of the webhook path: it
// looks the session up at the gateway and reconciles only when the gateway
// says the session is paid. Gateway trouble is logged and reported as
// not-verified, never as a request failure.
func (s *Service) VerifyPaymentBySession(ctx context.Context, orderID string, sessionID string) (domain.VerifyPaymentResponse, error) {
	if sessionID == "" {
		return domain.VerifyPaymentResponse{}, fmt.Errorf("%w: missing session id", store.ErrInvalidOrder)
	}

	markerKey := "verify:" + orderID + ":" + sessionID
	if seen, err := s.marker.Seen(ctx, markerKey); err != nil {
		log.Printf("[service] WARN: verification marker lookup failed order=%s: %v", orderID, err)
	} else if seen {
		return domain.VerifyPaymentResponse{Verified: true, AlreadyVerified: true}, nil
	}

	session, err := s.gw.RetrieveSession(ctx, sessionID)
	if err != nil {
		log.Printf("[service] WARN: session retrieval failed order=%s session=%s: %v", orderID, sessionID, err)
		return domain.VerifyPaymentResponse{Verified: false}, nil
	}
	if session.PaymentStatus != gateway.SessionPaid {
		return domain.VerifyPaymentResponse{Verified: false, PaymentStatus: session.PaymentStatus}, nil
	}

	_, err = s.ConfirmPayment(ctx, orderID, domain.PaymentEvidence{
		AmountCents:     session.AmountTotalCents,
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntentID,
		Metadata:        session.Metadata,
	})
	if err != nil {
		var stockErr *store.StockError
		if errors.As(err, &stockErr) {
			// Payment is captured; the customer sees success while the
			// shortfall goes to operational follow-up.
			s.markVerified(ctx, markerKey, orderID)
			return domain.VerifyPaymentResponse{Verified: true, StockIssue: stockErr.Error()}, nil
		}
		return domain.VerifyPaymentResponse{}, err
	}

	s.markVerified(ctx, markerKey, orderID)

	return domain.VerifyPaymentResponse{Verified: true}, nil
}

func (s *Service) markVerified(ctx context.Context, key string, orderID string) {
	if err := s.marker.MarkSeen(ctx, key, verifiedMarkerTTL); err != nil {
		log.Printf("[service] WARN: failed to mark session verified order=%s: %v", orderID, err)
	}
}
