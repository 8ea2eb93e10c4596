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

// SyncRefunds reconciles the order's refund state against the gateway.
// Gateway failures never propagate: the result reports Synced=false and the
// next page view or manual trigger tries again. "No refund at the gateway"
// is a successful sync, not an error.
func (s *Service) SyncRefunds(ctx context.Context, orderID string) (domain.RefundSyncResult, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.RefundSyncResult{}, err
	}

	intentID, chargeID, ok := s.discoverPaymentRefs(ctx, order)
	if !ok {
		return domain.RefundSyncResult{Synced: false}, nil
	}
	if intentID == "" && chargeID == "" {
		return domain.RefundSyncResult{Synced: true}, nil
	}

	refunds, ok := s.collectRefunds(ctx, order, intentID, chargeID)
	if !ok {
		return domain.RefundSyncResult{Synced: false}, nil
	}
	if len(refunds) == 0 {
		return domain.RefundSyncResult{Synced: true}, nil
	}

	selected := selectRefund(refunds)
	updated, err := s.repo.ApplyRefund(ctx, orderID, domain.RefundState{
		RefundID:    selected.ID,
		AmountCents: selected.AmountCents,
		Reason:      selected.Reason,
		Succeeded:   selected.Settled(),
	})
	if err != nil {
		return domain.RefundSyncResult{}, err
	}

	s.logAudit(ctx, "refund_synced", "order", orderID, fmt.Sprintf("refund=%s,amount=%d,status=%s", selected.ID, selected.AmountCents, selected.Status))

	return domain.RefundSyncResult{
		Synced:            true,
		Refunded:          updated.PaymentStatus == domain.PaymentStatusRefunded,
		RefundID:          selected.ID,
		RefundAmountCents: selected.AmountCents,
	}, nil
}

// discoverPaymentRefs runs the identifier cascade: stored ids, then the
// session lookup, then the recent-session search for legacy orders. Each
// step runs only when the previous produced nothing. Discovered ids are
// persisted back onto the order; backfill is always safe to repeat.
// ok=false means the gateway could not be consulted.
func (s *Service) discoverPaymentRefs(ctx context.Context, order *domain.Order) (intentID string, chargeID string, ok bool) {
	intentID = order.PaymentIntentID
	chargeID = order.ChargeID
	if intentID != "" || chargeID != "" {
		return intentID, chargeID, true
	}

	if order.SessionID != "" {
		session, err := s.gw.RetrieveSession(ctx, order.SessionID)
		if err != nil {
			log.Printf("[service] WARN: refund sync: session lookup failed order=%s session=%s: %v", order.ID, order.SessionID, err)
			return "", "", false
		}
		intentID = session.PaymentIntentID
		if intentID != "" {
			s.backfillRefs(ctx, order.ID, store.GatewayRefs{PaymentIntentID: intentID})
			return intentID, "", true
		}
	}

	// Legacy orders carry no identifiers at all; search the recent sessions
	// by metadata tag first, then by amount within the search window.
	sessions, err := s.gw.ListRecentSessions(ctx, 100)
	if err != nil {
		log.Printf("[service] WARN: refund sync: session search failed order=%s: %v", order.ID, err)
		return "", "", false
	}
	for _, session := range sessions {
		if !s.sessionMatchesOrder(session, order) {
			continue
		}
		s.backfillRefs(ctx, order.ID, store.GatewayRefs{
			SessionID:       session.ID,
			PaymentIntentID: session.PaymentIntentID,
		})
		return session.PaymentIntentID, "", true
	}

	return "", "", true
}

func (s *Service) sessionMatchesOrder(session gateway.Session, order *domain.Order) bool {
	if session.Metadata["order_id"] == order.ID || session.Metadata["order_number"] == order.Number {
		return true
	}
	if session.AmountTotalCents != order.TotalCents {
		return false
	}
	if session.CreatedAt.IsZero() {
		return false
	}
	delta := session.CreatedAt.Sub(order.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= s.searchWindow
}

// collectRefunds lists refunds by intent, falling back to the charge found on
// the intent, then to a stored charge id. ok=false means a gateway failure.
func (s *Service) collectRefunds(ctx context.Context, order *domain.Order, intentID string, chargeID string) ([]gateway.Refund, bool) {
	if intentID != "" {
		refunds, err := s.gw.ListRefundsByPaymentIntent(ctx, intentID)
		if err != nil {
			log.Printf("[service] WARN: refund sync: list by intent failed order=%s intent=%s: %v", order.ID, intentID, err)
			return nil, false
		}
		if len(refunds) > 0 {
			return refunds, true
		}

		if chargeID == "" {
			intent, err := s.gw.RetrievePaymentIntent(ctx, intentID)
			if err != nil {
				if errors.Is(err, gateway.ErrNotFound) {
					return nil, true
				}
				log.Printf("[service] WARN: refund sync: intent lookup failed order=%s intent=%s: %v", order.ID, intentID, err)
				return nil, false
			}
			chargeID = intent.LatestChargeID
			if chargeID != "" {
				s.backfillRefs(ctx, order.ID, store.GatewayRefs{ChargeID: chargeID})
			}
		}
	}

	if chargeID == "" {
		return nil, true
	}

	refunds, err := s.gw.ListRefundsByCharge(ctx, chargeID)
	if err != nil {
		log.Printf("[service] WARN: refund sync: list by charge failed order=%s charge=%s: %v", order.ID, chargeID, err)
		return nil, false
	}
	return refunds, true
}

// selectRefund prefers settled refunds, newest first; with nothing settled,
// the newest refund is taken and treated as pending.
func selectRefund(refunds []gateway.Refund) gateway.Refund {
	var best gateway.Refund
	bestSet := false
	for _, refund := range refunds {
		if !bestSet {
			best = refund
			bestSet = true
			continue
		}
		if refund.Settled() != best.Settled() {
			if refund.Settled() {
				best = refund
			}
			continue
		}
		if refund.CreatedAt.After(best.CreatedAt) {
			best = refund
		}
	}
	return best
}

// ApplyGatewayRefund is the push path: a webhook delivered the refund object
// directly, so there is nothing to discover. The order is located by whatever
// gateway id the refund carries.
func (s *Service) ApplyGatewayRefund(ctx context.Context, refund gateway.Refund) (domain.RefundSyncResult, error) {
	if refund.ID == "" {
		return domain.RefundSyncResult{}, fmt.Errorf("%w: refund without id", store.ErrInvalidOrder)
	}

	order, err := s.repo.FindOrderByGatewayRef(ctx, refund.PaymentIntentID)
	if errors.Is(err, store.ErrNotFound) && refund.ChargeID != "" {
		order, err = s.repo.FindOrderByGatewayRef(ctx, refund.ChargeID)
	}
	if err != nil {
		return domain.RefundSyncResult{}, err
	}

	s.backfillRefs(ctx, order.ID, store.GatewayRefs{
		PaymentIntentID: refund.PaymentIntentID,
		ChargeID:        refund.ChargeID,
	})

	updated, err := s.repo.ApplyRefund(ctx, order.ID, domain.RefundState{
		RefundID:    refund.ID,
		AmountCents: refund.AmountCents,
		Reason:      refund.Reason,
		Succeeded:   refund.Settled(),
	})
	if err != nil {
		return domain.RefundSyncResult{}, err
	}

	s.logAudit(ctx, "refund_applied", "order", order.ID, fmt.Sprintf("refund=%s,amount=%d,status=%s", refund.ID, refund.AmountCents, refund.Status))

	return domain.RefundSyncResult{
		Synced:            true,
		Refunded:          updated.PaymentStatus == domain.PaymentStatusRefunded,
		RefundID:          refund.ID,
		RefundAmountCents: refund.AmountCents,
	}, nil
}

// SyncRefundsForCharge handles refund notifications that arrive as a charge
// object rather than a refund object. The charge only says "something was
// refunded", so the order is located and then the normal discovery cascade
// fetches the actual refund records.
func (s *Service) SyncRefundsForCharge(ctx context.Context, charge gateway.Charge) (domain.RefundSyncResult, error) {
	order, err := s.repo.FindOrderByGatewayRef(ctx, charge.PaymentIntentID)
	if errors.Is(err, store.ErrNotFound) && charge.ID != "" {
		order, err = s.repo.FindOrderByGatewayRef(ctx, charge.ID)
	}
	if err != nil {
		return domain.RefundSyncResult{}, err
	}

	s.backfillRefs(ctx, order.ID, store.GatewayRefs{
		PaymentIntentID: charge.PaymentIntentID,
		ChargeID:        charge.ID,
	})

	return s.SyncRefunds(ctx, order.ID)
}

// Cancel cancels an order on behalf of a customer or admin. A captured
// payment gets an automatic refund attempt, but the cancellation itself never
// blocks on refund trouble: the order ends up cancelled either way, with
// refund_required flagged for manual handling when issuance failed.
func (s *Service) Cancel(ctx context.Context, orderID string, reason string) (domain.CancelResult, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.CancelResult{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.CancelResult{}, store.ErrAlreadyCancelled
	}

	result := domain.CancelResult{}
	refundRequired := false

	if order.PaymentStatus == domain.PaymentStatusPaid && order.PaidAmountCents > 0 {
		switch order.PaymentMethod {
		case domain.PaymentMethodCOD, domain.PaymentMethodBankTransfer:
			// Nothing captured at the gateway; plain cancel.
		default:
			if order.PaymentIntentID == "" && order.ChargeID == "" {
				refundRequired = true
				break
			}

			refund, err := s.gw.CreateRefund(ctx, gateway.CreateRefundRequest{
				PaymentIntentID: order.PaymentIntentID,
				ChargeID:        order.ChargeID,
				AmountCents:     order.PaidAmountCents,
				Reason:          reason,
				Metadata:        map[string]string{"order_id": order.ID},
			})
			if err != nil {
				log.Printf("[service] WARN: automatic refund failed order=%s: %v", orderID, err)
				refundRequired = true
				break
			}

			if _, err := s.repo.ApplyRefund(ctx, orderID, domain.RefundState{
				RefundID:    refund.ID,
				AmountCents: refund.AmountCents,
				Reason:      reason,
				Succeeded:   refund.Settled(),
			}); err != nil {
				return domain.CancelResult{}, err
			}
			result.Refunded = refund.Settled()
			result.RefundID = refund.ID
		}
	}

	// Final step, always: cancellation is never blocked by refund issues.
	if _, err := s.repo.CancelOrder(ctx, orderID, reason, refundRequired, time.Now().UTC()); err != nil {
		return domain.CancelResult{}, err
	}
	result.RefundRequired = refundRequired

	detail := fmt.Sprintf("reason=%s,refunded=%t,refund_required=%t", reason, result.Refunded, refundRequired)
	s.logAudit(ctx, "order_cancelled", "order", orderID, detail)

	return result, nil
}

func (s *Service) backfillRefs(ctx context.Context, orderID string, refs store.GatewayRefs) {
	if err := s.repo.UpdateOrderGatewayRefs(ctx, orderID, refs); err != nil {
		log.Printf("[service] WARN: failed to backfill gateway refs order=%s: %v", orderID, err)
	}
}
