package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"belanjaku/backend/internal/domain"
	"belanjaku/backend/internal/gateway"
	"belanjaku/backend/internal/store"
	"belanjaku/backend/internal/store/memory"
)

func paidOrder(t *testing.T, svc *Service, repo *memory.Store) domain.Order {
	t.Helper()

	order := draftTwoLines(t, svc, repo, "cust-1")
	result, err := svc.ConfirmPayment(context.Background(), order.ID, cardEvidence())
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	return result.Order
}

// paidOrderNoRefs marks an order paid without storing any gateway ids, the
// shape legacy orders arrive in.
func paidOrderNoRefs(t *testing.T, svc *Service, repo *memory.Store) domain.Order {
	t.Helper()

	order := draftTwoLines(t, svc, repo, "cust-1")
	updated, _, err := repo.MarkOrderPaid(context.Background(), order.ID, store.PaidUpdate{})
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	return *updated
}

func TestSyncRefundsNoRefundFound(t *testing.T) {
	svc, repo, _ := newTestEnv()
	order := paidOrder(t, svc, repo)

	result, err := svc.SyncRefunds(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Synced {
		t.Fatalf("an empty gateway answer is still a completed sync")
	}
	if result.Refunded || result.RefundID != "" {
		t.Fatalf("nothing should be applied: %+v", result)
	}
}

func TestSyncRefundsAppliesFullRefund(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := paidOrder(t, svc, repo)
	gw.SeedRefund(gateway.Refund{
		ID:              "re_full_1",
		AmountCents:     50000,
		Status:          gateway.RefundSucceeded,
		PaymentIntentID: "pi_test_1",
	})

	result, err := svc.SyncRefunds(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Synced || !result.Refunded || result.RefundID != "re_full_1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.PaymentStatus)
	}
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("full refund must cancel the order, got %s", stored.Status)
	}
	if stored.RefundAmountCents != 50000 {
		t.Fatalf("expected refund amount 50000, got %d", stored.RefundAmountCents)
	}

	// Applying the same refund again must not double count anything.
	result, err = svc.SyncRefunds(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("repeat sync failed: %v", err)
	}
	if result.RefundID != "re_full_1" {
		t.Fatalf("repeat sync picked a different refund: %+v", result)
	}
	repeated, _ := repo.GetOrderByID(context.Background(), order.ID)
	if repeated.RefundAmountCents != 50000 || repeated.Status != domain.OrderStatusCancelled {
		t.Fatalf("repeat application changed state: %+v", repeated)
	}
}

func TestSyncRefundsPartialKeepsPaid(t *testing.T) {
	svc, repo, gw := newTestEnv()
	repo.SetProduct(domain.Product{ID: "prod-c", Name: "Product C", PriceCents: 10000, Stock: 3, Active: true})

	resp, err := svc.CreateDraft(context.Background(), domain.DraftRequest{
		PaymentMethod: domain.PaymentMethodCard,
		Items: []domain.DraftItem{
			{ProductID: "prod-c", Name: "Product C", UnitAmountCents: 10000, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create draft failed: %v", err)
	}
	if _, err := svc.ConfirmPayment(context.Background(), resp.Order.ID, domain.PaymentEvidence{
		AmountCents:     10000,
		PaymentIntentID: "pi_partial_1",
	}); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	gw.SeedRefund(gateway.Refund{
		ID:              "re_partial_1",
		AmountCents:     4000,
		Status:          gateway.RefundSucceeded,
		PaymentIntentID: "pi_partial_1",
	})

	result, err := svc.SyncRefunds(context.Background(), resp.Order.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Refunded {
		t.Fatalf("a partial refund must not report the order refunded")
	}

	stored, _ := repo.GetOrderByID(context.Background(), resp.Order.ID)
	if stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("partial refund must leave payment status paid, got %s", stored.PaymentStatus)
	}
	if stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("partial refund must leave order status unchanged, got %s", stored.Status)
	}
	if stored.RefundID != "re_partial_1" || stored.RefundAmountCents != 4000 {
		t.Fatalf("refund fields not recorded: %+v", stored)
	}
}

func TestSyncRefundsPrefersSettledRefund(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := paidOrder(t, svc, repo)

	gw.SeedRefund(gateway.Refund{
		ID:              "re_pending_1",
		AmountCents:     50000,
		Status:          gateway.RefundPending,
		PaymentIntentID: "pi_test_1",
		CreatedAt:       time.Now().UTC(),
	})
	gw.SeedRefund(gateway.Refund{
		ID:              "re_settled_1",
		AmountCents:     50000,
		Status:          gateway.RefundSucceeded,
		PaymentIntentID: "pi_test_1",
		CreatedAt:       time.Now().UTC().Add(-time.Hour),
	})

	result, err := svc.SyncRefunds(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.RefundID != "re_settled_1" {
		t.Fatalf("expected the settled refund to win, got %s", result.RefundID)
	}
	if !result.Refunded {
		t.Fatalf("settled full refund must report refunded")
	}
}

func TestSyncRefundsGatewayDownIsSoft(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := paidOrder(t, svc, repo)
	gw.FailAll = errors.New("gateway unreachable")

	result, err := svc.SyncRefunds(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("gateway outage must not fail the sync call: %v", err)
	}
	if result.Synced {
		t.Fatalf("outage must report sync incomplete")
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.RefundID != "" {
		t.Fatalf("outage must not mutate the order: %+v", stored)
	}
}

func TestSyncRefundsDiscoversViaSessionLookup(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := paidOrderNoRefs(t, svc, repo)
	if err := repo.UpdateOrderGatewayRefs(context.Background(), order.ID, store.GatewayRefs{SessionID: "cs_legacy_1"}); err != nil {
		t.Fatalf("set session id failed: %v", err)
	}

	gw.SeedSession(gateway.Session{
		ID:               "cs_legacy_1",
		PaymentIntentID:  "pi_legacy_1",
		AmountTotalCents: 50000,
		PaymentStatus:    gateway.SessionPaid,
	})
	gw.SeedRefund(gateway.Refund{
		ID:              "re_legacy_1",
		AmountCents:     50000,
		Status:          gateway.RefundSucceeded,
		PaymentIntentID: "pi_legacy_1",
	})

	result, err := svc.SyncRefunds(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Refunded || result.RefundID != "re_legacy_1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.PaymentIntentID != "pi_legacy_1" {
		t.Fatalf("discovered intent id not backfilled: %+v", stored)
	}
}

func TestSyncRefundsDiscoversViaRecentSessionSearch(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := paidOrderNoRefs(t, svc, repo)

	gw.SeedSession(gateway.Session{
		ID:               "cs_search_1",
		PaymentIntentID:  "pi_search_1",
		AmountTotalCents: 50000,
		PaymentStatus:    gateway.SessionPaid,
		Metadata:         map[string]string{"order_id": order.ID},
	})
	gw.SeedRefund(gateway.Refund{
		ID:              "re_search_1",
		AmountCents:     50000,
		Status:          gateway.RefundSucceeded,
		PaymentIntentID: "pi_search_1",
	})

	result, err := svc.SyncRefunds(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Refunded || result.RefundID != "re_search_1" {
		t.Fatalf("session search did not find the refund: %+v", result)
	}
}

func TestApplyGatewayRefundPushPath(t *testing.T) {
	svc, repo, _ := newTestEnv()
	order := paidOrder(t, svc, repo)

	refund := gateway.Refund{
		ID:              "re_push_1",
		AmountCents:     50000,
		Status:          gateway.RefundSucceeded,
		PaymentIntentID: "pi_test_1",
	}
	result, err := svc.ApplyGatewayRefund(context.Background(), refund)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !result.Refunded || result.RefundID != "re_push_1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Redelivered webhook, same refund object.
	if _, err := svc.ApplyGatewayRefund(context.Background(), refund); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.RefundAmountCents != 50000 || stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("redelivery changed state: %+v", stored)
	}
}

func TestApplyGatewayRefundUnknownOrder(t *testing.T) {
	svc, _, _ := newTestEnv()

	_, err := svc.ApplyGatewayRefund(context.Background(), gateway.Refund{
		ID:              "re_orphan_1",
		PaymentIntentID: "pi_orphan_1",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelUnpaidOrderSkipsRefund(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := draftTwoLines(t, svc, repo, "cust-1")

	result, err := svc.Cancel(context.Background(), order.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if result.Refunded || result.RefundRequired {
		t.Fatalf("unpaid cancellation must not involve a refund: %+v", result)
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if refunds, _ := gw.ListRefundsByPaymentIntent(context.Background(), "pi_test_1"); len(refunds) != 0 {
		t.Fatalf("no refund should have been created")
	}
}

func TestCancelPaidOrderIssuesFullRefund(t *testing.T) {
	svc, repo, _ := newTestEnv()
	order := paidOrder(t, svc, repo)

	result, err := svc.Cancel(context.Background(), order.ID, "customer request")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !result.Refunded || result.RefundID == "" || result.RefundRequired {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if stored.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.PaymentStatus)
	}
	if stored.RefundAmountCents != 50000 {
		t.Fatalf("expected full refund of 50000, got %d", stored.RefundAmountCents)
	}
}

func TestCancelNeverBlocksOnRefundFailure(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := paidOrder(t, svc, repo)
	gw.FailCreateRefund = errors.New("provider 500")

	result, err := svc.Cancel(context.Background(), order.ID, "customer request")
	if err != nil {
		t.Fatalf("refund failure must not fail the cancellation: %v", err)
	}
	if result.Refunded {
		t.Fatalf("no refund was issued")
	}
	if !result.RefundRequired {
		t.Fatalf("expected refund_required outcome")
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("money is still captured, expected paid, got %s", stored.PaymentStatus)
	}
	if stored.Metadata[domain.MetaRefundRequired] != "true" {
		t.Fatalf("expected refund_required flag in metadata: %v", stored.Metadata)
	}
}

func TestCancelCODSkipsRefundCall(t *testing.T) {
	svc, repo, _ := newTestEnv()
	repo.SetProduct(domain.Product{ID: "prod-a", Name: "Product A", PriceCents: 20000, Stock: 5, Active: true})

	resp, err := svc.CreateDraft(context.Background(), domain.DraftRequest{
		PaymentMethod: domain.PaymentMethodCOD,
		Items: []domain.DraftItem{
			{ProductID: "prod-a", Name: "Product A", UnitAmountCents: 20000, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create draft failed: %v", err)
	}
	if _, _, err := repo.MarkOrderPaid(context.Background(), resp.Order.ID, store.PaidUpdate{}); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}

	result, err := svc.Cancel(context.Background(), resp.Order.ID, "address unreachable")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if result.Refunded || result.RefundRequired {
		t.Fatalf("cod cancellation needs no refund handling: %+v", result)
	}

	stored, _ := repo.GetOrderByID(context.Background(), resp.Order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
}

func TestCancelPaidWithoutIdentifiersFlagsManualRefund(t *testing.T) {
	svc, repo, _ := newTestEnv()
	order := paidOrderNoRefs(t, svc, repo)

	result, err := svc.Cancel(context.Background(), order.ID, "no gateway trail")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !result.RefundRequired {
		t.Fatalf("expected manual refund flag when no identifiers are stored")
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusCancelled || stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected state: %s/%s", stored.Status, stored.PaymentStatus)
	}
}

func TestCancelAlreadyCancelled(t *testing.T) {
	svc, repo, _ := newTestEnv()
	order := draftTwoLines(t, svc, repo, "cust-1")

	if _, err := svc.Cancel(context.Background(), order.ID, "first"); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	_, err := svc.Cancel(context.Background(), order.ID, "second")
	if !errors.Is(err, store.ErrAlreadyCancelled) {
		t.Fatalf("expected already cancelled, got %v", err)
	}
}

func TestSyncRefundsForChargeLocatesOrder(t *testing.T) {
	svc, repo, gw := newTestEnv()
	order := paidOrder(t, svc, repo)
	gw.SeedRefund(gateway.Refund{
		ID:              "re_charge_1",
		AmountCents:     50000,
		Status:          gateway.RefundSucceeded,
		PaymentIntentID: "pi_test_1",
	})

	result, err := svc.SyncRefundsForCharge(context.Background(), gateway.Charge{
		ID:              "ch_charge_1",
		PaymentIntentID: "pi_test_1",
		Refunded:        true,
	})
	if err != nil {
		t.Fatalf("sync for charge failed: %v", err)
	}
	if !result.Refunded || result.RefundID != "re_charge_1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.PaymentStatus)
	}
}
