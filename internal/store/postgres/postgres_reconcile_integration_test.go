package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"belanjaku/backend/internal/domain"
	"belanjaku/backend/internal/store"
)

func TestPaymentConfirmationIsIdempotent(t *testing.T) {
	databaseURL := os.Getenv("BELANJAKU_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BELANJAKU_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	orderID := fmt.Sprintf("ord-recon-it-%d", stamp)
	productID := fmt.Sprintf("prod-recon-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_flags WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, stock, active, created_at, updated_at)
		VALUES ($1, 'Produk Recon IT', 12000, 5, true, now(), now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	now := time.Now().UTC()
	created, err := s.CreateOrder(ctx, domain.Order{
		ID:            orderID,
		Number:        fmt.Sprintf("BLJ-IT-%d", stamp),
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		TotalCents:    24000,
		PaymentMethod: domain.PaymentMethodCard,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, []domain.OrderItem{
		{OrderID: orderID, ProductID: productID, Name: "Produk Recon IT", UnitAmountCents: 12000, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if created.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("expected unpaid draft, got %s", created.PaymentStatus)
	}

	_, applied, err := s.MarkOrderPaid(ctx, orderID, store.PaidUpdate{
		PaidAmountCents: 24000,
		PaymentIntentID: fmt.Sprintf("pi-recon-it-%d", stamp),
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !applied {
		t.Fatalf("first transition must apply")
	}

	_, applied, err = s.MarkOrderPaid(ctx, orderID, store.PaidUpdate{PaidAmountCents: 24000})
	if err != nil {
		t.Fatalf("repeat mark paid: %v", err)
	}
	if applied {
		t.Fatalf("second transition must be a no-op")
	}

	claimed, err := s.ClaimOrderFlag(ctx, orderID, domain.FlagStockDeducted)
	if err != nil {
		t.Fatalf("claim flag: %v", err)
	}
	if !claimed {
		t.Fatalf("first claim must win")
	}
	claimed, err = s.ClaimOrderFlag(ctx, orderID, domain.FlagStockDeducted)
	if err != nil {
		t.Fatalf("repeat claim: %v", err)
	}
	if claimed {
		t.Fatalf("second claim must lose")
	}

	if err := s.DeductStock(ctx, []store.StockDeduction{{ProductID: productID, Quantity: 2}}); err != nil {
		t.Fatalf("deduct stock: %v", err)
	}

	var stock int
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 3 {
		t.Fatalf("expected stock 3 after deduction, got %d", stock)
	}

	// Over-deduction must hit the conditional guard and report the shortfall.
	err = s.DeductStock(ctx, []store.StockDeduction{{ProductID: productID, Quantity: 4}})
	if err == nil {
		t.Fatalf("expected stock error for over-deduction")
	}

	updated, err := s.ApplyRefund(ctx, orderID, domain.RefundState{
		RefundID:    fmt.Sprintf("re-recon-it-%d", stamp),
		AmountCents: 24000,
		Reason:      "integration test refund",
		Succeeded:   true,
	})
	if err != nil {
		t.Fatalf("apply refund: %v", err)
	}
	if updated.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", updated.PaymentStatus)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("full refund must cancel the order, got %s", updated.Status)
	}
}
