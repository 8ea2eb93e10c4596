package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"belanjaku/backend/internal/domain"
	"belanjaku/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const orderColumns = `
	o.id, o.number, COALESCE(o.customer_id, ''), o.status, o.payment_status,
	o.total_cents, o.paid_amount_cents, o.refund_amount_cents,
	COALESCE(o.session_id, ''), COALESCE(o.payment_intent_id, ''), COALESCE(o.charge_id, ''),
	COALESCE(o.refund_id, ''), COALESCE(o.refund_reason, ''),
	o.payment_method, COALESCE(o.shipping_address, ''), COALESCE(o.metadata, '{}'::jsonb),
	EXISTS (SELECT 1 FROM order_flags f WHERE f.order_id = o.id AND f.flag = 'stock_deducted'),
	o.created_at, o.updated_at`

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var metadataRaw []byte
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.Status, &o.PaymentStatus,
		&o.TotalCents, &o.PaidAmountCents, &o.RefundAmountCents,
		&o.SessionID, &o.PaymentIntentID, &o.ChargeID,
		&o.RefundID, &o.RefundReason,
		&o.PaymentMethod, &o.ShippingAddress, &metadataRaw,
		&o.StockDeducted,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &o.Metadata); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem) (*domain.Order, error) {
	if order.ID == "" || order.Number == "" {
		return nil, store.ErrInvalidOrder
	}

	metadataRaw, err := json.Marshal(orEmptyMap(order.Metadata))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, customer_id, status, payment_status,
			total_cents, paid_amount_cents, refund_amount_cents,
			session_id, payment_intent_id, charge_id,
			payment_method, shipping_address, metadata,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
	`, order.ID, order.Number, nullIfEmpty(order.CustomerID), order.Status, order.PaymentStatus,
		order.TotalCents, order.PaidAmountCents, order.RefundAmountCents,
		nullIfEmpty(order.SessionID), nullIfEmpty(order.PaymentIntentID), nullIfEmpty(order.ChargeID),
		order.PaymentMethod, nullIfEmpty(order.ShippingAddress), metadataRaw, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidOrder
		}
		return nil, err
	}

	// Item insertion failure is deliberately non-fatal: the order row is
	// already usable for payment and the missing lines stay recoverable from
	// the log.
	for _, item := range items {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, unit_amount_cents, quantity)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, item.ProductID, item.Name, item.UnitAmountCents, item.Quantity)
		if err != nil {
			log.Printf("[postgres] WARN: failed to persist order item order=%s product=%s: %v", order.ID, item.ProductID, err)
		}
	}

	return s.GetOrderByID(ctx, order.ID)
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		WHERE o.id = $1
	`, id)
	return scanOrder(row)
}

func (s *Store) FindOrderByGatewayRef(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		WHERE o.session_id = $1 OR o.payment_intent_id = $1 OR o.charge_id = $1
		ORDER BY o.created_at DESC
		LIMIT 1
	`, ref)
	return scanOrder(row)
}

func (s *Store) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, unit_amount_cents, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.Name, &item.UnitAmountCents, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkOrderPaid(ctx context.Context, orderID string, update store.PaidUpdate) (*domain.Order, bool, error) {
	metadataRaw, err := json.Marshal(orEmptyMap(update.Metadata))
	if err != nil {
		return nil, false, err
	}

	// Single conditional update: concurrent callers race, exactly one applies
	// the transition. Gateway ids only backfill NULL columns; metadata merges.
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'paid',
		    status = 'processing',
		    paid_amount_cents = CASE WHEN $2 > 0 THEN $2 ELSE total_cents END,
		    session_id = COALESCE(session_id, NULLIF($3, '')),
		    payment_intent_id = COALESCE(payment_intent_id, NULLIF($4, '')),
		    charge_id = COALESCE(charge_id, NULLIF($5, '')),
		    metadata = COALESCE(metadata, '{}'::jsonb) || $6::jsonb,
		    updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'
	`, orderID, update.PaidAmountCents, update.SessionID, update.PaymentIntentID, update.ChargeID, metadataRaw)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	order, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return order, affected == 1, nil
}

func (s *Store) ClaimOrderFlag(ctx context.Context, orderID string, flag string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_flags (order_id, flag, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (order_id, flag) DO NOTHING
	`, orderID, flag)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, store.ErrNotFound
		}
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) ReleaseOrderFlag(ctx context.Context, orderID string, flag string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM order_flags
		WHERE order_id = $1 AND flag = $2
	`, orderID, flag)
	return err
}

func (s *Store) UpdateOrderGatewayRefs(ctx context.Context, orderID string, refs store.GatewayRefs) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET session_id = COALESCE(session_id, NULLIF($2, '')),
		    payment_intent_id = COALESCE(payment_intent_id, NULLIF($3, '')),
		    charge_id = COALESCE(charge_id, NULLIF($4, '')),
		    updated_at = now()
		WHERE id = $1
	`, orderID, refs.SessionID, refs.PaymentIntentID, refs.ChargeID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ApplyRefund(ctx context.Context, orderID string, refund domain.RefundState) (*domain.Order, error) {
	if refund.RefundID == "" {
		return nil, store.ErrInvalidOrder
	}

	// Set-not-increment keeps this idempotent for a repeated refund id.
	// Only a settled refund covering the full captured amount flips the
	// payment status; a partial refund leaves the order paid.
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET refund_id = $2,
		    refund_amount_cents = $3,
		    refund_reason = COALESCE(NULLIF($4, ''), refund_reason),
		    payment_status = CASE
		        WHEN $5 AND paid_amount_cents > 0 AND $3 >= paid_amount_cents THEN 'refunded'
		        ELSE payment_status
		    END,
		    status = CASE
		        WHEN $5 AND paid_amount_cents > 0 AND $3 >= paid_amount_cents THEN 'cancelled'
		        ELSE status
		    END,
		    updated_at = now()
		WHERE id = $1
	`, orderID, refund.RefundID, refund.AmountCents, refund.Reason, refund.Succeeded)
	if err != nil {
		return nil, err
	}

	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) CancelOrder(ctx context.Context, orderID string, reason string, refundRequired bool, at time.Time) (*domain.Order, error) {
	patch := map[string]string{}
	if reason != "" {
		patch["cancel_reason"] = reason
	}
	if refundRequired {
		patch[domain.MetaRefundRequired] = "true"
	}
	patchRaw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'cancelled',
		    metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
		    updated_at = $3
		WHERE id = $1
	`, orderID, patchRaw, at)
	if err != nil {
		return nil, err
	}

	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stock
		FROM products
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stock[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range productIDs {
		if _, ok := stock[id]; !ok {
			return nil, store.ErrNotFound
		}
	}
	return stock, nil
}

func (s *Store) DeductStock(ctx context.Context, deductions []store.StockDeduction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, d := range deductions {
		if d.Quantity < 1 {
			return store.ErrInvalidOrder
		}

		// Conditional decrement: the WHERE clause is the atomicity boundary,
		// so stock can never go negative.
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND stock >= $2
		`, d.ProductID, d.Quantity)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var current int
			err := s.db.QueryRowContext(ctx, `
				SELECT stock FROM products WHERE id = $1
			`, d.ProductID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			if err != nil {
				return err
			}
			return &store.StockError{Shortages: []store.StockShortage{{
				ProductID: d.ProductID,
				Requested: d.Quantity,
				Available: current,
			}}}
		}
	}

	return tx.Commit()
}

func (s *Store) ClearCart(ctx context.Context, customerID string) error {
	if customerID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE customer_id = $1
	`, customerID)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
