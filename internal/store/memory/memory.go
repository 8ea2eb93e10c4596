package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"belanjaku/backend/internal/domain"
	"belanjaku/backend/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	orders       map[string]*domain.Order
	itemsByOrder map[string][]domain.OrderItem
	flags        map[string]map[string]bool
	products     map[string]*domain.Product
	carts        map[string][]domain.DraftItem
	auditLogs    []domain.AuditLog
}

func New() *Store {
	return &Store{
		orders:       make(map[string]*domain.Order),
		itemsByOrder: make(map[string][]domain.OrderItem),
		flags:        make(map[string]map[string]bool),
		products:     make(map[string]*domain.Product),
		carts:        make(map[string][]domain.DraftItem),
	}
}

// NewSeeded returns a store pre-loaded with catalog rows for dev mode and tests.
func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{ID: "prod-kopi-01", Name: "Kopi Gayo 250g", PriceCents: 8500, Stock: 25, Active: true},
		{ID: "prod-teh-01", Name: "Teh Melati 100g", PriceCents: 4200, Stock: 40, Active: true},
		{ID: "prod-keramik-01", Name: "Cangkir Keramik", PriceCents: 15500, Stock: 5, Active: true},
		{ID: "prod-madu-01", Name: "Madu Hutan 500ml", PriceCents: 28000, Stock: 1, Active: true},
	} {
		product := p
		s.products[product.ID] = &product
	}
	return s
}

// SetProduct inserts or replaces a catalog row. Test helper.
func (s *Store) SetProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product := p
	s.products[product.ID] = &product
}

// SetCart seeds a customer's cart so ClearCart has something to clear. Test helper.
func (s *Store) SetCart(customerID string, items []domain.DraftItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[customerID] = append([]domain.DraftItem(nil), items...)
}

// CartLen reports the current cart size for a customer. Test helper.
func (s *Store) CartLen(customerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carts[customerID])
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order, items []domain.OrderItem) (*domain.Order, error) {
	if order.ID == "" {
		return nil, store.ErrInvalidOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrInvalidOrder
	}

	saved := order
	if saved.Metadata == nil {
		saved.Metadata = make(map[string]string)
	}
	s.orders[saved.ID] = &saved
	s.itemsByOrder[saved.ID] = append([]domain.OrderItem(nil), items...)

	return cloneOrder(&saved), nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.withFlags(cloneOrder(order)), nil
}

func (s *Store) FindOrderByGatewayRef(_ context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if order.SessionID == ref || order.PaymentIntentID == ref || order.ChargeID == ref {
			return s.withFlags(cloneOrder(order)), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListOrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]domain.OrderItem(nil), s.itemsByOrder[orderID]...), nil
}

func (s *Store) MarkOrderPaid(_ context.Context, orderID string, update store.PaidUpdate) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, false, store.ErrNotFound
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		return s.withFlags(cloneOrder(order)), false, nil
	}

	order.PaymentStatus = domain.PaymentStatusPaid
	order.Status = domain.OrderStatusProcessing
	if update.PaidAmountCents > 0 {
		order.PaidAmountCents = update.PaidAmountCents
	} else {
		order.PaidAmountCents = order.TotalCents
	}
	backfillRefs(order, store.GatewayRefs{
		SessionID:       update.SessionID,
		PaymentIntentID: update.PaymentIntentID,
		ChargeID:        update.ChargeID,
	})
	if order.Metadata == nil {
		order.Metadata = make(map[string]string)
	}
	for k, v := range update.Metadata {
		order.Metadata[k] = v
	}
	order.UpdatedAt = time.Now().UTC()

	return s.withFlags(cloneOrder(order)), true, nil
}

func (s *Store) ClaimOrderFlag(_ context.Context, orderID string, flag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return false, store.ErrNotFound
	}

	claims := s.flags[orderID]
	if claims == nil {
		claims = make(map[string]bool)
		s.flags[orderID] = claims
	}
	if claims[flag] {
		return false, nil
	}
	claims[flag] = true
	return true, nil
}

func (s *Store) ReleaseOrderFlag(_ context.Context, orderID string, flag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if claims, ok := s.flags[orderID]; ok {
		delete(claims, flag)
	}
	return nil
}

func (s *Store) UpdateOrderGatewayRefs(_ context.Context, orderID string, refs store.GatewayRefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	backfillRefs(order, refs)
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ApplyRefund(_ context.Context, orderID string, refund domain.RefundState) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Set, never increment: re-applying the same refund id is a no-op.
	order.RefundID = refund.RefundID
	order.RefundAmountCents = refund.AmountCents
	if refund.Reason != "" {
		order.RefundReason = refund.Reason
	}
	// Only a settled refund covering the full captured amount flips the
	// payment status; a partial refund leaves the order paid.
	if refund.Succeeded && order.PaidAmountCents > 0 && refund.AmountCents >= order.PaidAmountCents {
		order.PaymentStatus = domain.PaymentStatusRefunded
		order.Status = domain.OrderStatusCancelled
	}
	order.UpdatedAt = time.Now().UTC()

	return s.withFlags(cloneOrder(order)), nil
}

func (s *Store) CancelOrder(_ context.Context, orderID string, reason string, refundRequired bool, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Status = domain.OrderStatusCancelled
	if order.Metadata == nil {
		order.Metadata = make(map[string]string)
	}
	if reason != "" {
		order.Metadata["cancel_reason"] = reason
	}
	if refundRequired {
		order.Metadata[domain.MetaRefundRequired] = "true"
	}
	order.UpdatedAt = at

	return s.withFlags(cloneOrder(order)), nil
}

func (s *Store) GetStockMap(_ context.Context, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		product, ok := s.products[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		stock[id] = product.Stock
	}
	return stock, nil
}

func (s *Store) DeductStock(_ context.Context, deductions []store.StockDeduction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching anything; the batch fails
	// together with every shortage enumerated.
	shortages := make([]store.StockShortage, 0)
	for _, d := range deductions {
		product, ok := s.products[d.ProductID]
		if !ok {
			return store.ErrNotFound
		}
		if product.Stock < d.Quantity {
			shortages = append(shortages, store.StockShortage{
				ProductID: d.ProductID,
				Requested: d.Quantity,
				Available: product.Stock,
			})
		}
	}
	if len(shortages) > 0 {
		return &store.StockError{Shortages: shortages}
	}

	for _, d := range deductions {
		s.products[d.ProductID].Stock -= d.Quantity
	}
	return nil
}

func (s *Store) ClearCart(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, customerID)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// withFlags copies the durable flag set onto a cloned order. Callers must
// hold at least the read lock.
func (s *Store) withFlags(order *domain.Order) *domain.Order {
	order.StockDeducted = s.flags[order.ID][domain.FlagStockDeducted]
	return order
}

func backfillRefs(order *domain.Order, refs store.GatewayRefs) {
	if order.SessionID == "" && refs.SessionID != "" {
		order.SessionID = refs.SessionID
	}
	if order.PaymentIntentID == "" && refs.PaymentIntentID != "" {
		order.PaymentIntentID = refs.PaymentIntentID
	}
	if order.ChargeID == "" && refs.ChargeID != "" {
		order.ChargeID = refs.ChargeID
	}
}

func cloneOrder(order *domain.Order) *domain.Order {
	copied := *order
	if order.Metadata != nil {
		copied.Metadata = make(map[string]string, len(order.Metadata))
		for k, v := range order.Metadata {
			copied.Metadata[k] = v
		}
	}
	copied.Items = append([]domain.OrderItem(nil), order.Items...)
	return &copied
}
