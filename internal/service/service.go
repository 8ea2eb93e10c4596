package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"belanjaku/backend/internal/cache"
	"belanjaku/backend/internal/domain"
	"belanjaku/backend/internal/gateway"
	"belanjaku/backend/internal/store"
	"belanjaku/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	gw           gateway.Client
	marker       cache.Marker
	searchWindow time.Duration
}

func New(repo store.Repository, gw gateway.Client, marker cache.Marker, searchWindow time.Duration) *Service {
	if marker == nil {
		marker = cache.NoopMarker{}
	}
	if searchWindow <= 0 {
		searchWindow = 24 * time.Hour
	}

	return &Service{
		repo:         repo,
		gw:           gw,
		marker:       marker,
		searchWindow: searchWindow,
	}
}

// CreateDraft snapshots a cart into an immutable order in pending/unpaid.
// Pure creation: it never touches stock and never contacts the gateway.
func (s *Service) CreateDraft(ctx context.Context, req domain.DraftRequest) (domain.DraftResponse, error) {
	if len(req.Items) == 0 {
		return domain.DraftResponse{}, fmt.Errorf("%w: empty item list", store.ErrInvalidOrder)
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCard
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.DraftResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidOrder, req.PaymentMethod)
	}

	total := int64(0)
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 1 || item.UnitAmountCents < 0 {
			return domain.DraftResponse{}, fmt.Errorf("%w: bad line item", store.ErrInvalidOrder)
		}
		total += item.UnitAmountCents * int64(item.Quantity)
	}
	if total <= 0 {
		return domain.DraftResponse{}, fmt.Errorf("%w: non-positive total", store.ErrInvalidOrder)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:              xid.New("ord"),
		Number:          xid.OrderNumber(now),
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		TotalCents:      total,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Metadata:        req.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			OrderID:         order.ID,
			ProductID:       item.ProductID,
			Name:            item.Name,
			UnitAmountCents: item.UnitAmountCents,
			Quantity:        item.Quantity,
		})
	}

	created, err := s.repo.CreateOrder(ctx, order, items)
	if err != nil {
		return domain.DraftResponse{}, err
	}

	s.logAudit(ctx, "order_draft", "order", created.ID, fmt.Sprintf("number=%s,total=%d,items=%d", created.Number, created.TotalCents, len(items)))

	return domain.DraftResponse{Order: *created}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	items, err := s.repo.ListOrderItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return *order, nil
}

// deductStock validates the whole batch, then issues the conditional
// decrements. A decrement that loses the race to another writer is retried
// once after re-validation; a second loss is surfaced with the product id and
// its now-current stock.
func (s *Service) deductStock(ctx context.Context, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	deductions := make([]store.StockDeduction, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		deductions = append(deductions, store.StockDeduction{ProductID: item.ProductID, Quantity: item.Quantity})
		ids = append(ids, item.ProductID)
	}

	for attempt := 0; ; attempt++ {
		stock, err := s.repo.GetStockMap(ctx, ids)
		if err != nil {
			return err
		}

		shortages := make([]store.StockShortage, 0)
		for _, d := range deductions {
			if available := stock[d.ProductID]; available < d.Quantity {
				shortages = append(shortages, store.StockShortage{
					ProductID: d.ProductID,
					Requested: d.Quantity,
					Available: available,
				})
			}
		}
		if len(shortages) > 0 {
			return &store.StockError{Shortages: shortages}
		}

		err = s.repo.DeductStock(ctx, deductions)
		if err == nil {
			return nil
		}

		var stockErr *store.StockError
		if errors.As(err, &stockErr) && attempt == 0 {
			// Another writer got between validation and the decrement;
			// re-validate once rather than blindly failing.
			continue
		}
		return err
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-30 * 24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	if actor.Username == "" {
		actor.Username = "system"
	}

	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCard, domain.PaymentMethodGateway, domain.PaymentMethodCOD, domain.PaymentMethodBankTransfer:
		return true
	}
	return false
}
