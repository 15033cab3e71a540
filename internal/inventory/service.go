package inventory

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]StockItem, int, error)
	Get(ctx context.Context, id int64) (StockItem, error)
	Create(ctx context.Context, item StockItem) (StockItem, error)
	Update(ctx context.Context, id int64, item StockItem) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock item master data. Quantities are out of its
// reach: those move only through Ledger calls inside document transactions.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// List returns stock items matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]StockItem, int, error) {
	return s.repo.List(ctx, filter)
}

// Get fetches one stock item.
func (s *Service) Get(ctx context.Context, id int64) (StockItem, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and inserts a stock item.
func (s *Service) Create(ctx context.Context, item StockItem, actorID int64) (StockItem, error) {
	if err := validateItem(item); err != nil {
		return StockItem{}, err
	}
	created, err := s.repo.Create(ctx, item)
	if err != nil {
		return StockItem{}, err
	}
	s.recordAudit(ctx, actorID, "stock_item:create", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// Update rewrites master fields of an existing item.
func (s *Service) Update(ctx context.Context, id int64, item StockItem, actorID int64) (StockItem, error) {
	if err := validateItem(item); err != nil {
		return StockItem{}, err
	}
	if err := s.repo.Update(ctx, id, item); err != nil {
		return StockItem{}, err
	}
	s.recordAudit(ctx, actorID, "stock_item:update", id, map[string]any{"code": item.Code})
	return s.repo.Get(ctx, id)
}

// StockCard lists ledger movements for one item.
func (s *Service) StockCard(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.StockItemID == 0 {
		return nil, shared.Invalid("stock item required", "stock_item_id")
	}
	return s.repo.ListMovements(ctx, filter)
}

func validateItem(item StockItem) error {
	var fields []string
	if item.Code == "" {
		fields = append(fields, "code")
	}
	if item.Name == "" {
		fields = append(fields, "name")
	}
	if item.CostPrice < 0 {
		fields = append(fields, "cost_price")
	}
	if item.SellingPrice < 0 {
		fields = append(fields, "selling_price")
	}
	for field, tier := range map[string]*float64{"price_a": item.PriceA, "price_b": item.PriceB, "price_d": item.PriceD, "price_e": item.PriceE} {
		if tier != nil && *tier < 0 {
			fields = append(fields, field)
		}
	}
	if item.VATRate < 0 || item.VATRate > 100 {
		fields = append(fields, "vat_rate")
	}
	if item.MinStock < 0 || item.MaxStock < 0 {
		fields = append(fields, "min_stock")
	}
	if len(fields) > 0 {
		return shared.Invalid("invalid stock item", fields...)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_item",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
