package grv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository is the per-transaction view of GRV persistence. Stock and
// Counters hand out ports bound to the same transaction, so ledger writes and
// number allocation commit or roll back with the document.
type TxRepository interface {
	Stock() inventory.TxPort
	Counters() sequence.CounterStore
	SupplierActive(ctx context.Context, id int64) (bool, error)
	Insert(ctx context.Context, g GRV) (GRV, error)
	GetLines(ctx context.Context, grvID int64) ([]Line, error)
	UpdateHeader(ctx context.Context, g GRV) error
	ReplaceLines(ctx context.Context, grvID int64, lines []Line) error
	Delete(ctx context.Context, id int64) error
}

// RepositoryPort abstracts GRV persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (GRV, error)
	List(ctx context.Context, filter ListFilter) ([]GRV, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs goods receipt transactions: each create, rewrite or delete is
// a single document transaction covering the header, its lines and the
// matching ledger entries.
type Service struct {
	repo   RepositoryPort
	ledger inventory.Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// List returns GRVs matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]GRV, int, error) {
	return s.repo.List(ctx, filter)
}

// Get fetches one GRV with its lines.
func (s *Service) Get(ctx context.Context, id int64) (GRV, error) {
	return s.repo.Get(ctx, id)
}

// Create receives stock against a new GRV. The reference is allocated inside
// the transaction, every line raises on-hand quantity and rewrites item cost
// and selling price (last cost wins), and any failure rolls the whole
// document back.
func (s *Service) Create(ctx context.Context, in Input, actorID int64) (GRV, error) {
	if err := validateInput(in); err != nil {
		return GRV{}, err
	}

	var created GRV
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkSupplier(ctx, tx, in.SupplierID); err != nil {
			return err
		}
		if err := s.checkItems(ctx, tx, in.Lines); err != nil {
			return err
		}

		reference, err := sequence.NewAllocator(tx.Counters()).GRVReference(ctx, in.ReceivedAt)
		if err != nil {
			return err
		}

		g := buildGRV(in)
		g.Reference = reference
		g.CreatedBy = actorID
		created, err = tx.Insert(ctx, g)
		if err != nil {
			return err
		}

		ref := inventory.Ref{Family: sequence.FamilyGRV, DocID: created.ID, Batch: uuid.New()}
		for _, line := range created.Lines {
			if err := s.ledger.Receive(ctx, tx.Stock(), ref, line.StockItemID, line.Qty, line.CostPrice, line.SellPrice); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GRV{}, shared.Abort(err)
	}

	s.recordAudit(ctx, actorID, "grv:create", created.ID, map[string]any{"reference": created.Reference})
	return created, nil
}

// Update rewrites a GRV's header and lines. The prior lines are reversed out
// of the ledger first, then the new lines are received, all inside one
// transaction. Re-submitting identical lines therefore nets to zero.
func (s *Service) Update(ctx context.Context, id int64, in Input, actorID int64) (GRV, error) {
	if err := validateInput(in); err != nil {
		return GRV{}, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkSupplier(ctx, tx, in.SupplierID); err != nil {
			return err
		}
		if err := s.checkItems(ctx, tx, in.Lines); err != nil {
			return err
		}

		oldLines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}

		batch := uuid.New()
		ref := inventory.Ref{Family: sequence.FamilyGRV, DocID: id, Batch: batch}
		for _, line := range oldLines {
			if err := s.ledger.Reverse(ctx, tx.Stock(), ref, line.StockItemID, -line.Qty); err != nil {
				return err
			}
		}

		g := buildGRV(in)
		g.ID = id
		if err := tx.UpdateHeader(ctx, g); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, id, g.Lines); err != nil {
			return err
		}
		for _, line := range g.Lines {
			if err := s.ledger.Receive(ctx, tx.Stock(), ref, line.StockItemID, line.Qty, line.CostPrice, line.SellPrice); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GRV{}, shared.Abort(err)
	}

	s.recordAudit(ctx, actorID, "grv:update", id, nil)
	return s.repo.Get(ctx, id)
}

// Delete removes a GRV and reverses its ledger effect, reducing on-hand
// quantity by each line's received amount.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}

		ref := inventory.Ref{Family: sequence.FamilyGRV, DocID: id, Batch: uuid.New()}
		for _, line := range lines {
			if err := s.ledger.Reverse(ctx, tx.Stock(), ref, line.StockItemID, -line.Qty); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return shared.Abort(err)
	}

	s.recordAudit(ctx, actorID, "grv:delete", id, nil)
	return nil
}

func (s *Service) checkSupplier(ctx context.Context, tx TxRepository, supplierID int64) error {
	active, err := tx.SupplierActive(ctx, supplierID)
	if err != nil {
		return err
	}
	if !active {
		return shared.Invalid("supplier is inactive", "supplier_id")
	}
	return nil
}

// checkItems locks and verifies every referenced stock item before the
// document takes any other step, so a bad reference aborts the operation
// ahead of reference allocation and ledger writes.
func (s *Service) checkItems(ctx context.Context, tx TxRepository, lines []LineInput) error {
	for _, l := range lines {
		if _, err := tx.Stock().GetItemForUpdate(ctx, l.StockItemID); err != nil {
			return err
		}
	}
	return nil
}

func buildGRV(in Input) GRV {
	g := GRV{
		SupplierID:  in.SupplierID,
		ReceivedAt:  in.ReceivedAt,
		Description: in.Description,
	}
	for _, l := range in.Lines {
		line := Line{
			StockItemID: l.StockItemID,
			Qty:         l.Qty,
			CostPrice:   l.CostPrice,
			SellPrice:   l.SellPrice,
			LineTotal:   l.Qty * l.CostPrice,
		}
		g.TotalQty += line.Qty
		g.TotalCost += line.LineTotal
		g.TotalValue += line.Qty * line.SellPrice
		g.Lines = append(g.Lines, line)
	}
	return g
}

func validateInput(in Input) error {
	var fields []string
	if in.SupplierID <= 0 {
		fields = append(fields, "supplier_id")
	}
	if in.ReceivedAt.IsZero() || in.ReceivedAt.After(time.Now().Add(24*time.Hour)) {
		fields = append(fields, "received_at")
	}
	if len(in.Lines) == 0 {
		fields = append(fields, "lines")
	}
	for i, l := range in.Lines {
		switch {
		case l.StockItemID <= 0:
			fields = append(fields, fmt.Sprintf("lines[%d].stock_item_id", i))
		case l.Qty <= 0:
			fields = append(fields, fmt.Sprintf("lines[%d].qty", i))
		case l.CostPrice < 0 || l.SellPrice < 0:
			fields = append(fields, fmt.Sprintf("lines[%d].price", i))
		}
	}
	if len(fields) > 0 {
		return shared.Invalid("invalid goods received voucher", fields...)
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
		Entity:   "grv",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
