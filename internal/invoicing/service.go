package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/clients"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository is the per-transaction view of invoice persistence. Stock and
// Counters are bound to the same transaction as the document writes.
type TxRepository interface {
	Stock() inventory.TxPort
	Counters() sequence.CounterStore
	GetClient(ctx context.Context, id int64) (clients.Client, error)
	ClientOutstanding(ctx context.Context, clientID int64) (float64, error)
	Insert(ctx context.Context, inv Invoice) (Invoice, error)
	GetLines(ctx context.Context, invoiceID int64) ([]Line, error)
	PaymentCount(ctx context.Context, invoiceID int64) (int, error)
	Delete(ctx context.Context, id int64) error
}

// RepositoryPort abstracts invoice persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
	UpdateDetails(ctx context.Context, id int64, issuedAt time.Time, description string) error
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs invoice transactions. Creating an invoice resolves prices
// from the client's category, checks availability and credit inside one
// transaction, and issues stock through the ledger.
type Service struct {
	repo   RepositoryPort
	ledger inventory.Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// List returns invoices matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	return s.repo.List(ctx, filter)
}

// Get fetches one invoice with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.Get(ctx, id)
}

// Payments lists receipts recorded against an invoice.
func (s *Service) Payments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	if _, err := s.repo.Get(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

// Create issues a new invoice. Unit prices left blank resolve from the
// client's price category; the client's credit limit is checked against the
// invoice total plus the client's current outstanding balance before any
// stock moves. A failure at any step rolls the whole document back.
func (s *Service) Create(ctx context.Context, in Input, actorID int64) (Invoice, error) {
	if err := validateInput(in); err != nil {
		return Invoice{}, err
	}

	var created Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		client, err := tx.GetClient(ctx, in.ClientID)
		if err != nil {
			return err
		}
		if !client.IsActive {
			return shared.Invalid("client is inactive", "client_id")
		}

		inv, issues, err := s.priceLines(ctx, tx, in, client.PriceCategory)
		if err != nil {
			return err
		}

		if client.CreditLimit > 0 {
			outstanding, err := tx.ClientOutstanding(ctx, client.ID)
			if err != nil {
				return err
			}
			if outstanding+inv.TotalDue > client.CreditLimit {
				return &shared.CreditLimitError{Limit: client.CreditLimit, Total: outstanding + inv.TotalDue}
			}
		}

		inv.Number, err = sequence.NewAllocator(tx.Counters()).InvoiceNumber(ctx)
		if err != nil {
			return err
		}
		inv.CreatedBy = actorID
		created, err = tx.Insert(ctx, inv)
		if err != nil {
			return err
		}

		ref := inventory.Ref{Family: sequence.FamilyInvoice, DocID: created.ID, Batch: uuid.New()}
		for _, issue := range issues {
			if err := s.ledger.Issue(ctx, tx.Stock(), ref, issue.itemID, issue.qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Invoice{}, shared.Abort(err)
	}

	s.recordAudit(ctx, actorID, "invoice:create", created.ID, map[string]any{"number": created.Number, "total_due": created.TotalDue})
	return created, nil
}

type lineIssue struct {
	itemID int64
	qty    float64
}

// priceLines builds the invoice body: resolves each line's unit price, sums
// the subtotal and VAT, and returns the stock issues to perform. Items are
// read under row locks so the later Issue sees the same availability.
func (s *Service) priceLines(ctx context.Context, tx TxRepository, in Input, category pricing.Category) (Invoice, []lineIssue, error) {
	inv := Invoice{
		ClientID:    in.ClientID,
		Type:        in.Type,
		IssuedAt:    in.IssuedAt,
		Description: in.Description,
	}

	var issues []lineIssue
	for _, l := range in.Lines {
		item, err := tx.Stock().GetItemForUpdate(ctx, l.StockItemID)
		if err != nil {
			return Invoice{}, nil, err
		}
		if !item.IsActive {
			return Invoice{}, nil, shared.Invalid(fmt.Sprintf("stock item %s is inactive", item.Code), "stock_item_id")
		}

		unit := pricing.Resolve(item.Tiers(), category)
		if l.UnitPrice != nil {
			unit = *l.UnitPrice
		}
		rate := item.VATRate
		if l.VATRate != nil {
			rate = *l.VATRate
		}

		line := Line{
			StockItemID: item.ID,
			Qty:         l.Qty,
			UnitPrice:   unit,
			VATRate:     rate,
			LineTotal:   l.Qty * unit,
		}
		inv.Subtotal += line.LineTotal
		if inv.Type == TypeVAT {
			inv.VATAmount += line.LineTotal * line.VATRate / 100
		}
		inv.Lines = append(inv.Lines, line)
		issues = append(issues, lineIssue{itemID: item.ID, qty: l.Qty})
	}

	inv.TotalDue = inv.Subtotal + inv.VATAmount
	return inv, issues, nil
}

// UpdateDetails changes the issue date and description. Lines, prices and
// totals are immutable once the invoice exists.
func (s *Service) UpdateDetails(ctx context.Context, id int64, issuedAt time.Time, description string, actorID int64) (Invoice, error) {
	if issuedAt.IsZero() {
		return Invoice{}, shared.Invalid("issue date required", "issued_at")
	}
	if err := s.repo.UpdateDetails(ctx, id, issuedAt, description); err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actorID, "invoice:update", id, nil)
	return s.repo.Get(ctx, id)
}

// Delete removes an invoice and returns its stock to the shelf. Invoices
// with recorded payments cannot be deleted.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		paid, err := tx.PaymentCount(ctx, id)
		if err != nil {
			return err
		}
		if paid > 0 {
			return fmt.Errorf("invoice %d has %d payment(s): %w", id, paid, shared.ErrConflict)
		}

		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}

		ref := inventory.Ref{Family: sequence.FamilyInvoice, DocID: id, Batch: uuid.New()}
		for _, line := range lines {
			if err := s.ledger.Reverse(ctx, tx.Stock(), ref, line.StockItemID, line.Qty); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return shared.Abort(err)
	}

	s.recordAudit(ctx, actorID, "invoice:delete", id, nil)
	return nil
}

func validateInput(in Input) error {
	var fields []string
	if in.ClientID <= 0 {
		fields = append(fields, "client_id")
	}
	if in.Type != TypeVAT && in.Type != TypeNonVAT {
		fields = append(fields, "type")
	}
	if in.IssuedAt.IsZero() {
		fields = append(fields, "issued_at")
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
		case l.UnitPrice != nil && *l.UnitPrice < 0:
			fields = append(fields, fmt.Sprintf("lines[%d].unit_price", i))
		case l.VATRate != nil && (*l.VATRate < 0 || *l.VATRate > 100):
			fields = append(fields, fmt.Sprintf("lines[%d].vat_rate", i))
		}
	}
	if len(fields) > 0 {
		return shared.Invalid("invalid invoice", fields...)
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
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
