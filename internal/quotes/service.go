package quotes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/clients"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository is the per-transaction view of quote persistence.
type TxRepository interface {
	Counters() sequence.CounterStore
	GetClient(ctx context.Context, id int64) (clients.Client, error)
	GetItem(ctx context.Context, id int64) (inventory.StockItem, error)
	Insert(ctx context.Context, q Quote) (Quote, error)
	UpdateBody(ctx context.Context, q Quote) error
}

// RepositoryPort abstracts quote persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (Quote, error)
	List(ctx context.Context, filter ListFilter) ([]Quote, int, error)
	Delete(ctx context.Context, id int64) error
	// MarkConverted stamps the invoice id only if no invoice has claimed the
	// quote yet. Returns false when another conversion won the race.
	MarkConverted(ctx context.Context, quoteID, invoiceID int64) (bool, error)
}

// InvoicePort is the slice of the invoicing service a conversion needs.
type InvoicePort interface {
	Create(ctx context.Context, in invoicing.Input, actorID int64) (invoicing.Invoice, error)
	Delete(ctx context.Context, id int64, actorID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages quotes. Quotes price lines the same way invoices do but
// reserve nothing: no stock checks, no credit checks, no ledger entries.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	invoices InvoicePort
	audit    AuditPort
	now      func() time.Time
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, invoices InvoicePort, audit AuditPort) *Service {
	return &Service{logger: logger, repo: repo, invoices: invoices, audit: audit, now: time.Now}
}

// List returns quotes matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Quote, int, error) {
	return s.repo.List(ctx, filter)
}

// Get fetches one quote with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Quote, error) {
	return s.repo.Get(ctx, id)
}

// Create prices and stores a new quote.
func (s *Service) Create(ctx context.Context, in Input, actorID int64) (Quote, error) {
	if err := validateInput(in); err != nil {
		return Quote{}, err
	}

	var created Quote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := s.priceQuote(ctx, tx, in)
		if err != nil {
			return err
		}
		q.Number, err = sequence.NewAllocator(tx.Counters()).QuoteNumber(ctx)
		if err != nil {
			return err
		}
		q.CreatedBy = actorID
		created, err = tx.Insert(ctx, q)
		return err
	})
	if err != nil {
		return Quote{}, shared.Abort(err)
	}

	s.recordAudit(ctx, actorID, "quote:create", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// Update reprices and rewrites a quote. Converted quotes are frozen.
func (s *Service) Update(ctx context.Context, id int64, in Input, actorID int64) (Quote, error) {
	if err := validateInput(in); err != nil {
		return Quote{}, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	if existing.ConvertedInvoiceID != nil {
		return Quote{}, convertedConflict(id)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := s.priceQuote(ctx, tx, in)
		if err != nil {
			return err
		}
		q.ID = id
		return tx.UpdateBody(ctx, q)
	})
	if err != nil {
		return Quote{}, shared.Abort(err)
	}

	s.recordAudit(ctx, actorID, "quote:update", id, nil)
	return s.repo.Get(ctx, id)
}

// Delete removes a quote. Converted quotes are kept for the paper trail.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.ConvertedInvoiceID != nil {
		return convertedConflict(id)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "quote:delete", id, nil)
	return nil
}

// ConvertToInvoice turns a quote into a real invoice. The invoice is created
// through the invoicing service, which applies its usual stock and credit
// rules; the quote is then claimed with a compare-and-set so a quote can
// back at most one invoice. Losing the claim race deletes the fresh invoice
// and reports a conflict. Expired quotes may still convert: only the
// converted flag blocks conversion, and stock and credit are re-checked at
// invoice time regardless of the quote's age.
func (s *Service) ConvertToInvoice(ctx context.Context, id int64, actorID int64) (invoicing.Invoice, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return invoicing.Invoice{}, err
	}
	if q.ConvertedInvoiceID != nil {
		return invoicing.Invoice{}, convertedConflict(id)
	}

	in := invoicing.Input{
		ClientID:    q.ClientID,
		Type:        invoicing.TypeNonVAT,
		IssuedAt:    s.now(),
		Description: q.Description,
	}
	if q.VAT {
		in.Type = invoicing.TypeVAT
	}
	for _, l := range q.Lines {
		price := l.UnitPrice
		rate := l.VATRate
		in.Lines = append(in.Lines, invoicing.LineInput{
			StockItemID: l.StockItemID,
			Qty:         l.Qty,
			UnitPrice:   &price,
			VATRate:     &rate,
		})
	}

	inv, err := s.invoices.Create(ctx, in, actorID)
	if err != nil {
		return invoicing.Invoice{}, err
	}

	claimed, err := s.repo.MarkConverted(ctx, id, inv.ID)
	if err == nil && !claimed {
		err = convertedConflict(id)
	}
	if err != nil {
		// Roll the orphaned invoice back; its deletion restores the stock
		// the creation just issued.
		if delErr := s.invoices.Delete(ctx, inv.ID, actorID); delErr != nil {
			s.logger.Error("orphaned invoice after failed quote claim",
				slog.Int64("quote_id", id), slog.Int64("invoice_id", inv.ID), slog.Any("error", delErr))
		}
		return invoicing.Invoice{}, err
	}

	s.recordAudit(ctx, actorID, "quote:convert", id, map[string]any{"invoice_id": inv.ID, "number": inv.Number})
	return inv, nil
}

// priceQuote resolves unit prices against the client's category. Items are
// read without locks: a quote reserves nothing.
func (s *Service) priceQuote(ctx context.Context, tx TxRepository, in Input) (Quote, error) {
	client, err := tx.GetClient(ctx, in.ClientID)
	if err != nil {
		return Quote{}, err
	}
	if !client.IsActive {
		return Quote{}, shared.Invalid("client is inactive", "client_id")
	}

	q := Quote{
		ClientID:    in.ClientID,
		VAT:         in.VAT,
		IssuedAt:    in.IssuedAt,
		Description: in.Description,
	}
	for _, l := range in.Lines {
		item, err := tx.GetItem(ctx, l.StockItemID)
		if err != nil {
			return Quote{}, err
		}
		if !item.IsActive {
			return Quote{}, shared.Invalid(fmt.Sprintf("stock item %s is inactive", item.Code), "stock_item_id")
		}

		unit := pricing.Resolve(item.Tiers(), client.PriceCategory)
		if l.UnitPrice != nil {
			unit = *l.UnitPrice
		}
		line := Line{
			StockItemID: item.ID,
			Qty:         l.Qty,
			UnitPrice:   unit,
			VATRate:     item.VATRate,
			LineTotal:   l.Qty * unit,
		}
		q.Subtotal += line.LineTotal
		if q.VAT {
			q.VATAmount += line.LineTotal * line.VATRate / 100
		}
		q.Lines = append(q.Lines, line)
	}
	q.TotalDue = q.Subtotal + q.VATAmount
	return q, nil
}

func validateInput(in Input) error {
	var fields []string
	if in.ClientID <= 0 {
		fields = append(fields, "client_id")
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
		}
	}
	if len(fields) > 0 {
		return shared.Invalid("invalid quote", fields...)
	}
	return nil
}

func convertedConflict(id int64) error {
	return fmt.Errorf("quote %d already converted: %w", id, shared.ErrConflict)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "quote",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
