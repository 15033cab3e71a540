package quotes

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/clients"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	clients     map[int64]clients.Client
	items       map[int64]inventory.StockItem
	quotes      map[int64]Quote
	counters    map[string]int64
	nextID      int64
	lineID      int64
	loseClaim   bool // force MarkConverted to report a lost race
	raceConvert bool // mark the quote converted right after the next Get
	claimCalled bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		clients:  map[int64]clients.Client{},
		items:    map[int64]inventory.StockItem{},
		quotes:   map[int64]Quote{},
		counters: map[string]int64{},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Counters() sequence.CounterStore { return r }

func (r *memoryRepo) Next(ctx context.Context, family, period string) (int64, error) {
	key := family + ":" + period
	r.counters[key]++
	return r.counters[key], nil
}

func (r *memoryRepo) GetClient(ctx context.Context, id int64) (clients.Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return clients.Client{}, fmt.Errorf("client %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (inventory.StockItem, error) {
	it, ok := r.items[id]
	if !ok {
		return inventory.StockItem{}, inventory.NotFoundItem(id)
	}
	return it, nil
}

func (r *memoryRepo) Insert(ctx context.Context, q Quote) (Quote, error) {
	r.nextID++
	q.ID = r.nextID
	for i := range q.Lines {
		r.lineID++
		q.Lines[i].ID = r.lineID
		q.Lines[i].QuoteID = q.ID
	}
	r.quotes[q.ID] = q
	return q, nil
}

func (r *memoryRepo) UpdateBody(ctx context.Context, q Quote) error {
	existing, ok := r.quotes[q.ID]
	if !ok || existing.ConvertedInvoiceID != nil {
		return fmt.Errorf("quote %d missing or converted: %w", q.ID, shared.ErrConflict)
	}
	q.Number = existing.Number
	q.ConvertedInvoiceID = existing.ConvertedInvoiceID
	r.quotes[q.ID] = q
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Quote, error) {
	q, ok := r.quotes[id]
	if !ok {
		return Quote{}, notFound(id)
	}
	if r.raceConvert {
		// A concurrent conversion commits between this read and the
		// caller's write; the caller still sees the unconverted snapshot.
		r.raceConvert = false
		stored := q
		invID := int64(99)
		stored.ConvertedInvoiceID = &invID
		r.quotes[id] = stored
	}
	return q, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Quote, int, error) {
	var result []Quote
	for _, q := range r.quotes {
		result = append(result, q)
	}
	return result, len(result), nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	q, ok := r.quotes[id]
	if !ok {
		return notFound(id)
	}
	if q.ConvertedInvoiceID != nil {
		return fmt.Errorf("quote %d already converted: %w", id, shared.ErrConflict)
	}
	delete(r.quotes, id)
	return nil
}

func (r *memoryRepo) MarkConverted(ctx context.Context, quoteID, invoiceID int64) (bool, error) {
	r.claimCalled = true
	if r.loseClaim {
		return false, nil
	}
	q, ok := r.quotes[quoteID]
	if !ok || q.ConvertedInvoiceID != nil {
		return false, nil
	}
	q.ConvertedInvoiceID = &invoiceID
	r.quotes[quoteID] = q
	return true, nil
}

type fakeInvoices struct {
	nextID  int64
	created []invoicing.Input
	deleted []int64
	fail    error
}

func (f *fakeInvoices) Create(ctx context.Context, in invoicing.Input, actorID int64) (invoicing.Invoice, error) {
	if f.fail != nil {
		return invoicing.Invoice{}, f.fail
	}
	f.nextID++
	f.created = append(f.created, in)
	return invoicing.Invoice{ID: f.nextID, Number: fmt.Sprintf("INV-%06d", f.nextID), ClientID: in.ClientID, Type: in.Type}, nil
}

func (f *fakeInvoices) Delete(ctx context.Context, id int64, actorID int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func ptr(v float64) *float64 { return &v }

func fixtureRepo() *memoryRepo {
	repo := newMemoryRepo()
	repo.clients[1] = clients.Client{ID: 1, Name: "Acme", PriceCategory: pricing.CategoryA, IsActive: true}
	repo.items[10] = inventory.StockItem{ID: 10, Code: "WID-10", QtyOnHand: 50, SellingPrice: 100, PriceA: ptr(80), VATRate: 15, IsActive: true}
	return repo
}

func newTestService(repo *memoryRepo, invoices InvoicePort) *Service {
	return NewService(slog.Default(), repo, invoices, nil)
}

func quoteInput() Input {
	return Input{
		ClientID: 1,
		VAT:      true,
		IssuedAt: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
		Lines:    []LineInput{{StockItemID: 10, Qty: 2}},
	}
}

func TestCreatePricesWithoutReservingStock(t *testing.T) {
	repo := fixtureRepo()
	svc := newTestService(repo, &fakeInvoices{})

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	require.Equal(t, "QUO-000001", q.Number)
	require.InDelta(t, 80, q.Lines[0].UnitPrice, 0.001)
	require.InDelta(t, 160, q.Subtotal, 0.001)
	require.InDelta(t, 184, q.TotalDue, 0.001)
	// Quoting moves nothing.
	require.InDelta(t, 50, repo.items[10].QtyOnHand, 0.001)
}

func TestStatusDerivation(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	fresh := Quote{IssuedAt: now.AddDate(0, 0, -10)}
	require.Equal(t, StatusActive, fresh.StatusAt(now))

	stale := Quote{IssuedAt: now.AddDate(0, 0, -31)}
	require.Equal(t, StatusExpired, stale.StatusAt(now))

	invID := int64(9)
	converted := Quote{IssuedAt: now.AddDate(0, 0, -31), ConvertedInvoiceID: &invID}
	require.Equal(t, StatusConverted, converted.StatusAt(now))
}

func TestUpdateConvertedRejected(t *testing.T) {
	repo := fixtureRepo()
	svc := newTestService(repo, &fakeInvoices{})

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)
	invID := int64(3)
	stored := repo.quotes[q.ID]
	stored.ConvertedInvoiceID = &invID
	repo.quotes[q.ID] = stored

	_, err = svc.Update(context.Background(), q.ID, quoteInput(), 0)
	require.ErrorIs(t, err, shared.ErrConflict)

	err = svc.Delete(context.Background(), q.ID, 0)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateReprices(t *testing.T) {
	repo := fixtureRepo()
	svc := newTestService(repo, &fakeInvoices{})

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	in := quoteInput()
	in.Lines = []LineInput{{StockItemID: 10, Qty: 5, UnitPrice: ptr(90)}}
	updated, err := svc.Update(context.Background(), q.ID, in, 0)
	require.NoError(t, err)
	require.Equal(t, q.Number, updated.Number, "number survives edits")
	require.InDelta(t, 450, updated.Subtotal, 0.001)
}

func TestConvertClaimsQuote(t *testing.T) {
	repo := fixtureRepo()
	invoices := &fakeInvoices{}
	svc := newTestService(repo, invoices)
	svc.now = func() time.Time { return time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC) }

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	inv, err := svc.ConvertToInvoice(context.Background(), q.ID, 0)
	require.NoError(t, err)

	stored := repo.quotes[q.ID]
	require.NotNil(t, stored.ConvertedInvoiceID)
	require.Equal(t, inv.ID, *stored.ConvertedInvoiceID)

	// The quoted price and frozen VAT rate travel to the invoice explicitly.
	require.Len(t, invoices.created, 1)
	require.Equal(t, invoicing.TypeVAT, invoices.created[0].Type)
	require.NotNil(t, invoices.created[0].Lines[0].UnitPrice)
	require.InDelta(t, 80, *invoices.created[0].Lines[0].UnitPrice, 0.001)
	require.NotNil(t, invoices.created[0].Lines[0].VATRate)
	require.InDelta(t, 15, *invoices.created[0].Lines[0].VATRate, 0.001)
}

func TestConvertTwiceRejected(t *testing.T) {
	repo := fixtureRepo()
	svc := newTestService(repo, &fakeInvoices{})
	svc.now = func() time.Time { return time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC) }

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	_, err = svc.ConvertToInvoice(context.Background(), q.ID, 0)
	require.NoError(t, err)
	_, err = svc.ConvertToInvoice(context.Background(), q.ID, 0)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestConvertExpiredQuoteStillConverts(t *testing.T) {
	repo := fixtureRepo()
	invoices := &fakeInvoices{}
	svc := newTestService(repo, invoices)
	// Well past the 30-day window; only the converted flag blocks conversion.
	svc.now = func() time.Time { return time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC) }

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, q.StatusAt(svc.now()))

	inv, err := svc.ConvertToInvoice(context.Background(), q.ID, 0)
	require.NoError(t, err)
	require.Len(t, invoices.created, 1)
	require.Equal(t, inv.ID, *repo.quotes[q.ID].ConvertedInvoiceID)
}

func TestUpdateRacingConversionRejected(t *testing.T) {
	repo := fixtureRepo()
	svc := newTestService(repo, &fakeInvoices{})

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	// The conversion lands after Update's pre-check read; the guarded write
	// must still refuse to touch the converted quote.
	repo.raceConvert = true
	_, err = svc.Update(context.Background(), q.ID, quoteInput(), 0)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.NotNil(t, repo.quotes[q.ID].ConvertedInvoiceID)
}

func TestDeleteRacingConversionRejected(t *testing.T) {
	repo := fixtureRepo()
	svc := newTestService(repo, &fakeInvoices{})

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	repo.raceConvert = true
	err = svc.Delete(context.Background(), q.ID, 0)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, repo.quotes, q.ID)
}

func TestConvertLostRaceDeletesInvoice(t *testing.T) {
	repo := fixtureRepo()
	repo.loseClaim = true
	invoices := &fakeInvoices{}
	svc := newTestService(repo, invoices)
	svc.now = func() time.Time { return time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC) }

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	_, err = svc.ConvertToInvoice(context.Background(), q.ID, 0)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.True(t, repo.claimCalled)
	// The invoice created before the lost claim was compensated away.
	require.Equal(t, []int64{1}, invoices.deleted)
}

func TestConvertInvoiceFailureLeavesQuoteOpen(t *testing.T) {
	repo := fixtureRepo()
	invoices := &fakeInvoices{fail: &shared.StockShortageError{ItemCode: "WID-10", Requested: 2, OnHand: 0}}
	svc := newTestService(repo, invoices)
	svc.now = func() time.Time { return time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC) }

	q, err := svc.Create(context.Background(), quoteInput(), 0)
	require.NoError(t, err)

	_, err = svc.ConvertToInvoice(context.Background(), q.ID, 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Nil(t, repo.quotes[q.ID].ConvertedInvoiceID)
	require.False(t, repo.claimCalled)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(fixtureRepo(), &fakeInvoices{})

	_, err := svc.Create(context.Background(), Input{ClientID: 1, IssuedAt: time.Now()}, 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	in := quoteInput()
	in.Lines[0].Qty = 0
	_, err = svc.Create(context.Background(), in, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}
