package invoicing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/clients"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryState struct {
	items         map[int64]inventory.StockItem
	movements     []inventory.Movement
	counters      map[string]int64
	clients       map[int64]clients.Client
	invoices      map[int64]Invoice
	payments      map[int64][]Payment
	nextInvoiceID int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		items:         make(map[int64]inventory.StockItem, len(s.items)),
		movements:     append([]inventory.Movement(nil), s.movements...),
		counters:      make(map[string]int64, len(s.counters)),
		clients:       make(map[int64]clients.Client, len(s.clients)),
		invoices:      make(map[int64]Invoice, len(s.invoices)),
		payments:      make(map[int64][]Payment, len(s.payments)),
		nextInvoiceID: s.nextInvoiceID,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.invoices {
		v.Lines = append([]Line(nil), v.Lines...)
		c.invoices[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = append([]Payment(nil), v...)
	}
	return c
}

type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		items:    map[int64]inventory.StockItem{},
		counters: map[string]int64{},
		clients:  map[int64]clients.Client{},
		invoices: map[int64]Invoice{},
		payments: map[int64][]Payment{},
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.state.invoices[id]
	if !ok {
		return Invoice{}, notFound(id)
	}
	return inv, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	var result []Invoice
	for _, inv := range r.state.invoices {
		result = append(result, inv)
	}
	return result, len(result), nil
}

func (r *memoryRepo) UpdateDetails(ctx context.Context, id int64, issuedAt time.Time, description string) error {
	inv, ok := r.state.invoices[id]
	if !ok {
		return notFound(id)
	}
	inv.IssuedAt = issuedAt
	inv.Description = description
	r.state.invoices[id] = inv
	return nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return r.state.payments[invoiceID], nil
}

type memoryTx struct {
	state  *memoryState
	lineID int64
}

func (t *memoryTx) Stock() inventory.TxPort         { return t }
func (t *memoryTx) Counters() sequence.CounterStore { return t }

func (t *memoryTx) Next(ctx context.Context, family, period string) (int64, error) {
	key := family + ":" + period
	t.state.counters[key]++
	return t.state.counters[key], nil
}

func (t *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (inventory.StockItem, error) {
	it, ok := t.state.items[id]
	if !ok {
		return inventory.StockItem{}, inventory.NotFoundItem(id)
	}
	return it, nil
}

func (t *memoryTx) UpdateQuantity(ctx context.Context, id int64, qty float64) error {
	it := t.state.items[id]
	it.QtyOnHand = qty
	t.state.items[id] = it
	return nil
}

func (t *memoryTx) UpdateQuantityAndPrices(ctx context.Context, id int64, qty, cost, sell float64) error {
	it := t.state.items[id]
	it.QtyOnHand = qty
	it.CostPrice = cost
	it.SellingPrice = sell
	t.state.items[id] = it
	return nil
}

func (t *memoryTx) InsertMovement(ctx context.Context, m inventory.Movement) error {
	t.state.movements = append(t.state.movements, m)
	return nil
}

func (t *memoryTx) GetClient(ctx context.Context, id int64) (clients.Client, error) {
	c, ok := t.state.clients[id]
	if !ok {
		return clients.Client{}, fmt.Errorf("client %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func (t *memoryTx) ClientOutstanding(ctx context.Context, clientID int64) (float64, error) {
	var outstanding float64
	for _, inv := range t.state.invoices {
		if inv.ClientID != clientID {
			continue
		}
		outstanding += inv.TotalDue
		for _, p := range t.state.payments[inv.ID] {
			outstanding -= p.Amount
		}
	}
	return outstanding, nil
}

func (t *memoryTx) Insert(ctx context.Context, inv Invoice) (Invoice, error) {
	t.state.nextInvoiceID++
	inv.ID = t.state.nextInvoiceID
	for i := range inv.Lines {
		t.lineID++
		inv.Lines[i].ID = t.lineID
		inv.Lines[i].InvoiceID = inv.ID
	}
	t.state.invoices[inv.ID] = inv
	return inv, nil
}

func (t *memoryTx) GetLines(ctx context.Context, invoiceID int64) ([]Line, error) {
	inv, ok := t.state.invoices[invoiceID]
	if !ok {
		return nil, notFound(invoiceID)
	}
	return append([]Line(nil), inv.Lines...), nil
}

func (t *memoryTx) PaymentCount(ctx context.Context, invoiceID int64) (int, error) {
	return len(t.state.payments[invoiceID]), nil
}

func (t *memoryTx) Delete(ctx context.Context, id int64) error {
	if _, ok := t.state.invoices[id]; !ok {
		return notFound(id)
	}
	delete(t.state.invoices, id)
	return nil
}

func ptr(v float64) *float64 { return &v }

func fixtureRepo() *memoryRepo {
	repo := newMemoryRepo()
	repo.state.clients[1] = clients.Client{ID: 1, Name: "Acme", PriceCategory: pricing.CategoryA, CreditLimit: 0, IsActive: true}
	repo.state.clients[2] = clients.Client{ID: 2, Name: "Budget Co", PriceCategory: pricing.CategoryC, CreditLimit: 1000, IsActive: true}
	repo.state.items[10] = inventory.StockItem{ID: 10, Code: "WID-10", QtyOnHand: 50, CostPrice: 40, SellingPrice: 100, PriceA: ptr(80), VATRate: 15, IsActive: true}
	repo.state.items[20] = inventory.StockItem{ID: 20, Code: "WID-20", QtyOnHand: 4, CostPrice: 10, SellingPrice: 25, VATRate: 15, IsActive: true}
	return repo
}

func invoiceInput(clientID int64, lines ...LineInput) Input {
	return Input{
		ClientID: clientID,
		Type:     TypeVAT,
		IssuedAt: time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
		Lines:    lines,
	}
}

func TestCreateResolvesTierPrice(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	// Category A client: item 10 sells at the A tier price of 80, not 100.
	inv, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 2}), 0)
	require.NoError(t, err)

	require.Equal(t, "INV-000001", inv.Number)
	require.InDelta(t, 80, inv.Lines[0].UnitPrice, 0.001)
	require.InDelta(t, 160, inv.Subtotal, 0.001)
	require.InDelta(t, 24, inv.VATAmount, 0.001)
	require.InDelta(t, 184, inv.TotalDue, 0.001)
	require.InDelta(t, 48, repo.state.items[10].QtyOnHand, 0.001)
}

func TestCreateFallsBackToBasePrice(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	// Item 20 has no A tier, so even the category A client pays base price.
	inv, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 20, Qty: 1}), 0)
	require.NoError(t, err)
	require.InDelta(t, 25, inv.Lines[0].UnitPrice, 0.001)
}

func TestCreateExplicitPriceOverridesTier(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	inv, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 1, UnitPrice: ptr(70)}), 0)
	require.NoError(t, err)
	require.InDelta(t, 70, inv.Lines[0].UnitPrice, 0.001)
}

func TestCreateExplicitVATRateOverridesItem(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	// Item 10 defaults to 15%, the caller pins this line to 5%.
	inv, err := svc.Create(context.Background(), invoiceInput(1,
		LineInput{StockItemID: 10, Qty: 2, VATRate: ptr(5)}), 0)
	require.NoError(t, err)
	require.InDelta(t, 5, inv.Lines[0].VATRate, 0.001)
	require.InDelta(t, 160, inv.Subtotal, 0.001)
	require.InDelta(t, 8, inv.VATAmount, 0.001)
	require.InDelta(t, 168, inv.TotalDue, 0.001)

	_, err = svc.Create(context.Background(), invoiceInput(1,
		LineInput{StockItemID: 10, Qty: 1, VATRate: ptr(120)}), 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateNonVATSkipsVAT(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	in := invoiceInput(1, LineInput{StockItemID: 10, Qty: 2})
	in.Type = TypeNonVAT
	inv, err := svc.Create(context.Background(), in, 0)
	require.NoError(t, err)
	require.InDelta(t, 0, inv.VATAmount, 0.001)
	require.InDelta(t, inv.Subtotal, inv.TotalDue, 0.001)
}

func TestCreateInsufficientStockRollsBack(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	// First line is available, second is short by one; nothing may move.
	_, err := svc.Create(context.Background(), invoiceInput(1,
		LineInput{StockItemID: 10, Qty: 2},
		LineInput{StockItemID: 20, Qty: 5},
	), 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var shortage *shared.StockShortageError
	require.ErrorAs(t, err, &shortage)
	require.Equal(t, "WID-20", shortage.ItemCode)
	require.InDelta(t, 5, shortage.Requested, 0.001)
	require.InDelta(t, 4, shortage.OnHand, 0.001)

	require.InDelta(t, 50, repo.state.items[10].QtyOnHand, 0.001)
	require.InDelta(t, 4, repo.state.items[20].QtyOnHand, 0.001)
	require.Empty(t, repo.state.invoices)
	require.Empty(t, repo.state.movements)
}

func TestCreateCreditLimitBlocksWithoutMutation(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	// Client 2 is capped at 1000; 12 units at base 100 plus VAT blows past it.
	_, err := svc.Create(context.Background(), invoiceInput(2, LineInput{StockItemID: 10, Qty: 12}), 0)
	require.ErrorIs(t, err, shared.ErrCreditLimitExceeded)

	var credit *shared.CreditLimitError
	require.ErrorAs(t, err, &credit)
	require.InDelta(t, 1000, credit.Limit, 0.001)

	require.InDelta(t, 50, repo.state.items[10].QtyOnHand, 0.001)
	require.Empty(t, repo.state.invoices)
}

func TestCreateCreditLimitCountsOutstanding(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	// 6 units at 100 + 15% VAT = 690, inside the 1000 limit.
	first, err := svc.Create(context.Background(), invoiceInput(2, LineInput{StockItemID: 10, Qty: 6}), 0)
	require.NoError(t, err)
	require.InDelta(t, 690, first.TotalDue, 0.001)

	// Another 690 on top of the outstanding 690 breaches the limit.
	_, err = svc.Create(context.Background(), invoiceInput(2, LineInput{StockItemID: 10, Qty: 6}), 0)
	require.ErrorIs(t, err, shared.ErrCreditLimitExceeded)

	// Pay the first invoice off and the same order goes through.
	repo.state.payments[first.ID] = []Payment{{InvoiceID: first.ID, Amount: 690}}
	_, err = svc.Create(context.Background(), invoiceInput(2, LineInput{StockItemID: 10, Qty: 6}), 0)
	require.NoError(t, err)
}

func TestCreateZeroLimitMeansUnlimited(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	_, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 40}), 0)
	require.NoError(t, err)
}

func TestCreateNumbersAreSequential(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	first, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 1}), 0)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 1}), 0)
	require.NoError(t, err)
	require.Equal(t, "INV-000001", first.Number)
	require.Equal(t, "INV-000002", second.Number)
}

func TestCreateInactiveClientRejected(t *testing.T) {
	repo := fixtureRepo()
	c := repo.state.clients[1]
	c.IsActive = false
	repo.state.clients[1] = c
	svc := NewService(repo, nil)

	_, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 1}), 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteRestoresStock(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	inv, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 5}), 0)
	require.NoError(t, err)
	require.InDelta(t, 45, repo.state.items[10].QtyOnHand, 0.001)

	require.NoError(t, svc.Delete(context.Background(), inv.ID, 0))
	require.InDelta(t, 50, repo.state.items[10].QtyOnHand, 0.001)
	require.Empty(t, repo.state.invoices)

	last := repo.state.movements[len(repo.state.movements)-1]
	require.Equal(t, inventory.MovementReversal, last.Kind)
}

func TestDeleteBlockedByPayments(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	inv, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 5}), 0)
	require.NoError(t, err)
	repo.state.payments[inv.ID] = []Payment{{InvoiceID: inv.ID, Amount: 100}}

	err = svc.Delete(context.Background(), inv.ID, 0)
	require.ErrorIs(t, err, shared.ErrConflict)

	// Invoice and stock untouched.
	require.Contains(t, repo.state.invoices, inv.ID)
	require.InDelta(t, 45, repo.state.items[10].QtyOnHand, 0.001)
}

func TestUpdateDetailsOnly(t *testing.T) {
	repo := fixtureRepo()
	svc := NewService(repo, nil)

	inv, err := svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: 2}), 0)
	require.NoError(t, err)

	newDate := inv.IssuedAt.AddDate(0, 0, 3)
	updated, err := svc.UpdateDetails(context.Background(), inv.ID, newDate, "amended", 0)
	require.NoError(t, err)
	require.Equal(t, newDate, updated.IssuedAt)
	require.Equal(t, "amended", updated.Description)
	require.InDelta(t, inv.TotalDue, updated.TotalDue, 0.001)
	require.InDelta(t, 48, repo.state.items[10].QtyOnHand, 0.001)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(fixtureRepo(), nil)

	_, err := svc.Create(context.Background(), Input{ClientID: 1, Type: TypeVAT, IssuedAt: time.Now()}, 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), invoiceInput(1, LineInput{StockItemID: 10, Qty: -1}), 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	in := invoiceInput(1, LineInput{StockItemID: 10, Qty: 1})
	in.Type = "PROFORMA"
	_, err = svc.Create(context.Background(), in, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}
