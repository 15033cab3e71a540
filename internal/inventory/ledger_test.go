package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryTxPort struct {
	items     map[int64]StockItem
	movements []Movement
}

func newMemoryTxPort(items ...StockItem) *memoryTxPort {
	port := &memoryTxPort{items: make(map[int64]StockItem)}
	for _, it := range items {
		port.items[it.ID] = it
	}
	return port
}

func (p *memoryTxPort) GetItemForUpdate(ctx context.Context, id int64) (StockItem, error) {
	it, ok := p.items[id]
	if !ok {
		return StockItem{}, NotFoundItem(id)
	}
	return it, nil
}

func (p *memoryTxPort) UpdateQuantity(ctx context.Context, id int64, qty float64) error {
	it := p.items[id]
	it.QtyOnHand = qty
	p.items[id] = it
	return nil
}

func (p *memoryTxPort) UpdateQuantityAndPrices(ctx context.Context, id int64, qty, cost, sell float64) error {
	it := p.items[id]
	it.QtyOnHand = qty
	it.CostPrice = cost
	it.SellingPrice = sell
	p.items[id] = it
	return nil
}

func (p *memoryTxPort) InsertMovement(ctx context.Context, m Movement) error {
	p.movements = append(p.movements, m)
	return nil
}

func testRef() Ref {
	return Ref{Family: "GRV", DocID: 1, Batch: uuid.New()}
}

func TestReceiveLastCostWins(t *testing.T) {
	port := newMemoryTxPort(StockItem{ID: 1, Code: "WID-1", QtyOnHand: 2, CostPrice: 8, SellingPrice: 12})
	ledger := Ledger{}
	ctx := context.Background()

	require.NoError(t, ledger.Receive(ctx, port, testRef(), 1, 5, 10, 15))

	it := port.items[1]
	require.InDelta(t, 7, it.QtyOnHand, 0.0001)
	require.InDelta(t, 10, it.CostPrice, 0.0001)
	require.InDelta(t, 15, it.SellingPrice, 0.0001)
	require.Len(t, port.movements, 1)
	require.Equal(t, MovementReceive, port.movements[0].Kind)
	require.InDelta(t, 5, port.movements[0].Qty, 0.0001)
}

func TestIssueBoundary(t *testing.T) {
	port := newMemoryTxPort(StockItem{ID: 1, Code: "WID-1", QtyOnHand: 10})
	ledger := Ledger{}
	ctx := context.Background()

	// Issuing exactly on-hand succeeds and leaves zero.
	require.NoError(t, ledger.Issue(ctx, port, testRef(), 1, 10))
	require.InDelta(t, 0, port.items[1].QtyOnHand, 0.0001)

	// One more unit fails and quantity stays put.
	err := ledger.Issue(ctx, port, testRef(), 1, 1)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var shortage *shared.StockShortageError
	require.ErrorAs(t, err, &shortage)
	require.Equal(t, "WID-1", shortage.ItemCode)
	require.InDelta(t, 1, shortage.Requested, 0.0001)
	require.InDelta(t, 0, shortage.OnHand, 0.0001)
	require.InDelta(t, 0, port.items[1].QtyOnHand, 0.0001)
}

func TestReverseSkipsAvailabilityCheck(t *testing.T) {
	port := newMemoryTxPort(StockItem{ID: 1, Code: "WID-1", QtyOnHand: 3})
	ledger := Ledger{}
	ctx := context.Background()

	// Compensating decrement larger than on-hand still completes: it is
	// repairing a prior receive.
	require.NoError(t, ledger.Reverse(ctx, port, testRef(), 1, -5))
	require.InDelta(t, -2, port.items[1].QtyOnHand, 0.0001)

	require.NoError(t, ledger.Reverse(ctx, port, testRef(), 1, 5))
	require.InDelta(t, 3, port.items[1].QtyOnHand, 0.0001)
}

func TestLedgerValidation(t *testing.T) {
	port := newMemoryTxPort(StockItem{ID: 1, Code: "WID-1", QtyOnHand: 3})
	ledger := Ledger{}
	ctx := context.Background()

	require.ErrorIs(t, ledger.Receive(ctx, port, testRef(), 1, 0, 1, 1), shared.ErrValidation)
	require.ErrorIs(t, ledger.Receive(ctx, port, testRef(), 1, 1, -1, 1), shared.ErrValidation)
	require.ErrorIs(t, ledger.Issue(ctx, port, testRef(), 1, -2), shared.ErrValidation)
	require.ErrorIs(t, ledger.Reverse(ctx, port, testRef(), 1, 0), shared.ErrValidation)
	require.ErrorIs(t, ledger.Issue(ctx, port, testRef(), 99, 1), shared.ErrNotFound)
	require.Empty(t, port.movements)
}
