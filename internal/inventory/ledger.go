package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxPort exposes the stock mutations available inside an open transaction.
// Implementations must lock the item row before returning it so concurrent
// availability checks against the same item serialize.
type TxPort interface {
	GetItemForUpdate(ctx context.Context, id int64) (StockItem, error)
	UpdateQuantity(ctx context.Context, id int64, qty float64) error
	UpdateQuantityAndPrices(ctx context.Context, id int64, qty, cost, sell float64) error
	InsertMovement(ctx context.Context, m Movement) error
}

// Ledger is the sole authority for mutating on-hand quantities. It is
// stateless; every operation runs against the TxPort of the enclosing
// document transaction, so a rollback discards the ledger effects together
// with the document write.
type Ledger struct{}

// Receive increments on-hand quantity and overwrites the cached cost and
// base selling price with the values just received (last-cost-wins).
func (Ledger) Receive(ctx context.Context, tx TxPort, ref Ref, itemID int64, qty, cost, sell float64) error {
	if qty <= 0 {
		return shared.Invalid("receive quantity must be positive", "qty")
	}
	if cost < 0 || sell < 0 {
		return shared.Invalid("prices must not be negative", "cost_price", "sell_price")
	}
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return err
	}
	if err := tx.UpdateQuantityAndPrices(ctx, item.ID, item.QtyOnHand+qty, cost, sell); err != nil {
		return err
	}
	return tx.InsertMovement(ctx, Movement{
		StockItemID: item.ID,
		Kind:        MovementReceive,
		Qty:         qty,
		CostPrice:   cost,
		SellPrice:   sell,
		RefFamily:   ref.Family,
		RefID:       ref.DocID,
		BatchID:     ref.Batch,
		OccurredAt:  time.Now().UTC(),
	})
}

// Issue decrements on-hand quantity. It fails with an insufficient-stock
// error naming the item when qty exceeds the current on-hand value.
func (Ledger) Issue(ctx context.Context, tx TxPort, ref Ref, itemID int64, qty float64) error {
	if qty <= 0 {
		return shared.Invalid("issue quantity must be positive", "qty")
	}
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return err
	}
	if qty > item.QtyOnHand {
		return &shared.StockShortageError{ItemCode: item.Code, Requested: qty, OnHand: item.QtyOnHand}
	}
	if err := tx.UpdateQuantity(ctx, item.ID, item.QtyOnHand-qty); err != nil {
		return err
	}
	return tx.InsertMovement(ctx, Movement{
		StockItemID: item.ID,
		Kind:        MovementIssue,
		Qty:         -qty,
		CostPrice:   item.CostPrice,
		SellPrice:   item.SellingPrice,
		RefFamily:   ref.Family,
		RefID:       ref.DocID,
		BatchID:     ref.Batch,
		OccurredAt:  time.Now().UTC(),
	})
}

// Reverse applies a compensating delta when a document is deleted or its
// lines rewritten: positive to undo a prior issue, negative to undo a prior
// receive. Reversal is never validated against availability, because it is
// repairing a ledger entry that has already happened.
func (Ledger) Reverse(ctx context.Context, tx TxPort, ref Ref, itemID int64, delta float64) error {
	if delta == 0 {
		return shared.Invalid("reversal delta must be non-zero", "qty")
	}
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return err
	}
	if err := tx.UpdateQuantity(ctx, item.ID, item.QtyOnHand+delta); err != nil {
		return err
	}
	return tx.InsertMovement(ctx, Movement{
		StockItemID: item.ID,
		Kind:        MovementReversal,
		Qty:         delta,
		CostPrice:   item.CostPrice,
		SellPrice:   item.SellingPrice,
		RefFamily:   ref.Family,
		RefID:       ref.DocID,
		BatchID:     ref.Batch,
		OccurredAt:  time.Now().UTC(),
	})
}

// NotFoundItem formats the standard missing stock item error.
func NotFoundItem(id int64) error {
	return fmt.Errorf("stock item %d: %w", id, shared.ErrNotFound)
}
