package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/pricing"
)

// StockItem is the inventory master record. QtyOnHand is the single source
// of truth for availability and is only ever mutated through Ledger
// operations running inside a document transaction.
type StockItem struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	QtyOnHand    float64   `json:"qty_on_hand"`
	CostPrice    float64   `json:"cost_price"`
	SellingPrice float64   `json:"selling_price"`
	PriceA       *float64  `json:"price_a,omitempty"`
	PriceB       *float64  `json:"price_b,omitempty"`
	PriceD       *float64  `json:"price_d,omitempty"`
	PriceE       *float64  `json:"price_e,omitempty"`
	VATRate      float64   `json:"vat_rate"`
	MinStock     float64   `json:"min_stock"`
	MaxStock     float64   `json:"max_stock"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tiers exposes the item's price table for resolution.
func (i StockItem) Tiers() pricing.Tiers {
	return pricing.Tiers{
		Base: i.SellingPrice,
		A:    i.PriceA,
		B:    i.PriceB,
		D:    i.PriceD,
		E:    i.PriceE,
	}
}

// MovementKind enumerates ledger operations.
type MovementKind string

const (
	// MovementReceive increases stock from a goods receipt.
	MovementReceive MovementKind = "RECEIVE"
	// MovementIssue decreases stock for an invoice.
	MovementIssue MovementKind = "ISSUE"
	// MovementReversal compensates a prior receive or issue.
	MovementReversal MovementKind = "REVERSAL"
)

// Movement is one row of the stock ledger. Qty is a signed delta. Movements
// written inside the same document transaction share a batch id.
type Movement struct {
	ID          int64        `json:"id"`
	StockItemID int64        `json:"stock_item_id"`
	Kind        MovementKind `json:"kind"`
	Qty         float64      `json:"qty"`
	CostPrice   float64      `json:"cost_price"`
	SellPrice   float64      `json:"sell_price"`
	RefFamily   string       `json:"ref_family"`
	RefID       int64        `json:"ref_id"`
	BatchID     uuid.UUID    `json:"batch_id"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// Ref identifies the document a ledger operation belongs to.
type Ref struct {
	Family string
	DocID  int64
	Batch  uuid.UUID
}

// MovementFilter filters ledger listings.
type MovementFilter struct {
	StockItemID int64
	From        time.Time
	To          time.Time
	Limit       int
}
