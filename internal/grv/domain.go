package grv

import "time"

// GRV is a goods received voucher. Its reference is minted once at creation
// and survives edits; its lines drive RECEIVE entries in the stock ledger.
// The cached totals always equal the sums over Lines: TotalQty of qty,
// TotalCost of qty times cost, TotalValue of qty times selling price.
type GRV struct {
	ID          int64     `json:"id"`
	Reference   string    `json:"reference"`
	SupplierID  int64     `json:"supplier_id"`
	ReceivedAt  time.Time `json:"received_at"`
	Description string    `json:"description"`
	TotalQty    float64   `json:"total_qty"`
	TotalCost   float64   `json:"total_cost"`
	TotalValue  float64   `json:"total_value"`
	Lines       []Line    `json:"lines"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Line is one received item. LineTotal is qty times unit cost.
type Line struct {
	ID          int64   `json:"id"`
	GRVID       int64   `json:"grv_id"`
	StockItemID int64   `json:"stock_item_id"`
	Qty         float64 `json:"qty"`
	CostPrice   float64 `json:"cost_price"`
	SellPrice   float64 `json:"sell_price"`
	LineTotal   float64 `json:"line_total"`
}

// ListFilter filters GRV listings.
type ListFilter struct {
	SupplierID int64
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// LineInput is the caller-supplied shape of a line before totals are derived.
type LineInput struct {
	StockItemID int64
	Qty         float64
	CostPrice   float64
	SellPrice   float64
}

// Input carries everything needed to create or rewrite a GRV.
type Input struct {
	SupplierID  int64
	ReceivedAt  time.Time
	Description string
	Lines       []LineInput
}
