package invoicing

import "time"

// DocType selects whether an invoice carries VAT.
type DocType string

const (
	TypeVAT    DocType = "VAT"
	TypeNonVAT DocType = "NONVAT"
)

// Invoice is a sales invoice. Lines are immutable after creation; only the
// issue date and description may change. Money the client has paid against it
// lives in payments, which this module never writes.
type Invoice struct {
	ID          int64     `json:"id"`
	Number      string    `json:"number"`
	ClientID    int64     `json:"client_id"`
	Type        DocType   `json:"type"`
	IssuedAt    time.Time `json:"issued_at"`
	Description string    `json:"description"`
	Subtotal    float64   `json:"subtotal"`
	VATAmount   float64   `json:"vat_amount"`
	TotalDue    float64   `json:"total_due"`
	Lines       []Line    `json:"lines"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Line is one invoiced item. UnitPrice is the resolved tier price unless the
// caller supplied an explicit override. LineTotal excludes VAT.
type Line struct {
	ID          int64   `json:"id"`
	InvoiceID   int64   `json:"invoice_id"`
	StockItemID int64   `json:"stock_item_id"`
	Qty         float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	VATRate     float64 `json:"vat_rate"`
	LineTotal   float64 `json:"line_total"`
}

// Payment is a receipt recorded against an invoice. Read-only here: payments
// arrive through bookkeeping, and their presence blocks invoice deletion.
type Payment struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"invoice_id"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	PaidAt    time.Time `json:"paid_at"`
}

// ListFilter filters invoice listings.
type ListFilter struct {
	ClientID int64
	Type     DocType
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

// LineInput is a requested line. A nil UnitPrice means "resolve from the
// client's price category"; a nil VATRate means "use the item's rate".
type LineInput struct {
	StockItemID int64
	Qty         float64
	UnitPrice   *float64
	VATRate     *float64
}

// Input carries everything needed to create an invoice.
type Input struct {
	ClientID    int64
	Type        DocType
	IssuedAt    time.Time
	Description string
	Lines       []LineInput
}
