package quotes

import "time"

// ValidityWindow is how long a quote stays open for conversion.
const ValidityWindow = 30 * 24 * time.Hour

// Status is derived, never stored: a quote is CONVERTED once an invoice
// claims it, EXPIRED past its validity window, ACTIVE otherwise.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusConverted Status = "CONVERTED"
)

// Quote is a priced offer to a client. It never touches the stock ledger;
// stock moves only when the quote converts to an invoice.
type Quote struct {
	ID                 int64     `json:"id"`
	Number             string    `json:"number"`
	ClientID           int64     `json:"client_id"`
	VAT                bool      `json:"vat"`
	IssuedAt           time.Time `json:"issued_at"`
	Description        string    `json:"description"`
	Subtotal           float64   `json:"subtotal"`
	VATAmount          float64   `json:"vat_amount"`
	TotalDue           float64   `json:"total_due"`
	Lines              []Line    `json:"lines"`
	ConvertedInvoiceID *int64    `json:"converted_invoice_id,omitempty"`
	CreatedBy          int64     `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// StatusAt derives the quote's status as of a given instant.
func (q Quote) StatusAt(now time.Time) Status {
	if q.ConvertedInvoiceID != nil {
		return StatusConverted
	}
	if now.After(q.IssuedAt.Add(ValidityWindow)) {
		return StatusExpired
	}
	return StatusActive
}

// Line is one quoted item.
type Line struct {
	ID          int64   `json:"id"`
	QuoteID     int64   `json:"quote_id"`
	StockItemID int64   `json:"stock_item_id"`
	Qty         float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	VATRate     float64 `json:"vat_rate"`
	LineTotal   float64 `json:"line_total"`
}

// ListFilter filters quote listings.
type ListFilter struct {
	ClientID int64
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

// LineInput is a requested line. A nil UnitPrice means "resolve from the
// client's price category".
type LineInput struct {
	StockItemID int64
	Qty         float64
	UnitPrice   *float64
}

// Input carries everything needed to create or rewrite a quote.
type Input struct {
	ClientID    int64
	VAT         bool
	IssuedAt    time.Time
	Description string
	Lines       []LineInput
}
