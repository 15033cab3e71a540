package suppliers

import "time"

// Supplier represents a supplier entity.
type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Balance summarises what is owed to a supplier: received stock value minus
// recorded supplier payments. Payments are read-only here.
type Balance struct {
	SupplierID  int64   `json:"supplier_id"`
	Received    float64 `json:"received"`
	Paid        float64 `json:"paid"`
	Outstanding float64 `json:"outstanding"`
}
