package clients

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/pricing"
)

// Client represents a client entity. PriceCategory selects the stock item
// price tier; CreditLimit of 0 means unlimited.
type Client struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone"`
	Address       string           `json:"address"`
	PriceCategory pricing.Category `json:"price_category"`
	CreditLimit   float64          `json:"credit_limit"`
	IsActive      bool             `json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
