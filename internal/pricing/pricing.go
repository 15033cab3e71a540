// Package pricing resolves the unit price to charge a client for a stock
// item, based on the item's tiered price table and the client's category.
package pricing

import "strings"

// Category is a client pricing tier. C is the default and always maps to
// the item's base selling price.
type Category string

const (
	CategoryA Category = "A"
	CategoryB Category = "B"
	CategoryC Category = "C"
	CategoryD Category = "D"
	CategoryE Category = "E"
)

// ParseCategory normalises raw input to a known category. Unknown or empty
// input maps to C.
func ParseCategory(raw string) Category {
	switch Category(strings.ToUpper(strings.TrimSpace(raw))) {
	case CategoryA:
		return CategoryA
	case CategoryB:
		return CategoryB
	case CategoryD:
		return CategoryD
	case CategoryE:
		return CategoryE
	default:
		return CategoryC
	}
}

// Tiers is a stock item's price table. Base is the default selling price;
// the optional fields are the tiered prices for categories A, B, D and E.
type Tiers struct {
	Base float64
	A    *float64
	B    *float64
	D    *float64
	E    *float64
}

// Resolve returns the unit price for the given category. Resolution is
// total: a missing tier falls back to the base selling price.
func Resolve(t Tiers, cat Category) float64 {
	var tier *float64
	switch cat {
	case CategoryA:
		tier = t.A
	case CategoryB:
		tier = t.B
	case CategoryD:
		tier = t.D
	case CategoryE:
		tier = t.E
	}
	if tier != nil {
		return *tier
	}
	return t.Base
}
