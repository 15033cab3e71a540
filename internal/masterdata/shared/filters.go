package shared

// ListFilters carries common listing parameters for master data.
type ListFilters struct {
	Search   string
	IsActive *bool
	Page     int
	Limit    int
}

// Offset computes the query offset for the current page.
func (f ListFilters) Offset() int {
	offset := (f.Page - 1) * f.Limit
	if offset < 0 {
		return 0
	}
	return offset
}
