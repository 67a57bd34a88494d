package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// ClampPage normalises page and page size against a default and a ceiling.
func ClampPage(page, perPage, def, max int) (int, int) {
	if perPage <= 0 {
		perPage = def
	}
	if perPage > max {
		perPage = max
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}
