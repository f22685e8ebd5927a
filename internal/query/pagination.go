package query

import (
	"fmt"

	"traffic-fines-service/internal/domain/violation"
)

// Page is the envelope returned by every paginated operation.
type Page[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func NewPage[T any](data []T, page, pageSize, total int) Page[T] {
	if data == nil {
		data = []T{}
	}
	return Page[T]{
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: TotalPages(total, pageSize),
	}
}

// TotalPages is ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Paginate returns the half-open slice bounds of page within total items.
// Pages past the end yield an empty window.
func Paginate(total, page, pageSize int) (start, end int, err error) {
	if page < 1 || pageSize < 1 {
		return 0, 0, fmt.Errorf("%w: page and page_size must be >= 1, got %d/%d",
			violation.ErrInvalidPage, page, pageSize)
	}
	start = (page - 1) * pageSize
	if start >= total || start < 0 {
		return total, total, nil
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end, nil
}
