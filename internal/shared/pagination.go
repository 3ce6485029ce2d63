package shared

// Page size bounds applied to every list operation.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampPage normalises limit/offset for list queries.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Paginated wraps a page of results with the total matching count.
type Paginated[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
