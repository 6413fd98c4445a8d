package core

import (
	"context"
	"sort"
)

// Pagination describes where a page sits in the full result set
type Pagination struct {
	PageNumber int  `json:"page_number"`
	PageSize   int  `json:"page_size"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
	NextPage   *int `json:"next_page,omitempty"`
}

// NewPagination derives page counts from the total item count.
// NextPage is set only when HasMore is true.
func NewPagination(pageNumber, pageSize, totalItems int) Pagination {
	p := Pagination{
		PageNumber: pageNumber,
		PageSize:   pageSize,
		TotalItems: totalItems,
	}
	if pageSize > 0 && totalItems > 0 {
		p.TotalPages = (totalItems + pageSize - 1) / pageSize
	}
	p.HasMore = pageNumber < p.TotalPages
	if p.HasMore {
		next := pageNumber + 1
		p.NextPage = &next
	}
	return p
}

// Page is one fetched page of items
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// SortPages orders pages by ascending page number in place.
func SortPages[T any](pages []Page[T]) {
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Pagination.PageNumber < pages[j].Pagination.PageNumber
	})
}

// Flatten concatenates the items of pages in page order.
func Flatten[T any](pages []Page[T]) []T {
	n := 0
	for _, p := range pages {
		n += len(p.Items)
	}
	items := make([]T, 0, n)
	for _, p := range pages {
		items = append(items, p.Items...)
	}
	return items
}

// FetchPageFunc fetches one page of a filtered, paginated resource.
type FetchPageFunc[T any] func(ctx context.Context, pageNumber, pageSize int, filters Filters) (Page[T], error)

// FetchAllFunc fetches a resource as one atomic unit.
type FetchAllFunc[T any] func(ctx context.Context) (T, error)
