// Package pagination reads list-table paging and ordering parameters from
// URL query strings. It keeps page numbers and page sizes within bounds and
// normalizes the case of the ordering values; whether a column may be
// sorted on is decided by the store.
package pagination

import (
	"net/url"
	"strconv"
	"strings"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Page    int    // Current page number (1-based)
	PerPage int    // Number of items per page
	Offset  int    // Calculated offset for database queries
	OrderBy string // Requested sort column, lower-cased
	Order   string // Requested direction, upper-cased
}

const (
	// MaxPerPage is the maximum number of items allowed per page
	MaxPerPage = 100
	// DefaultPage is the default page number when not specified
	DefaultPage = 1
	// DefaultPerPage is the default number of items per page when not specified
	DefaultPerPage = 20
)

// calculateOffset computes the database offset for a given page and limit.
// It ensures page is at least 1 to avoid negative offsets.
func calculateOffset(page, perPage int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * perPage
}

// Option configures the defaults applied before the query is read.
type Option func(*Params)

// WithDefaultPerPage sets the page size used when the request has none.
// Values outside 1..MaxPerPage are ignored.
func WithDefaultPerPage(perPage int) Option {
	return func(p *Params) {
		if perPage > 0 && perPage <= MaxPerPage {
			p.PerPage = perPage
		}
	}
}

// GetPaginationParams extracts paged, per_page, orderby and order from q.
func GetPaginationParams(q url.Values, opts ...Option) *Params {
	params := &Params{
		Page:    DefaultPage,
		PerPage: DefaultPerPage,
	}

	for _, opt := range opts {
		opt(params)
	}

	if pageStr := q.Get("paged"); pageStr != "" {
		if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
			params.Page = val
		}
	}

	if perPageStr := q.Get("per_page"); perPageStr != "" {
		if val, err := strconv.Atoi(perPageStr); err == nil && val > 0 {
			params.PerPage = val
		}
	}

	// enforce max page size
	if params.PerPage > MaxPerPage {
		params.PerPage = MaxPerPage
	}

	params.Offset = calculateOffset(params.Page, params.PerPage)
	params.OrderBy = strings.ToLower(strings.TrimSpace(q.Get("orderby")))
	params.Order = strings.ToUpper(strings.TrimSpace(q.Get("order")))

	return params
}

// TotalPages returns how many pages of perPage items hold total items.
func TotalPages(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// GetHasNext determines if there are more items available after the current page.
// It returns true when the offset plus limit is less than the total count.
func GetHasNext(offset, perPage, count int) bool {
	return (offset + perPage) < count
}
