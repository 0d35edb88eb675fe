// Package query answers the admin list view: it turns a view, filters,
// ordering and a page number into store calls and collects the counters
// shown on every view tab.
package query

import (
	"context"
	"strings"

	"github.io/infrasutra/emaillog/internal/pagination"
	"github.io/infrasutra/emaillog/internal/store"
)

type View string

const (
	ViewAll     View = "all"
	ViewStarred View = "starred"
	ViewSent    View = "sent"
	ViewFailed  View = "failed"
)

// ParseView maps a request value onto a View, defaulting to ViewAll.
func ParseView(value string) View {
	switch View(strings.ToLower(strings.TrimSpace(value))) {
	case ViewStarred:
		return ViewStarred
	case ViewSent:
		return ViewSent
	case ViewFailed:
		return ViewFailed
	default:
		return ViewAll
	}
}

// noMatchID replaces an empty starred list; AUTOINCREMENT ids start at 1.
const noMatchID int64 = 0

// LogReader is the read side of a site's log table.
type LogReader interface {
	FetchPage(ctx context.Context, filter store.Filter, sort store.Sort, pageNo, pageSize int) ([]store.LogRecord, int, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]store.LogRecord, error)
	CountAll(ctx context.Context) (int, error)
	CountByResult(ctx context.Context, class store.ResultClass) (int, error)
}

type Request struct {
	View    View
	Search  string
	Date    string
	OrderBy string
	Order   string
	Page    int
	PerPage int
}

type PageResult struct {
	Items        []store.LogRecord
	Total        int
	TotalAll     int
	TotalSent    int
	TotalFailed  int
	TotalStarred int
	Page         int
	PerPage      int
	TotalPages   int
}

type Facade struct {
	logs LogReader
}

func New(logs LogReader) *Facade {
	return &Facade{logs: logs}
}

// GetPage returns the requested page of the view along with the totals of
// all four views. starredIDs are the current user's starred entries.
func (f *Facade) GetPage(ctx context.Context, req Request, starredIDs []int64) (PageResult, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PerPage
	if perPage < 1 {
		perPage = pagination.DefaultPerPage
	}
	result := PageResult{Page: page, PerPage: perPage}

	ids := starredIDs
	if len(ids) == 0 {
		ids = []int64{noMatchID}
	}
	starred, err := f.logs.FetchByIDs(ctx, ids)
	if err != nil {
		return PageResult{}, err
	}

	switch req.View {
	case ViewStarred:
		result.Items = paginate(starred, page, perPage)
		result.Total = len(starred)
	default:
		filter := store.Filter{Term: req.Search, Date: req.Date}
		switch req.View {
		case ViewSent:
			filter.Result = store.ClassSent
		case ViewFailed:
			filter.Result = store.ClassFailed
		}
		sort := store.Sort{Column: req.OrderBy, Direction: req.Order}
		items, total, err := f.logs.FetchPage(ctx, filter, sort, page, perPage)
		if err != nil {
			return PageResult{}, err
		}
		result.Items = items
		result.Total = total
	}

	if result.TotalAll, err = f.logs.CountAll(ctx); err != nil {
		return PageResult{}, err
	}
	if result.TotalSent, err = f.logs.CountByResult(ctx, store.ClassSent); err != nil {
		return PageResult{}, err
	}
	if result.TotalFailed, err = f.logs.CountByResult(ctx, store.ClassFailed); err != nil {
		return PageResult{}, err
	}
	result.TotalStarred = len(starred)
	result.TotalPages = pagination.TotalPages(result.Total, perPage)
	return result, nil
}

func paginate(records []store.LogRecord, page, perPage int) []store.LogRecord {
	start := (page - 1) * perPage
	if start >= len(records) {
		return []store.LogRecord{}
	}
	end := start + perPage
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}
