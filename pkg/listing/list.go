// Package listing holds the fetch, filter and paginate state of a list page.
package listing

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lkarlslund/proxydesk/pkg/logutil"
)

const (
	DefaultPageSize = 10
	DefaultDebounce = 300 * time.Millisecond
)

// Fetcher loads the rows for the given filters.
type Fetcher[T any] func(ctx context.Context, f Filters) ([]T, error)

type Options[T any] struct {
	PageSize int
	Debounce time.Duration
	// Match filters fetched rows locally. Leave nil when the backend does
	// the filtering.
	Match func(item T, f Filters) bool
	// Context is used for fetches started by the debouncer.
	Context  context.Context
	Logger   *log.Logger
	OnChange func()
}

// Page is one rendered page of a list.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	Total      int  `json:"total"`
	Loading    bool `json:"loading"`
}

// List keeps every fetched row; paging happens locally.
type List[T any] struct {
	mu       sync.Mutex
	items    []T
	loading  bool
	loaded   bool
	filters  Filters
	page     int
	gen      uint64
	fetch    Fetcher[T]
	opts     Options[T]
	debounce *Debouncer
	logger   *log.Logger
}

func New[T any](fetch Fetcher[T], opts Options[T]) *List[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logutil.Discard()
	}
	return &List[T]{
		fetch:    fetch,
		opts:     opts,
		page:     1,
		debounce: NewDebouncer(opts.Debounce),
		logger:   logger,
	}
}

// Refresh fetches with the current filters. A failed fetch is logged and
// leaves the previous rows in place. A result that arrives after a newer
// fetch was started is dropped.
func (l *List[T]) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.loading = true
	filters := l.filters.clone()
	l.mu.Unlock()
	l.changed()

	items, err := l.fetch(ctx, filters)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return nil
	}
	l.loading = false
	if err != nil {
		l.mu.Unlock()
		l.logger.Warn("list fetch failed", "err", err)
		l.changed()
		return err
	}
	l.items = items
	l.loaded = true
	l.clampPageLocked()
	l.mu.Unlock()
	l.changed()
	return nil
}

// EnsureLoaded fetches once if nothing was fetched yet.
func (l *List[T]) EnsureLoaded(ctx context.Context) error {
	l.mu.Lock()
	loaded := l.loaded
	l.mu.Unlock()
	if loaded {
		return nil
	}
	return l.Refresh(ctx)
}

// SetText updates the search text. The fetch is debounced.
func (l *List[T]) SetText(text string) {
	l.mu.Lock()
	if l.filters.Text == text {
		l.mu.Unlock()
		return
	}
	l.filters.Text = text
	l.page = 1
	l.mu.Unlock()
	l.debounce.Trigger(func() {
		_ = l.Refresh(l.opts.Context)
	})
}

// SetGroups updates the group filter and refetches.
func (l *List[T]) SetGroups(ctx context.Context, ids []int64) error {
	l.mu.Lock()
	l.filters.GroupIDs = append([]int64(nil), ids...)
	l.page = 1
	l.mu.Unlock()
	return l.Refresh(ctx)
}

// SetFilter sets a page specific filter and refetches. An empty value
// clears it.
func (l *List[T]) SetFilter(ctx context.Context, key, value string) error {
	l.mu.Lock()
	if value == "" {
		delete(l.filters.Extra, key)
	} else {
		if l.filters.Extra == nil {
			l.filters.Extra = map[string]string{}
		}
		l.filters.Extra[key] = value
	}
	l.page = 1
	l.mu.Unlock()
	return l.Refresh(ctx)
}

// Apply replaces all filters at once, skipping the debounce, and refetches.
func (l *List[T]) Apply(ctx context.Context, f Filters) error {
	l.debounce.Cancel()
	l.mu.Lock()
	l.filters = f.clone()
	l.page = 1
	l.mu.Unlock()
	return l.Refresh(ctx)
}

func (l *List[T]) Filters() Filters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filters.clone()
}

// SetPage moves to page n, clamped to the available pages.
func (l *List[T]) SetPage(n int) {
	l.mu.Lock()
	l.page = n
	l.clampPageLocked()
	l.mu.Unlock()
	l.changed()
}

func (l *List[T]) visibleLocked() []T {
	if l.opts.Match == nil {
		return l.items
	}
	out := make([]T, 0, len(l.items))
	for _, it := range l.items {
		if l.opts.Match(it, l.filters) {
			out = append(out, it)
		}
	}
	return out
}

func totalPages(n, size int) int {
	if n == 0 {
		return 1
	}
	return (n + size - 1) / size
}

func (l *List[T]) clampPageLocked() {
	last := totalPages(len(l.visibleLocked()), l.opts.PageSize)
	if l.page > last {
		l.page = last
	}
	if l.page < 1 {
		l.page = 1
	}
}

// Current returns the rows of the current page.
func (l *List[T]) Current() Page[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	visible := l.visibleLocked()
	size := l.opts.PageSize
	start := (l.page - 1) * size
	end := start + size
	if start > len(visible) {
		start = len(visible)
	}
	if end > len(visible) {
		end = len(visible)
	}
	return Page[T]{
		Items:      append([]T(nil), visible[start:end]...),
		Page:       l.page,
		PageSize:   size,
		TotalPages: totalPages(len(visible), size),
		Total:      len(visible),
		Loading:    l.loading,
	}
}

// TotalPages counts pages over the filtered rows.
func (l *List[T]) TotalPages() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return totalPages(len(l.visibleLocked()), l.opts.PageSize)
}

// All returns every fetched row, ignoring local filters and paging.
func (l *List[T]) All() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]T(nil), l.items...)
}

func (l *List[T]) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Patch applies mutate to every row matching match and reports whether any
// row changed.
func (l *List[T]) Patch(match func(T) bool, mutate func(*T)) bool {
	l.mu.Lock()
	found := false
	for i := range l.items {
		if match(l.items[i]) {
			mutate(&l.items[i])
			found = true
		}
	}
	l.mu.Unlock()
	if found {
		l.changed()
	}
	return found
}

// Insert puts a newly created row at the top.
func (l *List[T]) Insert(item T) {
	l.mu.Lock()
	l.items = append([]T{item}, l.items...)
	l.mu.Unlock()
	l.changed()
}

// Remove drops every row matching match and returns how many went.
func (l *List[T]) Remove(match func(T) bool) int {
	l.mu.Lock()
	var kept []T
	removed := 0
	for _, it := range l.items {
		if match(it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	l.items = kept
	l.clampPageLocked()
	l.mu.Unlock()
	if removed > 0 {
		l.changed()
	}
	return removed
}

// Close drops a pending debounced fetch.
func (l *List[T]) Close() {
	l.debounce.Cancel()
}

func (l *List[T]) changed() {
	if l.opts.OnChange != nil {
		l.opts.OnChange()
	}
}
