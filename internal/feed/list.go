package feed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticker-storefront/internal/api"
	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
	"ticker-storefront/internal/stream"
	"ticker-storefront/pkg/utils"
)

// DefaultLimit is the page size of the ticker list.
const DefaultLimit = 10

// Fetcher loads one page of the ticker list.
type Fetcher interface {
	ListTickers(ctx context.Context, q api.TickerQuery) (*models.TickerPage, error)
}

// View is a consistent snapshot of the list.
type View struct {
	Skip   int
	Limit  int
	Total  int
	Page   int
	Pages  int
	Search string
	// Rows are the window records matching Search.
	Rows []models.QuoteRecord
	// Err is the message of the last failed load, empty after a success.
	Err string
}

// List is the paged, filterable ticker list. Only the first page receives
// pushed updates.
type List struct {
	fetcher Fetcher
	logger  zerolog.Logger

	mu        sync.Mutex
	skip      int
	limit     int
	total     int
	search    string
	startDate time.Time
	endDate   time.Time
	window    []models.QuoteRecord
	lastErr   error
	// gen is bumped whenever the query changes so late loads are dropped.
	gen uint64

	views *stream.Broadcaster[View]
}

// NewList creates an empty list with the given page size.
func NewList(fetcher Fetcher, limit int, logger zerolog.Logger) *List {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &List{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "feed").Logger(),
		limit:   limit,
		views:   stream.NewBroadcaster[View](0),
	}
}

// Query returns the request for the current page and filters.
func (l *List) Query() api.TickerQuery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queryLocked()
}

func (l *List) queryLocked() api.TickerQuery {
	q := api.TickerQuery{Skip: l.skip, Limit: l.limit}
	if !l.startDate.IsZero() {
		q.StartDate = utils.FormatDate(l.startDate)
	}
	if !l.endDate.IsZero() {
		q.EndDate = utils.FormatDate(l.endDate)
	}
	return q
}

// Load fetches the current page. On a network failure the window is emptied
// and the error is kept for display; the error is also returned.
func (l *List) Load(ctx context.Context) error {
	l.mu.Lock()
	q := l.queryLocked()
	gen := l.gen
	l.mu.Unlock()

	page, err := l.fetcher.ListTickers(ctx, q)

	l.mu.Lock()
	if gen != l.gen {
		// The query moved on while this load was in flight.
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		l.window = nil
		l.lastErr = err
		l.notifyLocked()
		l.mu.Unlock()
		l.logger.Warn().Err(err).Int("skip", q.Skip).Msg("Loading tickers failed")
		return err
	}
	l.window = append([]models.QuoteRecord(nil), page.Tickers...)
	l.total = page.Total
	l.lastErr = nil
	l.notifyLocked()
	l.mu.Unlock()

	l.logger.Debug().Int("skip", q.Skip).Int("rows", len(page.Tickers)).Int("total", page.Total).Msg("Tickers loaded")
	return nil
}

// Next moves to the following page if there is one and reloads.
func (l *List) Next(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.skip+l.limit >= l.total {
		l.mu.Unlock()
		return false, nil
	}
	l.skip += l.limit
	l.gen++
	l.mu.Unlock()
	return true, l.Load(ctx)
}

// Prev moves to the preceding page if there is one and reloads.
func (l *List) Prev(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.skip-l.limit < 0 {
		l.mu.Unlock()
		return false, nil
	}
	l.skip -= l.limit
	l.gen++
	l.mu.Unlock()
	return true, l.Load(ctx)
}

// SetSkip jumps to an offset. It does not reload.
func (l *List) SetSkip(skip int) {
	if skip < 0 {
		skip = 0
	}
	l.mu.Lock()
	l.skip = skip
	l.gen++
	l.mu.Unlock()
}

// SetSearch sets the case-insensitive ticker filter applied to the window.
func (l *List) SetSearch(q string) {
	l.mu.Lock()
	l.search = q
	l.notifyLocked()
	l.mu.Unlock()
}

// SetStartDate sets the lower date filter. It is rejected when after the
// end date. It does not reload.
func (l *List) SetStartDate(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !t.IsZero() && !l.endDate.IsZero() && t.After(l.endDate) {
		return apperrors.NewValidationError("start_date", utils.FormatDate(t), "start date cannot be after end date")
	}
	l.startDate = t
	l.gen++
	return nil
}

// SetEndDate sets the upper date filter. It is rejected when before the
// start date. It does not reload.
func (l *List) SetEndDate(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !t.IsZero() && !l.startDate.IsZero() && t.Before(l.startDate) {
		return apperrors.NewValidationError("end_date", utils.FormatDate(t), "end date cannot be before start date")
	}
	l.endDate = t
	l.gen++
	return nil
}

// ResetDates clears both date filters.
func (l *List) ResetDates() {
	l.mu.Lock()
	l.startDate = time.Time{}
	l.endDate = time.Time{}
	l.gen++
	l.mu.Unlock()
}

// Apply merges pushed updates into the window. Updates are discarded unless
// the first page is displayed; it reports whether they were applied.
func (l *List) Apply(updates ...models.QuoteUpdate) bool {
	l.mu.Lock()
	if l.skip != 0 {
		l.mu.Unlock()
		return false
	}
	for _, u := range updates {
		l.window = Merge(l.window, u, l.limit)
	}
	l.notifyLocked()
	l.mu.Unlock()
	return true
}

// Window returns a copy of the loaded records, unfiltered.
func (l *List) Window() []models.QuoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.QuoteRecord(nil), l.window...)
}

// Visible returns the window records matching the search filter.
func (l *List) Visible() []models.QuoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visibleLocked()
}

func (l *List) visibleLocked() []models.QuoteRecord {
	needle := strings.ToLower(l.search)
	out := make([]models.QuoteRecord, 0, len(l.window))
	for _, rec := range l.window {
		if strings.Contains(strings.ToLower(rec.Ticker), needle) {
			out = append(out, rec)
		}
	}
	return out
}

// Skip returns the current offset.
func (l *List) Skip() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skip
}

// Total returns the row count reported by the last successful load.
func (l *List) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Page returns the 1-based current page number.
func (l *List) Page() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return pageNumber(l.skip, l.limit)
}

// Pages returns the page count.
func (l *List) Pages() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return pageCount(l.total, l.limit)
}

// Err returns the last load error.
func (l *List) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// View returns a snapshot of the list.
func (l *List) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked()
}

func (l *List) viewLocked() View {
	v := View{
		Skip:   l.skip,
		Limit:  l.limit,
		Total:  l.total,
		Page:   pageNumber(l.skip, l.limit),
		Pages:  pageCount(l.total, l.limit),
		Search: l.search,
		Rows:   l.visibleLocked(),
	}
	if l.lastErr != nil {
		v.Err = l.lastErr.Error()
	}
	return v
}

// Subscribe returns a channel of views published after every change.
func (l *List) Subscribe() (<-chan View, func()) {
	return l.views.Subscribe()
}

// Close releases subscribers.
func (l *List) Close() {
	l.views.Close()
}

// notifyLocked publishes the current view. Publishing under mu keeps views
// in mutation order. Caller holds mu.
func (l *List) notifyLocked() {
	l.views.Publish(l.viewLocked())
}

func pageNumber(skip, limit int) int {
	return (skip+limit-1)/limit + 1
}

func pageCount(total, limit int) int {
	return (total + limit - 1) / limit
}
