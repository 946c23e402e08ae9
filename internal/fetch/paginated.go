// Package fetch drains cursor-paginated store listings into memory.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

// DefaultPageDelay keeps page requests under three per second
const DefaultPageDelay = 334 * time.Millisecond

// Page is one page of a listing
type Page struct {
	Records    []record.Record
	HasMore    bool
	NextCursor string
}

// PageQuerier returns the page starting at cursor. The first page has an empty cursor.
type PageQuerier interface {
	QueryPage(ctx context.Context, cursor string) (Page, error)
}

// PageQuerierFunc adapts a function to PageQuerier
type PageQuerierFunc func(ctx context.Context, cursor string) (Page, error)

// QueryPage implements PageQuerier
func (f PageQuerierFunc) QueryPage(ctx context.Context, cursor string) (Page, error) {
	return f(ctx, cursor)
}

// Fetcher reads every page of a listing sequentially
type Fetcher struct {
	pageDelay time.Duration
	sleep     retry.SleepFunc
	logger    logrus.FieldLogger
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithPageDelay sets the pause between page requests
func WithPageDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.pageDelay = d }
}

// WithSleep replaces the pause implementation, mainly for tests
func WithSleep(sleep retry.SleepFunc) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// New creates a Fetcher
func New(opts ...Option) *Fetcher {
	f := &Fetcher{pageDelay: DefaultPageDelay, sleep: retry.Sleep}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = log.OrDiscard(f.logger)
	return f
}

// FetchAll returns the records of every page in page order
func (f *Fetcher) FetchAll(ctx context.Context, q PageQuerier) ([]record.Record, error) {
	var all []record.Record
	seen := map[string]bool{}
	cursor := ""

	for pageNo := 1; ; pageNo++ {
		page, err := q.QueryPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", pageNo, err)
		}
		all = append(all, page.Records...)

		f.logger.WithFields(logrus.Fields{
			"page":    pageNo,
			"records": len(page.Records),
			"total":   len(all),
		}).Debug("Fetched page")

		if !page.HasMore || page.NextCursor == "" {
			return all, nil
		}
		if seen[page.NextCursor] {
			return nil, &syncerr.Error{
				Kind: syncerr.KindUnexpectedStatus,
				Op:   "paginate",
				Err:  fmt.Errorf("cursor %q returned twice", page.NextCursor),
			}
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor

		if err := f.sleep(ctx, f.pageDelay); err != nil {
			return nil, err
		}
	}
}
