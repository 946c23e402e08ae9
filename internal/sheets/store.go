// Package sheets stores game records as rows of a Google Sheets spreadsheet.
// Column A holds the app id and column B the name; row 1 is a header.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/requester"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

const (
	// DefaultBaseURL is the public Sheets API endpoint
	DefaultBaseURL = "https://sheets.googleapis.com"
	// DefaultSheet is the tab used when none is configured
	DefaultSheet = "Sheet1"
	// DefaultPageSize is the number of rows read per request
	DefaultPageSize = 500

	firstDataRow = 2
	opGet        = "sheets get values"
	opMeta       = "sheets get properties"
	opAppend     = "sheets append"
)

// Config holds the Sheets store settings
type Config struct {
	AccessToken   string // OAuth access token obtained by the caller
	SpreadsheetID string
	Sheet         string
	PageSize      int
	BaseURL       string
}

// Store reads and appends rows of one sheet. It is not safe for concurrent
// writes because appends race for the next free row.
type Store struct {
	cfg    Config
	query  *requester.Requester
	write  *requester.Requester
	logger logrus.FieldLogger
}

// Option configures a Store
type Option func(*storeOptions)

type storeOptions struct {
	base    *http.Client
	reqOpts []requester.Option
	logger  logrus.FieldLogger
}

// WithHTTPClient sets the client the OAuth transport wraps
func WithHTTPClient(c *http.Client) Option {
	return func(o *storeOptions) { o.base = c }
}

// WithRequesterOptions passes options through to both requesters
func WithRequesterOptions(opts ...requester.Option) Option {
	return func(o *storeOptions) { o.reqOpts = append(o.reqOpts, opts...) }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// NewStore validates cfg and creates a Store
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.SpreadsheetID = strings.TrimSpace(cfg.SpreadsheetID)
	if cfg.AccessToken == "" {
		return nil, syncerr.InvalidCredentials("sheets", "Google access token")
	}
	if cfg.SpreadsheetID == "" {
		return nil, syncerr.InvalidCredentials("sheets", "spreadsheet id")
	}
	if cfg.Sheet == "" {
		cfg.Sheet = DefaultSheet
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()
	if o.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.base)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.AccessToken,
		TokenType:   "Bearer",
	}))

	logger := log.OrDiscard(o.logger).WithField("store", "sheets")
	reqOpts := append([]requester.Option{requester.WithLogger(logger)}, o.reqOpts...)
	return &Store{
		cfg:    cfg,
		query:  requester.New(client, retry.StoreDefaults(), reqOpts...),
		write:  requester.New(client, retry.ItemWriteDefaults(), reqOpts...),
		logger: logger,
	}, nil
}

// Name identifies the store in logs and results
func (s *Store) Name() string { return "sheets" }

// Serialized reports that writes must not run concurrently
func (s *Store) Serialized() bool { return true }

func (s *Store) valuesURL(a1 string) string {
	return fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		s.cfg.BaseURL, url.PathEscape(s.cfg.SpreadsheetID), url.PathEscape(a1))
}

// rowCount returns the number of grid rows of the configured sheet
func (s *Store) rowCount(ctx context.Context) (int, error) {
	resp, err := s.query.Execute(ctx, requester.Request{
		Op:     opMeta,
		Method: http.MethodGet,
		URL: fmt.Sprintf("%s/v4/spreadsheets/%s?fields=%s", s.cfg.BaseURL, url.PathEscape(s.cfg.SpreadsheetID),
			url.QueryEscape("sheets.properties(title,gridProperties.rowCount)")),
	})
	if err != nil {
		return 0, err
	}
	if !gjson.ValidBytes(resp.Body) {
		return 0, &syncerr.Error{Kind: syncerr.KindUnexpectedStatus, Op: opMeta, Status: resp.StatusCode, Err: errors.New("response is not valid JSON")}
	}
	rows := -1
	gjson.GetBytes(resp.Body, "sheets").ForEach(func(_, sh gjson.Result) bool {
		if sh.Get("properties.title").String() != s.cfg.Sheet {
			return true
		}
		rows = int(sh.Get("properties.gridProperties.rowCount").Int())
		return false
	})
	if rows < 0 {
		return 0, &syncerr.Error{Kind: syncerr.KindUnexpectedStatus, Op: opMeta, Status: resp.StatusCode, Err: fmt.Errorf("sheet %q not found", s.cfg.Sheet)}
	}
	return rows, nil
}

// parseCursor splits a "{next row}:{last row}" cursor
func parseCursor(cursor string) (next, last int, err error) {
	a, b, ok := strings.Cut(cursor, ":")
	if ok {
		next, err = strconv.Atoi(a)
		if err == nil {
			last, err = strconv.Atoi(b)
		}
	}
	if !ok || err != nil || next < firstDataRow || next > last {
		return 0, 0, fmt.Errorf("invalid row cursor %q", cursor)
	}
	return next, last, nil
}

// QueryPage reads one window of rows. The first call looks up the sheet's
// row count; paging then runs to that row regardless of blank rows, because
// the values API leaves trailing empty rows out of a window.
func (s *Store) QueryPage(ctx context.Context, cursor string) (fetch.Page, error) {
	start, last := firstDataRow, 0
	var err error
	if cursor == "" {
		if last, err = s.rowCount(ctx); err != nil {
			return fetch.Page{}, err
		}
	} else if start, last, err = parseCursor(cursor); err != nil {
		return fetch.Page{}, err
	}
	if start > last {
		return fetch.Page{}, nil
	}
	end := min(start+s.cfg.PageSize-1, last)
	a1 := fmt.Sprintf("%s!A%d:B%d", s.cfg.Sheet, start, end)

	resp, err := s.query.Execute(ctx, requester.Request{
		Op:     opGet,
		Method: http.MethodGet,
		URL:    s.valuesURL(a1) + "?majorDimension=ROWS",
	})
	if err != nil {
		return fetch.Page{}, err
	}
	if !gjson.ValidBytes(resp.Body) {
		return fetch.Page{}, &syncerr.Error{Kind: syncerr.KindUnexpectedStatus, Op: opGet, Status: resp.StatusCode, Err: errors.New("response is not valid JSON")}
	}

	page := fetch.Page{}
	for i, row := range gjson.GetBytes(resp.Body, "values").Array() {
		rec, ok := parseRow(row)
		if !ok {
			if len(row.Array()) > 0 {
				s.logger.WithFields(logrus.Fields{"row": start + i, "value": row.Raw}).Warn("Skipping row")
			}
			continue
		}
		page.Records = append(page.Records, rec)
	}
	if end < last {
		page.HasMore = true
		page.NextCursor = fmt.Sprintf("%d:%d", end+1, last)
	}
	return page, nil
}

func parseRow(row gjson.Result) (record.Record, bool) {
	cells := row.Array()
	if len(cells) == 0 {
		return record.Record{}, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(cells[0].String()), 10, 64)
	if err != nil {
		return record.Record{}, false
	}
	rec := record.Record{ID: id}
	if len(cells) > 1 {
		rec.Name = cells[1].String()
	}
	return rec, true
}

// WriteRecord appends one row for r
func (s *Store) WriteRecord(ctx context.Context, r record.Record) error {
	body, err := json.Marshal(map[string][][]any{"values": {{r.ID, r.Name}}})
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}
	q := url.Values{}
	q.Set("valueInputOption", "RAW")
	q.Set("insertDataOption", "INSERT_ROWS")

	_, err = s.write.Execute(ctx, requester.Request{
		Op:     opAppend,
		Method: http.MethodPost,
		URL:    s.valuesURL(s.cfg.Sheet+"!A:B") + ":append?" + q.Encode(),
		Body:   body,
	})
	return err
}
