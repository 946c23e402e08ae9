// Package notion stores game records as pages of a Notion database.
package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/requester"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

const (
	// DefaultBaseURL is the public Notion API endpoint
	DefaultBaseURL = "https://api.notion.com"
	// APIVersion is sent as the Notion-Version header
	APIVersion = "2022-06-28"

	DefaultIDProperty   = "GameID"
	DefaultNameProperty = "Name"

	opQuery  = "notion query"
	opCreate = "notion create page"
)

// Config holds the Notion store settings
type Config struct {
	APIKey       string
	DatabaseID   string
	IDProperty   string // number property holding the app id
	NameProperty string // title property holding the game name
	BaseURL      string
}

// Store reads and creates pages in one database
type Store struct {
	cfg    Config
	query  *requester.Requester
	write  *requester.Requester
	logger logrus.FieldLogger
}

// Option configures a Store
type Option func(*storeOptions)

type storeOptions struct {
	doer    requester.Doer
	reqOpts []requester.Option
	logger  logrus.FieldLogger
}

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(d requester.Doer) Option {
	return func(o *storeOptions) { o.doer = d }
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
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.DatabaseID = strings.TrimSpace(cfg.DatabaseID)
	if cfg.APIKey == "" {
		return nil, syncerr.InvalidCredentials("notion", "Notion API key")
	}
	if cfg.DatabaseID == "" {
		return nil, syncerr.InvalidCredentials("notion", "Notion database id")
	}
	if cfg.IDProperty == "" {
		cfg.IDProperty = DefaultIDProperty
	}
	if cfg.NameProperty == "" {
		cfg.NameProperty = DefaultNameProperty
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrDiscard(o.logger).WithField("store", "notion")
	reqOpts := append([]requester.Option{requester.WithLogger(logger)}, o.reqOpts...)

	return &Store{
		cfg:    cfg,
		query:  requester.New(o.doer, retry.StoreDefaults(), reqOpts...),
		write:  requester.New(o.doer, retry.ItemWriteDefaults(), reqOpts...),
		logger: logger,
	}, nil
}

// Name identifies the store in logs and results
func (s *Store) Name() string { return "notion" }

func (s *Store) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.cfg.APIKey)
	h.Set("Notion-Version", APIVersion)
	return h
}

// QueryPage returns one page of the database. Pages that cannot be parsed
// into a record are skipped with a warning.
func (s *Store) QueryPage(ctx context.Context, cursor string) (fetch.Page, error) {
	payload := map[string]any{}
	if cursor != "" {
		payload["start_cursor"] = cursor
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fetch.Page{}, fmt.Errorf("failed to encode query: %w", err)
	}

	resp, err := s.query.Execute(ctx, requester.Request{
		Op:     opQuery,
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/v1/databases/%s/query", s.cfg.BaseURL, s.cfg.DatabaseID),
		Header: s.header(),
		Body:   body,
	})
	if err != nil {
		return fetch.Page{}, err
	}
	if !gjson.ValidBytes(resp.Body) {
		return fetch.Page{}, &syncerr.Error{Kind: syncerr.KindUnexpectedStatus, Op: opQuery, Status: resp.StatusCode, Err: errors.New("response is not valid JSON")}
	}

	result := gjson.ParseBytes(resp.Body)
	page := fetch.Page{HasMore: result.Get("has_more").Bool()}
	if next := result.Get("next_cursor"); next.Type == gjson.String {
		page.NextCursor = next.String()
	}
	result.Get("results").ForEach(func(_, p gjson.Result) bool {
		rec, err := ParsePage(p, s.cfg.IDProperty, s.cfg.NameProperty)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping page")
			return true
		}
		page.Records = append(page.Records, rec)
		return true
	})
	return page, nil
}

type textContent struct {
	Content string `json:"content"`
}

type titleItem struct {
	Text textContent `json:"text"`
}

// pageBody builds the create-page payload for r
func (s *Store) pageBody(r record.Record) ([]byte, error) {
	return json.Marshal(map[string]any{
		"parent": map[string]string{"database_id": s.cfg.DatabaseID},
		"properties": map[string]any{
			s.cfg.IDProperty:   map[string]int64{"number": r.ID},
			s.cfg.NameProperty: map[string][]titleItem{"title": {{Text: textContent{Content: r.Name}}}},
		},
	})
}

// WriteRecord creates one page for r
func (s *Store) WriteRecord(ctx context.Context, r record.Record) error {
	body, err := s.pageBody(r)
	if err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}
	_, err = s.write.Execute(ctx, requester.Request{
		Op:     opCreate,
		Method: http.MethodPost,
		URL:    s.cfg.BaseURL + "/v1/pages",
		Header: s.header(),
		Body:   body,
	})
	return err
}
