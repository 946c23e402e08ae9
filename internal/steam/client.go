// Package steam fetches a user's owned games from the Steam Web API.
package steam

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/requester"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

// DefaultBaseURL is the public Steam Web API endpoint
const DefaultBaseURL = "https://api.steampowered.com"

const opFetch = "steam owned games"

// Credentials identify the Steam account to read
type Credentials struct {
	APIKey  string
	SteamID string
}

// Validate trims both fields and reports the first empty one
func (c *Credentials) Validate() error {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.SteamID = strings.TrimSpace(c.SteamID)
	if c.APIKey == "" {
		return syncerr.InvalidCredentials(opFetch, "Steam API key")
	}
	if c.SteamID == "" {
		return syncerr.InvalidCredentials(opFetch, "Steam ID")
	}
	return nil
}

// Client reads the owned-games inventory
type Client struct {
	baseURL string
	req     *requester.Requester
	logger  logrus.FieldLogger
}

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
	doer    requester.Doer
	policy  *retry.Config
	reqOpts []requester.Option
	logger  logrus.FieldLogger
}

// WithBaseURL points the client at another API root
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(d requester.Doer) Option {
	return func(o *clientOptions) { o.doer = d }
}

// WithRetry overrides the inventory retry budget
func WithRetry(policy *retry.Config) Option {
	return func(o *clientOptions) { o.policy = policy }
}

// WithRequesterOptions passes options through to the requester
func WithRequesterOptions(opts ...requester.Option) Option {
	return func(o *clientOptions) { o.reqOpts = append(o.reqOpts, opts...) }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient creates a Client using retry.InventoryDefaults unless overridden
func NewClient(opts ...Option) *Client {
	o := clientOptions{baseURL: DefaultBaseURL, policy: retry.InventoryDefaults()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrDiscard(o.logger).WithField("component", "steam")
	reqOpts := append([]requester.Option{requester.WithLogger(logger)}, o.reqOpts...)
	return &Client{
		baseURL: o.baseURL,
		req:     requester.New(o.doer, o.policy, reqOpts...),
		logger:  logger,
	}
}

// Fetch returns every game owned by the account. A response whose game list
// is null or missing fails with EmptyInventory; an empty list is valid.
func (c *Client) Fetch(ctx context.Context, creds Credentials) ([]record.Record, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("key", creds.APIKey)
	q.Set("steamid", creds.SteamID)
	q.Set("format", "json")
	q.Set("include_appinfo", "1")

	resp, err := c.req.Execute(ctx, requester.Request{
		Op:     opFetch,
		Method: http.MethodGet,
		URL:    c.baseURL + "/IPlayerService/GetOwnedGames/v0001/?" + q.Encode(),
	})
	if err != nil {
		return nil, err
	}

	games, err := c.parseGames(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.WithField("games", len(games)).Info("Fetched owned games")
	return games, nil
}

// parseGames reads response.games. Entries without a positive integral
// appid are skipped with a warning.
func (c *Client) parseGames(body []byte) ([]record.Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, &syncerr.Error{Kind: syncerr.KindUnexpectedStatus, Op: opFetch, Status: http.StatusOK, Err: errors.New("response is not valid JSON")}
	}
	list := gjson.GetBytes(body, "response.games")
	if !list.IsArray() {
		return nil, &syncerr.Error{
			Kind: syncerr.KindEmptyInventory,
			Op:   opFetch,
			Err:  errors.New("no game list returned, check the Steam ID and profile privacy"),
		}
	}
	games := make([]record.Record, 0, len(list.Array()))
	list.ForEach(func(_, g gjson.Result) bool {
		id := g.Get("appid")
		if id.Type != gjson.Number || id.Num != float64(id.Int()) || id.Int() <= 0 {
			c.logger.WithField("value", g.Raw).Warn("Skipping game without app id")
			return true
		}
		games = append(games, record.Record{ID: id.Int(), Name: g.Get("name").String()})
		return true
	})
	return games, nil
}
