package notion

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/requester"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := NewStore(Config{APIKey: "secret", DatabaseID: "db1", BaseURL: srv.URL},
		WithHTTPClient(srv.Client()),
		WithRequesterOptions(requester.WithSleep(noSleep)))
	require.NoError(t, err)
	return s
}

func pageJSON(id int64, name string) string {
	return `{"id":"x","properties":{"GameID":{"number":` + strconv.FormatInt(id, 10) + `},"Name":{"title":[{"text":{"content":"` + name + `"}}]}}}`
}

func TestNewStore_InvalidCredentials(t *testing.T) {
	_, err := NewStore(Config{DatabaseID: "db"})
	assert.ErrorIs(t, err, syncerr.ErrInvalidCredentials)

	_, err = NewStore(Config{APIKey: "k", DatabaseID: "  "})
	assert.ErrorIs(t, err, syncerr.ErrInvalidCredentials)
}

func TestQueryPage_Pagination(t *testing.T) {
	var cursors []string
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/databases/db1/query", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, APIVersion, r.Header.Get("Notion-Version"))

		body, _ := io.ReadAll(r.Body)
		cursor := gjson.GetBytes(body, "start_cursor").String()
		cursors = append(cursors, cursor)
		switch cursor {
		case "":
			assert.JSONEq(t, `{}`, string(body))
			_, _ = w.Write([]byte(`{"results":[` + pageJSON(1, "a") + `],"has_more":true,"next_cursor":"c1"}`))
		case "c1":
			_, _ = w.Write([]byte(`{"results":[` + pageJSON(2, "b") + `],"has_more":true,"next_cursor":"c2"}`))
		default:
			_, _ = w.Write([]byte(`{"results":[` + pageJSON(3, "c") + `],"has_more":false,"next_cursor":null}`))
		}
	})

	var delays []time.Duration
	f := fetch.New(fetch.WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))
	records, err := f.FetchAll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []record.Record{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}, records)
	assert.Equal(t, []string{"", "c1", "c2"}, cursors)
	assert.Equal(t, []time.Duration{fetch.DefaultPageDelay, fetch.DefaultPageDelay}, delays)
}

func TestQueryPage_SkipsMalformedPages(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[` + pageJSON(1, "a") + `,{"id":"bad","properties":{}}],"has_more":false}`))
	})
	page, err := s.QueryPage(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []record.Record{{ID: 1, Name: "a"}}, page.Records)
	assert.False(t, page.HasMore)
}

func TestQueryPage_EmptyDatabase(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[],"has_more":false}`))
	})
	page, err := s.QueryPage(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func TestWriteRecord(t *testing.T) {
	var got string
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, s.WriteRecord(context.Background(), record.Record{ID: 620, Name: "Portal 2"}))
	assert.JSONEq(t, `{
		"parent": {"database_id": "db1"},
		"properties": {
			"GameID": {"number": 620},
			"Name": {"title": [{"text": {"content": "Portal 2"}}]}
		}
	}`, got)
}

func TestWriteRecord_RateLimitThenSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var delays []time.Duration
	s, err := NewStore(Config{APIKey: "k", DatabaseID: "db", BaseURL: srv.URL},
		WithHTTPClient(srv.Client()),
		WithRequesterOptions(requester.WithSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		})))
	require.NoError(t, err)

	require.NoError(t, s.WriteRecord(context.Background(), record.Record{ID: 1, Name: "a"}))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, delays)
}

func TestWriteRecord_ValidationError(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"object":"error","code":"validation_error"}`))
	})
	err := s.WriteRecord(context.Background(), record.Record{ID: 1, Name: "a"})
	assert.ErrorIs(t, err, syncerr.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "validation_error")
}
