package sync

import (
	"context"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/steam"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

// memStore is an in-memory Store paging by position
type memStore struct {
	mu       gosync.Mutex
	records  map[int64]record.Record
	pageSize int
	queries  int
	writes   int
	queryErr error
	failIDs  map[int64]error
	delay    time.Duration

	inFlight    int
	maxInFlight int
	serialized  bool
	writeCtxs   []context.Context
}

func newMemStore(existing ...record.Record) *memStore {
	s := &memStore{records: map[int64]record.Record{}, pageSize: 2, failIDs: map[int64]error{}}
	for _, r := range existing {
		s.records[r.ID] = r
	}
	return s
}

func (s *memStore) Name() string { return "memory" }

func (s *memStore) Serialized() bool { return s.serialized }

func (s *memStore) QueryPage(_ context.Context, cursor string) (fetch.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.queryErr != nil {
		return fetch.Page{}, s.queryErr
	}
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := min(start+s.pageSize, len(ids))
	page := fetch.Page{}
	for _, id := range ids[start:end] {
		page.Records = append(page.Records, s.records[id])
	}
	if end < len(ids) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *memStore) WriteRecord(ctx context.Context, r record.Record) error {
	s.mu.Lock()
	s.writes++
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	s.writeCtxs = append(s.writeCtxs, ctx)
	failErr := s.failIDs[r.ID]
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if failErr != nil {
		return failErr
	}
	s.records[r.ID] = r
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// staticInventory returns a fixed game list
type staticInventory struct {
	games []record.Record
	err   error
	calls int
}

func (i *staticInventory) Fetch(_ context.Context, creds steam.Credentials) ([]record.Record, error) {
	i.calls++
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return i.games, i.err
}

func games(ids ...int64) []record.Record {
	out := make([]record.Record, len(ids))
	for i, id := range ids {
		out[i] = record.Record{ID: id, Name: "game " + strconv.FormatInt(id, 10)}
	}
	return out
}

func rangeGames(n int) []record.Record {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return games(ids...)
}

var errRateLimited = syncerr.New(syncerr.KindRateLimitExceeded, "memory write", nil)

func noThrottle(ctx context.Context, _ time.Duration) error { return ctx.Err() }
