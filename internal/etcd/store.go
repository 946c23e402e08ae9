package etcd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

// DefaultPageSize is the number of keys read per range request
const DefaultPageSize = 500

// Store keeps one key per game under {prefix}/{appid}, valued with the name
type Store struct {
	kv       clientv3.KV
	prefix   string
	pageSize int64
	query    *retry.Config
	write    *retry.Config
	logger   logrus.FieldLogger
}

// Option configures a Store
type Option func(*Store)

// WithPageSize sets the range request limit
func WithPageSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithRetry overrides the query and write retry policies
func WithRetry(query, write *retry.Config) Option {
	return func(s *Store) {
		s.query = query
		s.write = write
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store on kv under prefix
func NewStore(kv clientv3.KV, prefix string, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		prefix:   strings.TrimRight(prefix, "/") + "/",
		pageSize: DefaultPageSize,
		query:    retry.StoreDefaults(),
		write:    retry.ItemWriteDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDiscard(s.logger).WithField("store", "etcd")
	return s
}

// Name identifies the store in logs and results
func (s *Store) Name() string { return "etcd" }

// Key returns the key holding app id
func (s *Store) Key(id int64) string {
	return s.prefix + strconv.FormatInt(id, 10)
}

// QueryPage returns the keys from cursor on in key order. The cursor is the
// first key of the page; an empty cursor starts at the prefix.
func (s *Store) QueryPage(ctx context.Context, cursor string) (fetch.Page, error) {
	start := s.prefix
	if cursor != "" {
		if !strings.HasPrefix(cursor, s.prefix) {
			return fetch.Page{}, fmt.Errorf("cursor %q is outside prefix %q", cursor, s.prefix)
		}
		start = cursor
	}

	var resp *clientv3.GetResponse
	err := RetryEtcdOperation(ctx, s.logger, s.query, func() error {
		var err error
		resp, err = s.kv.Get(ctx, start,
			clientv3.WithRange(clientv3.GetPrefixRangeEnd(s.prefix)),
			clientv3.WithLimit(s.pageSize),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
		return classify("etcd range", err)
	}, "etcd range")
	if err != nil {
		return fetch.Page{}, err
	}

	page := fetch.Page{}
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		id, err := strconv.ParseInt(strings.TrimPrefix(key, s.prefix), 10, 64)
		if err != nil {
			s.logger.WithField("key", key).Warn("Skipping key without app id")
			continue
		}
		page.Records = append(page.Records, record.Record{ID: id, Name: string(kv.Value)})
	}
	if resp.More && len(resp.Kvs) > 0 {
		page.HasMore = true
		// smallest key greater than the last one returned
		page.NextCursor = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
	}
	return page, nil
}

// WriteRecord puts the key for r
func (s *Store) WriteRecord(ctx context.Context, r record.Record) error {
	key := s.Key(r.ID)
	return RetryEtcdOperation(ctx, s.logger, s.write, func() error {
		resp, err := s.kv.Put(ctx, key, r.Name)
		if err != nil {
			return classify("etcd put", err)
		}
		s.logger.WithFields(logrus.Fields{
			"key":      key,
			"revision": resp.Header.GetRevision(),
		}).Debug("Put key to etcd")
		return nil
	}, "etcd put")
}

// classify tags err with a syncerr kind
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, rpctypes.ErrPermissionDenied),
		errors.Is(err, rpctypes.ErrAuthFailed),
		errors.Is(err, rpctypes.ErrInvalidAuthToken),
		errors.Is(err, rpctypes.ErrUserEmpty):
		return syncerr.New(syncerr.KindAuthFailure, op, err)
	case errors.Is(err, rpctypes.ErrKeyNotFound), errors.Is(err, rpctypes.ErrRequestTooLarge):
		return syncerr.New(syncerr.KindUnexpectedStatus, op, err)
	}
	return syncerr.New(syncerr.KindTransport, op, err)
}
