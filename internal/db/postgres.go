// Package db stores game records in a PostgreSQL table.
package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/migrations"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

// DefaultPageSize is the number of rows read per keyset page
const DefaultPageSize = 1000

// PgxIface is common interface for every pgx class
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// PgxPoolIface is interface representing pgx pool
type PgxPoolIface interface {
	PgxIface
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
	Config() *pgxpool.Config
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

type ConnConfigCallback = func(*pgxpool.Config) error

// New create a new pool
func New(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	connConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		// a malformed DSN is not retried
		return nil, syncerr.New(syncerr.KindInvalidCredentials, "postgres connect", fmt.Errorf("failed to parse database URL: %w", err))
	}
	return NewWithConfig(ctx, connConfig, callbacks...)
}

// NewWithConfig creates a new pool with a given config
func NewWithConfig(ctx context.Context, connConfig *pgxpool.Config, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	logger := logrus.WithField("component", "postgresql")
	if connConfig.ConnConfig.ConnectTimeout == 0 {
		connConfig.ConnConfig.ConnectTimeout = time.Second * 5
	}
	connConfig.MaxConnIdleTime = 15 * time.Second
	connConfig.ConnConfig.RuntimeParams["application_name"] = "gamesync"
	connConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		logger.WithField("severity", n.Severity).WithField("notice", n.Message).Info("Notice received")
	}
	for _, f := range callbacks {
		if err := f(connConfig); err != nil {
			return nil, err
		}
	}
	return pgxpool.NewWithConfig(ctx, connConfig)
}

// ApplyMigrations checks and applies database migrations if needed
func ApplyMigrations(ctx context.Context, conn *pgx.Conn) error {
	needsMigration, err := migrations.NeedsUpgrade(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if needsMigration {
		logrus.Info("Applying database migrations...")
		if err = migrations.Apply(ctx, conn); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logrus.Info("Database migrations completed successfully")
	} else {
		logrus.Info("Database schema is up to date")
	}
	return nil
}

// Migrate acquires a connection from pool and applies migrations on it
func Migrate(ctx context.Context, pool PgxPoolIface) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()
	return ApplyMigrations(ctx, conn.Conn())
}

// Store keeps records in the games table
type Store struct {
	pool     PgxIface
	pageSize int
	query    *retry.Config
	write    *retry.Config
	logger   logrus.FieldLogger
}

// Option configures a Store
type Option func(*Store)

// WithPageSize sets the keyset page size
func WithPageSize(n int) Option {
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

// NewStore creates a Store on pool
func NewStore(pool PgxIface, opts ...Option) *Store {
	s := &Store{
		pool:     pool,
		pageSize: DefaultPageSize,
		query:    retry.StoreDefaults(),
		write:    retry.ItemWriteDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDiscard(s.logger).WithField("store", "postgres")
	return s
}

// Name identifies the store in logs and results
func (s *Store) Name() string { return "postgres" }

// QueryPage returns the rows following the app id in cursor, ordered by app id
func (s *Store) QueryPage(ctx context.Context, cursor string) (fetch.Page, error) {
	var after int64
	if cursor != "" {
		var err error
		if after, err = strconv.ParseInt(cursor, 10, 64); err != nil {
			return fetch.Page{}, fmt.Errorf("invalid keyset cursor %q: %w", cursor, err)
		}
	}

	var records []record.Record
	err := retry.WithOperation(ctx, s.logger, s.query, func() error {
		records = records[:0]
		rows, err := s.pool.Query(ctx,
			`SELECT app_id, name FROM games WHERE app_id > $1 ORDER BY app_id LIMIT $2`,
			after, s.pageSize+1)
		if err != nil {
			return classify("postgres query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r record.Record
			if err := rows.Scan(&r.ID, &r.Name); err != nil {
				return fmt.Errorf("failed to scan game: %w", err)
			}
			records = append(records, r)
		}
		if err := rows.Err(); err != nil {
			return classify("postgres query", err)
		}
		return nil
	}, "postgres query")
	if err != nil {
		return fetch.Page{}, err
	}

	page := fetch.Page{Records: records}
	if len(records) > s.pageSize {
		page.Records = records[:s.pageSize]
		page.HasMore = true
		page.NextCursor = strconv.FormatInt(page.Records[s.pageSize-1].ID, 10)
	}
	return page, nil
}

// WriteRecord inserts r unless its app id is already present
func (s *Store) WriteRecord(ctx context.Context, r record.Record) error {
	return retry.WithOperation(ctx, s.logger, s.write, func() error {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO games (app_id, name) VALUES ($1, $2) ON CONFLICT (app_id) DO NOTHING`,
			r.ID, r.Name)
		if err != nil {
			return classify("postgres insert", err)
		}
		if tag.RowsAffected() == 0 {
			s.logger.WithField("app_id", r.ID).Debug("Game already present")
		}
		return nil
	}, "postgres insert")
}

// classify tags err with a syncerr kind. Server errors outside the
// connection, resource and rollback classes are not retried.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08", "40", "53", "57":
			return syncerr.New(syncerr.KindTransport, op, err)
		}
		return syncerr.New(syncerr.KindUnexpectedStatus, op, err)
	}
	return syncerr.New(syncerr.KindTransport, op, err)
}
