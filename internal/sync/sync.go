// Package sync reconciles a Steam inventory against a catalog store and
// writes the missing games in throttled concurrent batches.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/steam"
)

// Status is the terminal state of a run
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusNothingToSync Status = "nothing_to_sync"
	StatusCancelled     Status = "cancelled"
	StatusDryRun        Status = "dry_run"
)

// Store is a catalog that can be listed page by page and written record by record
type Store interface {
	fetch.PageQuerier
	RecordWriter
}

// Inventory fetches the authoritative list of owned games
type Inventory interface {
	Fetch(ctx context.Context, creds steam.Credentials) ([]record.Record, error)
}

// Result summarizes a run
type Result struct {
	Status   Status
	Store    string
	Source   int // records in the inventory
	Existing int // records already in the store
	Delta    int // records missing from the store
	Written  int64
	Batches  int
	Failures []ItemFailure // records that exhausted their retries
}

// Service runs reconciliations of one inventory against one store
type Service struct {
	store     Store
	inventory Inventory
	cfg       Config
	fetcher   *fetch.Fetcher
	writer    *Writer
	logger    logrus.FieldLogger
}

// Option configures a Service
type Option func(*serviceOptions)

type serviceOptions struct {
	logger     logrus.FieldLogger
	fetchOpts  []fetch.Option
	writerOpts []WriterOption
}

// WithLogger sets the logger used by the service and its writer and fetcher
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithFetchOptions passes options through to the page fetcher
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(o *serviceOptions) { o.fetchOpts = append(o.fetchOpts, opts...) }
}

// WithWriterOptions passes options through to the batch writer
func WithWriterOptions(opts ...WriterOption) Option {
	return func(o *serviceOptions) { o.writerOpts = append(o.writerOpts, opts...) }
}

// NewService creates a synchronization service. The store carries its own
// credentials and validates them when it is constructed.
func NewService(store Store, inventory Inventory, cfg Config, opts ...Option) *Service {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrDiscard(o.logger)

	fetchOpts := append([]fetch.Option{fetch.WithPageDelay(cfg.PageDelay), fetch.WithLogger(logger)}, o.fetchOpts...)
	writerOpts := append([]WriterOption{WithWriterLogger(logger)}, o.writerOpts...)

	return &Service{
		store:     store,
		inventory: inventory,
		cfg:       cfg,
		fetcher:   fetch.New(fetchOpts...),
		writer:    NewWriter(store, writerOpts...),
		logger:    logger.WithField("store", store.Name()),
	}
}

// Run performs one reconciliation. Existing records and the inventory are
// fetched concurrently; if either fails nothing is written. A cancelled ctx
// yields StatusCancelled rather than an error, unless some records had
// already failed, in which case their *WriteError is returned as well.
func (s *Service) Run(ctx context.Context, creds steam.Credentials) (*Result, error) {
	res := &Result{Store: s.store.Name()}
	s.logger.Info("Starting synchronization")

	var existing, source []record.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if existing, err = s.fetcher.FetchAll(gctx, s.store); err != nil {
			return fmt.Errorf("failed to fetch existing records from %s: %w", s.store.Name(), err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if source, err = s.inventory.Fetch(gctx, creds); err != nil {
			return fmt.Errorf("failed to fetch source inventory: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			res.Status = StatusCancelled
			s.logger.Info("Synchronization cancelled while fetching")
			return res, nil
		}
		return nil, err
	}

	delta := record.Diff(source, record.NewSet(existing))
	res.Source = len(source)
	res.Existing = len(existing)
	res.Delta = len(delta)

	s.logger.WithFields(logrus.Fields{
		"source":   res.Source,
		"existing": res.Existing,
		"delta":    res.Delta,
	}).Info("Reconciled inventory")

	if len(delta) == 0 {
		res.Status = StatusNothingToSync
		s.logger.Info("Store is up to date, nothing to sync")
		return res, nil
	}

	res.Batches = len(record.Partition(delta, s.cfg.BatchSize))
	if s.cfg.DryRun {
		for _, r := range delta {
			s.logger.WithFields(logrus.Fields{"app_id": r.ID, "name": r.Name}).Info("Would write record")
		}
		res.Status = StatusDryRun
		return res, nil
	}

	progress, err := s.writer.WriteDelta(ctx, delta, s.cfg.BatchSize, s.cfg.Throttle)
	res.Written = progress.Written()
	var werr *WriteError
	if errors.As(err, &werr) {
		res.Failures = werr.Failures
	}
	if errors.Is(err, ErrCancelled) {
		res.Status = StatusCancelled
		s.logger.WithFields(logrus.Fields{
			"written": res.Written,
			"failed":  len(res.Failures),
		}).Info("Synchronization cancelled")
		if werr == nil {
			return res, nil
		}
		// cancellation does not hide records that already failed
		return res, fmt.Errorf("failed to write delta to %s: %w", s.store.Name(), werr)
	}
	if err != nil {
		return res, fmt.Errorf("failed to write delta to %s: %w", s.store.Name(), err)
	}

	res.Status = StatusCompleted
	s.logger.WithField("written", res.Written).Info("Synchronization completed successfully")
	return res, nil
}
