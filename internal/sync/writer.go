package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/record"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
)

// ErrCancelled is returned by WriteDelta when the context was cancelled
// before every record could be attempted
var ErrCancelled = errors.New("sync cancelled")

// RecordWriter writes one record to a store, retrying on its own
type RecordWriter interface {
	Name() string
	WriteRecord(ctx context.Context, r record.Record) error
}

// serializedStore is implemented by stores whose client must not be used concurrently
type serializedStore interface {
	Serialized() bool
}

// BatchReport is passed to the ProgressFunc after every batch
type BatchReport struct {
	Index   int   // batch number, 0-based in delta order
	Items   int   // records in the batch
	Failed  int   // records of the batch that exhausted their retries
	Written int64 // records written so far in the run
	Total   int   // size of the delta
}

// ProgressFunc receives batch reports. It may be called from several goroutines.
type ProgressFunc func(BatchReport)

// ItemFailure is a record that could not be written
type ItemFailure struct {
	Batch  int
	Record record.Record
	Err    error
}

// WriteError lists every record that exhausted its retries
type WriteError struct {
	Failures []ItemFailure
}

func (e *WriteError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "failed to write %d record(s)", len(e.Failures))
	for i, f := range e.Failures {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %v", f.Record, f.Err)
	}
	return sb.String()
}

// Unwrap returns the cause of every failure
func (e *WriteError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Writer writes a delta to a store in throttled concurrent batches
type Writer struct {
	store      RecordWriter
	sleep      retry.SleepFunc
	onProgress ProgressFunc
	logger     logrus.FieldLogger
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithProgress registers a batch progress callback
func WithProgress(f ProgressFunc) WriterOption {
	return func(w *Writer) { w.onProgress = f }
}

// WithThrottleSleep replaces the inter-request pause, mainly for tests
func WithThrottleSleep(sleep retry.SleepFunc) WriterOption {
	return func(w *Writer) { w.sleep = sleep }
}

// WithWriterLogger sets the logger
func WithWriterLogger(l logrus.FieldLogger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// NewWriter creates a Writer for store
func NewWriter(store RecordWriter, opts ...WriterOption) *Writer {
	w := &Writer{store: store, sleep: retry.Sleep}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = log.OrDiscard(w.logger).WithField("store", store.Name())
	return w
}

// run holds the state shared by the batch workers of one WriteDelta call
type run struct {
	throttle ThrottleConfig
	total    int
	progress *Progress
	skipped  atomic.Int64

	mu       gosync.Mutex
	failures []ItemFailure
}

func (r *run) fail(f ItemFailure) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

// WriteDelta partitions delta into batches of batchSize and writes them.
// At most MaxConcurrentBatches x MaxConcurrentRequests writes are in flight.
// Records that exhaust their retries are reported together in a *WriteError
// once every batch has finished; finished batches are never rolled back.
// When ctx is cancelled no further write starts, writes already in flight
// complete, and ErrCancelled is returned, joined with the *WriteError when
// some records had already failed.
func (w *Writer) WriteDelta(ctx context.Context, delta record.Delta, batchSize int, throttle ThrottleConfig) (*Progress, error) {
	throttle = throttle.withDefaults()
	if s, ok := w.store.(serializedStore); ok && s.Serialized() {
		throttle.MaxConcurrentBatches = 1
		throttle.MaxConcurrentRequests = 1
	}

	batches := record.Partition(delta, batchSize)
	r := &run{throttle: throttle, total: len(delta), progress: &Progress{}}

	w.logger.WithFields(logrus.Fields{
		"records":     len(delta),
		"batches":     len(batches),
		"batch_size":  batchSize,
		"max_batches": throttle.MaxConcurrentBatches,
		"max_items":   throttle.MaxConcurrentRequests,
	}).Info("Writing delta")

	pool := newBoundedPool(throttle.MaxConcurrentBatches)
	for i, batch := range batches {
		if err := pool.Go(ctx, func() { w.writeBatch(ctx, r, i, batch) }); err != nil {
			for _, rest := range batches[i:] {
				r.skipped.Add(int64(len(rest)))
			}
			break
		}
	}
	pool.Wait()

	var werr error
	if len(r.failures) > 0 {
		werr = &WriteError{Failures: r.failures}
	}
	if n := r.skipped.Load(); n > 0 {
		w.logger.WithFields(logrus.Fields{
			"written": r.progress.Written(),
			"skipped": n,
			"failed":  len(r.failures),
		}).Warn("Write cancelled")
		return r.progress, errors.Join(ErrCancelled, werr)
	}
	return r.progress, werr
}

func (w *Writer) writeBatch(ctx context.Context, r *run, index int, batch []record.Record) {
	var written, failed atomic.Int64
	// writes that already started finish even if ctx is cancelled
	writeCtx := context.WithoutCancel(ctx)

	pool := newBoundedPool(r.throttle.MaxConcurrentRequests)
	for i, rec := range batch {
		err := pool.Go(ctx, func() {
			if err := w.store.WriteRecord(writeCtx, rec); err != nil {
				failed.Add(1)
				r.fail(ItemFailure{Batch: index, Record: rec, Err: err})
				w.logger.WithError(err).WithFields(logrus.Fields{
					"batch":  index,
					"app_id": rec.ID,
				}).Error("Failed to write record")
			} else {
				written.Add(1)
			}
			_ = w.sleep(ctx, r.throttle.InterRequestDelay)
		})
		if err != nil {
			r.skipped.Add(int64(len(batch) - i))
			break
		}
	}
	pool.Wait()

	report := BatchReport{
		Index:   index,
		Items:   len(batch),
		Failed:  int(failed.Load()),
		Written: r.progress.Add(written.Load()),
		Total:   r.total,
	}
	w.logger.WithFields(logrus.Fields{
		"batch":   report.Index,
		"items":   report.Items,
		"failed":  report.Failed,
		"written": report.Written,
		"total":   report.Total,
	}).Info("Batch completed")
	if w.onProgress != nil {
		w.onProgress(report)
	}
}
