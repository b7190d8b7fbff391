// Package archive uploads snapshots of the arbitrage time series to object
// storage on a cron schedule.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

const (
	objectTimeLayout = "20060102T150405Z"

	// Snapshots at or above this size go through the multipart uploader.
	multipartThreshold int64 = 16 << 20
	multipartPartSize  int64 = 8 << 20

	lockKey = "archive"
	lockTTL = 10 * time.Minute
)

// Snapshotter copies the current time series file to w.
type Snapshotter interface {
	Snapshot(w io.Writer) (int64, error)
}

// HistoryLister returns stored observations since a point in time.
type HistoryLister interface {
	ListSince(ctx context.Context, since time.Time) ([]domain.Observation, error)
}

// Recorder observes archive outcomes.
type Recorder interface {
	ArchiveDone(err error)
}

// Result describes one archive run.
type Result struct {
	CSVKey     string
	CSVBytes   int64
	JSONLKey   string
	JSONLCount int
	Skipped    bool
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithHistory adds a JSONL export of observations stored since the previous
// successful run.
func WithHistory(h HistoryLister) Option { return func(a *Archiver) { a.history = h } }

// WithExportIndex seeds the history cursor from the newest JSONL export
// already in the bucket, so a restart does not export old rows again.
func WithExportIndex(l domain.BlobLister) Option { return func(a *Archiver) { a.index = l } }

// WithLock makes runs exclusive across processes sharing the lock manager.
func WithLock(l domain.LockManager) Option { return func(a *Archiver) { a.lock = l } }

// WithRecorder reports run outcomes to r.
func WithRecorder(r Recorder) Option { return func(a *Archiver) { a.recorder = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Archiver) { a.now = now } }

// Archiver uploads the CSV and, optionally, a JSONL export of the database
// history.
type Archiver struct {
	writer   domain.BlobWriter
	source   Snapshotter
	prefix   string
	history  HistoryLister
	index    domain.BlobLister
	lock     domain.LockManager
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	seeded  bool
	started time.Time
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(writer domain.BlobWriter, source Snapshotter, prefix string, logger *slog.Logger, opts ...Option) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		writer: writer,
		source: source,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archive")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.started = a.now()
	return a
}

// CSVKey is the object key for a CSV snapshot taken at ts.
func CSVKey(prefix string, ts time.Time) string {
	return path.Join(prefix, "arbitrage_data-"+ts.UTC().Format(objectTimeLayout)+".csv")
}

// JSONLKey is the object key for a history export taken at ts.
func JSONLKey(prefix string, ts time.Time) string {
	return path.Join(prefix, "observations", ts.UTC().Format(objectTimeLayout)+".jsonl")
}

// Run performs a single archive run.
func (a *Archiver) Run(ctx context.Context) (res Result, err error) {
	defer func() {
		if a.recorder != nil && !res.Skipped {
			a.recorder.ArchiveDone(err)
		}
	}()

	if a.lock != nil {
		unlock, lerr := a.lock.Acquire(ctx, lockKey, lockTTL)
		if errors.Is(lerr, domain.ErrLockHeld) {
			a.logger.Info("archive run skipped, another instance holds the lock")
			return Result{Skipped: true}, nil
		}
		if lerr != nil {
			return Result{}, fmt.Errorf("archive: acquire lock: %w", lerr)
		}
		defer unlock()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	started := a.now()

	var buf bytes.Buffer
	n, err := a.source.Snapshot(&buf)
	if err != nil {
		return Result{}, fmt.Errorf("archive: snapshot: %w", err)
	}

	res.CSVKey = CSVKey(a.prefix, started)
	res.CSVBytes = n
	if n >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, res.CSVKey, &buf, multipartPartSize)
	} else {
		err = a.writer.Put(ctx, res.CSVKey, &buf, domain.ContentTypeCSV)
	}
	if err != nil {
		return Result{}, fmt.Errorf("archive: upload csv: %w", err)
	}

	if a.history != nil {
		if !a.seeded {
			a.lastRun = a.seedCursor(ctx)
			a.seeded = true
		}
		obs, err := a.history.ListSince(ctx, a.lastRun)
		if err != nil {
			return res, fmt.Errorf("archive: list history: %w", err)
		}
		if len(obs) > 0 {
			data, err := marshalJSONL(obs)
			if err != nil {
				return res, fmt.Errorf("archive: marshal history: %w", err)
			}
			key := JSONLKey(a.prefix, started)
			if err := a.writer.Put(ctx, key, bytes.NewReader(data), domain.ContentTypeJSONL); err != nil {
				return res, fmt.Errorf("archive: upload history: %w", err)
			}
			res.JSONLKey = key
			res.JSONLCount = len(obs)
		}
	}

	a.lastRun = started
	a.logger.Info("archive run complete",
		slog.String("csv_key", res.CSVKey),
		slog.Int64("csv_bytes", res.CSVBytes),
		slog.Int("history_rows", res.JSONLCount),
		slog.Duration("took", a.now().Sub(started)),
	)
	return res, nil
}

// seedCursor returns the time of the newest export under the prefix. With
// no index, or when listing fails, it falls back to process start. An empty
// index means nothing was exported yet, so the whole history is due.
func (a *Archiver) seedCursor(ctx context.Context) time.Time {
	if a.index == nil {
		return a.started
	}
	dir := path.Join(a.prefix, "observations") + "/"
	keys, err := a.index.List(ctx, dir)
	if err != nil {
		a.logger.Warn("archive: listing exports failed, exporting from process start",
			slog.String("error", err.Error()),
		)
		return a.started
	}
	return latestExport(keys)
}

// latestExport parses the timestamps out of JSONL export keys and returns the
// newest, or the zero time when none parse.
func latestExport(keys []string) time.Time {
	var newest time.Time
	for _, key := range keys {
		name := path.Base(key)
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ts, err := time.Parse(objectTimeLayout, strings.TrimSuffix(name, ".jsonl"))
		if err != nil {
			continue
		}
		if ts.After(newest) {
			newest = ts
		}
	}
	return newest
}

// RunCron runs the archiver on a standard 5-field cron schedule until ctx is
// cancelled. Failed runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("archive: parse cron %q: %w", expr, err)
	}
	a.logger.Info("archive cron started", slog.String("cron", expr))

	for {
		now := a.now()
		next := sched.Next(now)
		timer := time.NewTimer(next.Sub(now))
		a.logger.Debug("archive waiting for next trigger", slog.Time("next_run", next))

		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archive cron stopped")
			return nil
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
