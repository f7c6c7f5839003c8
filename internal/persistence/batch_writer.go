package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// row is one pending journal insert.
type row struct {
	table string
	query string
	args  []any
}

// TableStats counts the rows of one journal table.
type TableStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// WriterStats is a snapshot of the write-behind queue.
type WriterStats struct {
	Pending   int                   `json:"pending"`
	Batches   uint64                `json:"batches"`
	Replays   uint64                `json:"replays"`
	Tables    map[string]TableStats `json:"tables"`
	LastFlush time.Time             `json:"last_flush"`
}

// FlushHook observes the outcome of each flush per table.
type FlushHook func(table string, written, failed int)

// BatchWriter queues journal inserts and commits them in one transaction
// when the queue fills or the flush interval elapses. A batch whose
// transaction fails is replayed row by row so a single bad row costs only
// itself.
type BatchWriter struct {
	db       *sql.DB
	maxRows  int
	interval time.Duration
	onFlush  FlushHook
	log      *zap.Logger

	mu      sync.Mutex
	pending []row
	stats   WriterStats

	flushMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	closeErr  error
}

// NewBatchWriter starts the background flush loop. maxRows and interval
// fall back to 50 rows and 500ms.
func NewBatchWriter(db *sql.DB, maxRows int, interval time.Duration, log *zap.Logger) *BatchWriter {
	if maxRows <= 0 {
		maxRows = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &BatchWriter{
		db:       db,
		maxRows:  maxRows,
		interval: interval,
		log:      log.Named("batch_writer"),
		pending:  make([]row, 0, maxRows),
		stats:    WriterStats{Tables: map[string]TableStats{}},
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// OnFlush installs fn. Call it before the first insert.
func (w *BatchWriter) OnFlush(fn FlushHook) { w.onFlush = fn }

// Insert queues query for table and flushes inline once the queue is full.
func (w *BatchWriter) Insert(table, query string, args ...any) {
	w.mu.Lock()
	w.pending = append(w.pending, row{table: table, query: query, args: args})
	full := len(w.pending) >= w.maxRows
	w.mu.Unlock()

	if full {
		if err := w.Flush(); err != nil {
			w.log.Warn("flush on full queue failed", zap.Error(err))
		}
	}
}

// Flush commits everything queued so far.
func (w *BatchWriter) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	rows := w.pending
	w.pending = make([]row, 0, w.maxRows)
	w.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := map[string]int{}
	replayed := false
	err := w.commit(ctx, rows)
	if err != nil {
		w.log.Warn("batch rolled back, replaying rows", zap.Int("rows", len(rows)), zap.Error(err))
		replayed = true
		err = nil
		for _, r := range rows {
			if _, rerr := w.db.ExecContext(ctx, r.query, r.args...); rerr != nil {
				failed[r.table]++
				err = errors.Join(err, rerr)
				w.log.Error("journal row dropped", zap.String("table", r.table), zap.Error(rerr))
			}
		}
	}
	w.account(rows, failed, replayed)
	return err
}

func (w *BatchWriter) commit(ctx context.Context, rows []row) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, r.query, r.args...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (w *BatchWriter) account(rows []row, failed map[string]int, replayed bool) {
	total := map[string]int{}
	for _, r := range rows {
		total[r.table]++
	}

	w.mu.Lock()
	w.stats.Batches++
	if replayed {
		w.stats.Replays++
	}
	w.stats.LastFlush = time.Now()
	for table, n := range total {
		ts := w.stats.Tables[table]
		ts.Written += uint64(n - failed[table])
		ts.Failed += uint64(failed[table])
		w.stats.Tables[table] = ts
	}
	w.mu.Unlock()

	if w.onFlush != nil {
		for table, n := range total {
			w.onFlush(table, n-failed[table], failed[table])
		}
	}
	w.log.Debug("journal flushed", zap.Int("rows", len(rows)), zap.Bool("replayed", replayed))
}

func (w *BatchWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				w.log.Warn("periodic flush failed", zap.Error(err))
			}
		case <-w.done:
			w.closeErr = w.Flush()
			return
		}
	}
}

// Stats returns a copy of the queue counters.
func (w *BatchWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.stats
	out.Pending = len(w.pending)
	out.Tables = make(map[string]TableStats, len(w.stats.Tables))
	for k, v := range w.stats.Tables {
		out.Tables[k] = v
	}
	return out
}

// Close stops the loop and returns the error of the final flush.
func (w *BatchWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return w.closeErr
}
