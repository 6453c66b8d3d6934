package worker

import (
	"context"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
	"github.com/referlut/referlut-api/internal/logger"
)

const baseBackoff = time.Minute

// Queue is the persistent work queue the worker drains.
type Queue interface {
	DuePendingEntries(ctx context.Context, limit int, now time.Time) ([]domain.AccountQueueEntry, error)
	MarkEntryProcessed(ctx context.Context, accountID string, at time.Time) error
	RecordEntryFailure(ctx context.Context, accountID string, nextAttemptAt time.Time) error
}

// Importer runs the transaction import for one account.
type Importer interface {
	IngestTransactions(ctx context.Context, accountID string) (int, error)
}

// Worker polls the account queue on a fixed interval and drives the
// transaction importer for each due entry. Successful entries move to
// processed; failed entries stay pending with their next attempt deferred
// by capped exponential backoff, so a permanently broken account cannot
// busy-loop the poll cycle. Logging goes through the context logger.
type Worker struct {
	queue      Queue
	importer   Importer
	interval   time.Duration
	batchSize  int
	maxBackoff time.Duration
	now        func() time.Time
}

// New wires a worker.
func New(queue Queue, importer Importer, interval time.Duration, batchSize int, maxBackoff time.Duration) *Worker {
	return &Worker{
		queue:      queue,
		importer:   importer,
		interval:   interval,
		batchSize:  batchSize,
		maxBackoff: maxBackoff,
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled. Cancellation is checked between batches
// so shutdown never interrupts an entry mid-import.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", w.interval).
		Int("batch_size", w.batchSize).
		Msg("Queue worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Queue worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains one batch of due entries. A failure on one entry defers
// that entry only and never blocks the rest of the batch.
func (w *Worker) RunOnce(ctx context.Context) {
	log := logger.FromContext(ctx)
	entries, err := w.queue.DuePendingEntries(ctx, w.batchSize, w.now())
	if err != nil {
		log.Error().Err(err).Msg("Queue poll failed")
		return
	}
	if len(entries) == 0 {
		return
	}
	log.Debug().Int("entries", len(entries)).Msg("Processing queue batch")

	for _, entry := range entries {
		w.process(ctx, entry)
	}
}

func (w *Worker) process(ctx context.Context, entry domain.AccountQueueEntry) {
	log := logger.FromContext(ctx)
	inserted, err := w.importer.IngestTransactions(ctx, entry.AccountID)
	if err != nil {
		next := w.now().Add(w.backoff(entry.Attempts))
		log.Error().Err(err).
			Str("account_id", entry.AccountID).
			Int("attempts", entry.Attempts+1).
			Time("next_attempt_at", next).
			Msg("Transaction import failed, entry stays pending")
		if err := w.queue.RecordEntryFailure(ctx, entry.AccountID, next); err != nil {
			log.Error().Err(err).Str("account_id", entry.AccountID).Msg("Recording queue failure failed")
		}
		return
	}

	if err := w.queue.MarkEntryProcessed(ctx, entry.AccountID, w.now()); err != nil {
		log.Error().Err(err).Str("account_id", entry.AccountID).Msg("Marking queue entry processed failed")
		return
	}
	log.Info().
		Str("account_id", entry.AccountID).
		Int("inserted", inserted).
		Msg("Queue entry processed")
}

// backoff doubles per attempt starting from one minute, capped at the
// configured maximum.
func (w *Worker) backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= w.maxBackoff {
			return w.maxBackoff
		}
	}
	if d > w.maxBackoff {
		return w.maxBackoff
	}
	return d
}
