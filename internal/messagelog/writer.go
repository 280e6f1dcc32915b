package messagelog

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Writer batches log entries and flushes them to the repository with COPY. Relay fan-out enqueues entries without
// blocking on the database; a full queue drops the entry rather than stalling delivery.
type Writer struct {
	repo       Repository
	log        zerolog.Logger
	batchSize  int
	flushEvery time.Duration

	entries chan Entry
	done    chan struct{}
}

// NewWriter creates a batched log writer. Call Run in a goroutine and Close on shutdown.
func NewWriter(repo Repository, logger zerolog.Logger, queueSize, batchSize int, flushEvery time.Duration) *Writer {
	return &Writer{
		repo:       repo,
		log:        logger,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		entries:    make(chan Entry, queueSize),
		done:       make(chan struct{}),
	}
}

// Enqueue queues an entry for the next flush. It never blocks: if the queue is full the entry is dropped and counted
// in the log.
func (w *Writer) Enqueue(e Entry) {
	select {
	case w.entries <- e:
	default:
		w.log.Warn().Int64("room_id", e.RoomID).Msg("Message log queue full, dropping entry")
	}
}

// Run consumes the queue until Close is called, flushing when the batch fills or the flush interval elapses.
func (w *Writer) Run() {
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.batchSize)

	for {
		select {
		case e, ok := <-w.entries:
			if !ok {
				w.flush(batch)
				close(w.done)
				return
			}
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// Close stops intake and waits for the remaining queue to flush, up to the given drain timeout.
func (w *Writer) Close(drain time.Duration) {
	close(w.entries)
	select {
	case <-w.done:
	case <-time.After(drain):
		w.log.Warn().Msg("Message log writer drain timed out")
	}
}

func (w *Writer) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.repo.InsertBatch(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("entries", len(batch)).Msg("Failed to flush message log batch")
		return
	}
	w.log.Debug().Int("entries", len(batch)).Msg("Flushed message log batch")
}
