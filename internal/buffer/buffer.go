// Package buffer implements the buffered writer of spec §4.D: one
// long-lived task per instrument type, batching rows by (source, pair_id)
// and flushing to the store on a timer.
package buffer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pragma-node/oracle-node/internal/store"
)

// dedupKey is the intra-tick de-dup key: a row overwrites any prior row for
// the same (source, pair_id) before the next flush, per spec §4.D.
type dedupKey struct {
	source string
	pairID string
}

// Writer owns one channel and one buffer for a single instrument type.
type Writer struct {
	dataType store.DataType
	sink     store.Writer
	log      *logrus.Entry

	in            chan store.Row
	flushInterval time.Duration
}

// New builds a Writer for dataType. The returned Writer is inert until
// Run is started in its own goroutine.
func New(dataType store.DataType, sink store.Writer, flushInterval time.Duration, log *logrus.Logger, channelCapacity int) *Writer {
	return &Writer{
		dataType:      dataType,
		sink:          sink,
		log:           log.WithField("component", "buffer").WithField("data_type", string(dataType)),
		in:            make(chan store.Row, channelCapacity),
		flushInterval: flushInterval,
	}
}

// Enqueue hands a row to the writer's inbound channel (spec §4.C step 7).
// It blocks if the channel is full, providing natural backpressure onto
// the ingestion path, as the teacher's channel-based handoff pattern does.
func (w *Writer) Enqueue(ctx context.Context, row store.Row) error {
	select {
	case w.in <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the inbound channel into a per-(source,pair_id) buffer and
// flushes it on a fixed timer until ctx is cancelled or the channel is
// closed, at which point it flushes once more and returns.
func (w *Writer) Run(ctx context.Context) {
	buf := make(map[dedupKey]store.Row)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case row, ok := <-w.in:
			if !ok {
				w.flush(ctx, buf)
				return
			}
			buf[dedupKey{source: row.Source, pairID: row.PairID}] = row

		case <-ticker.C:
			w.flush(ctx, buf)
			buf = make(map[dedupKey]store.Row)

		case <-ctx.Done():
			w.flush(context.Background(), buf)
			return
		}
	}
}

// flush drains buf into a single upsert call. A failed flush is logged and
// drops that batch — at-most-once for the tick, per spec §4.D — it never
// halts the loop.
func (w *Writer) flush(ctx context.Context, buf map[dedupKey]store.Row) {
	if len(buf) == 0 {
		return
	}
	rows := make([]store.Row, 0, len(buf))
	for _, r := range buf {
		rows = append(rows, r)
	}
	if err := w.sink.UpsertRows(ctx, w.dataType, rows); err != nil {
		w.log.WithError(err).WithField("rows", len(rows)).Error("flush failed, batch dropped")
	}
}
