package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"github.com/vglenn/cardroom/pkg/rng"
)

// Batching defaults. A table's records flush when its buffer reaches
// FlushSize or when FlushInterval elapses, whichever comes first.
const (
	DefaultFlushSize     = 64
	DefaultFlushInterval = 30 * time.Second
	writerQueueSize      = 1024
)

// Writer batches records in front of a Sink. Alerts skip the batcher and
// land immediately. Writer implements rng.Recorder so the dealer can
// stream shuffle proofs straight into the trail.
type Writer struct {
	sink          Sink
	log           slog.Logger
	flushSize     int
	flushInterval time.Duration

	in    chan Record
	flush chan chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	mu  sync.Mutex
	seq map[string]uint64
}

// NewWriter starts the background batcher over sink.
func NewWriter(sink Sink, log slog.Logger) *Writer {
	w := &Writer{
		sink:          sink,
		log:           log,
		flushSize:     DefaultFlushSize,
		flushInterval: DefaultFlushInterval,
		in:            make(chan Record, writerQueueSize),
		flush:         make(chan chan struct{}),
		done:          make(chan struct{}),
		seq:           make(map[string]uint64),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Append queues one record. The record's Seq is stamped from the table's
// counter when zero; IDs and timestamps are filled in likewise.
func (w *Writer) Append(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Seq == 0 {
		w.mu.Lock()
		w.seq[rec.TableID]++
		rec.Seq = w.seq[rec.TableID]
		w.mu.Unlock()
	}
	select {
	case w.in <- rec:
	case <-w.done:
	}
}

// Alert writes the alert through immediately.
func (w *Writer) Alert(ctx context.Context, alert Alert) {
	if err := w.sink.AppendAlert(ctx, alert); err != nil {
		w.log.Errorf("append alert for table %s: %v", alert.TableID, err)
	}
}

// RecordShuffle implements rng.Recorder.
func (w *Writer) RecordShuffle(_ context.Context, rec rng.ShuffleRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		w.log.Errorf("marshal shuffle record: %v", err)
		return
	}
	w.Append(Record{
		TableID: rec.TableID,
		HandID:  rec.HandID,
		Type:    TypeShuffle,
		Payload: payload,
	})
}

// RecordAlert implements rng.Recorder.
func (w *Writer) RecordAlert(ctx context.Context, alert rng.HealthAlert) {
	w.Alert(ctx, Alert{
		TableID:   alert.TableID,
		HandID:    alert.HandID,
		Level:     alert.Level,
		Check:     alert.Check,
		Detail:    alert.Detail,
		Timestamp: alert.Timestamp,
	})
}

// Flush forces all buffered records out and waits for them to land.
func (w *Writer) Flush() {
	ack := make(chan struct{})
	select {
	case w.flush <- ack:
		<-ack
	case <-w.done:
	}
}

// Close flushes and stops the batcher.
func (w *Writer) Close() error {
	close(w.done)
	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	buffers := make(map[string][]Record)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flushTable := func(tableID string) {
		recs := buffers[tableID]
		if len(recs) == 0 {
			return
		}
		delete(buffers, tableID)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := w.sink.AppendBatch(ctx, tableID, recs); err != nil {
			w.log.Errorf("append batch for table %s: %v, %d records dropped", tableID, err, len(recs))
		}
		cancel()
	}
	flushAll := func() {
		for tableID := range buffers {
			flushTable(tableID)
		}
	}

	for {
		select {
		case rec := <-w.in:
			buffers[rec.TableID] = append(buffers[rec.TableID], rec)
			if len(buffers[rec.TableID]) >= w.flushSize {
				flushTable(rec.TableID)
			}
		case <-ticker.C:
			flushAll()
		case ack := <-w.flush:
			for {
				select {
				case rec := <-w.in:
					buffers[rec.TableID] = append(buffers[rec.TableID], rec)
					continue
				default:
				}
				break
			}
			flushAll()
			close(ack)
		case <-w.done:
			for {
				select {
				case rec := <-w.in:
					buffers[rec.TableID] = append(buffers[rec.TableID], rec)
					continue
				default:
				}
				break
			}
			flushAll()
			return
		}
	}
}
