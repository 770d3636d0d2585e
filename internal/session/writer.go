package session

import (
	"sync"

	"github.com/kybaq/har-tool/internal/capture"
	applog "github.com/kybaq/har-tool/internal/log"
	"github.com/kybaq/har-tool/internal/metrics"
)

const defaultWriterBuffer = 1024

// Writer decouples the capture hot path from disk. Records are handed
// off through a bounded channel and appended by a single background
// goroutine, preserving enqueue order. Enqueue never blocks: when the
// buffer is full the record is dropped and counted, and the exchange
// on the wire is unaffected.
type Writer struct {
	store *Store
	ch    chan capture.LogRecord
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the append worker. A buffer of zero or less falls
// back to defaultWriterBuffer.
func NewWriter(store *Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = defaultWriterBuffer
	}
	writer := &Writer{
		store: store,
		ch:    make(chan capture.LogRecord, buffer),
		done:  make(chan struct{}),
	}
	go writer.loop()
	return writer
}

// Enqueue hands a record to the append worker without blocking.
func (writer *Writer) Enqueue(rec capture.LogRecord) {
	writer.mu.RLock()
	defer writer.mu.RUnlock()
	if writer.closed {
		metrics.SessionAppend("dropped")
		return
	}
	select {
	case writer.ch <- rec:
	default:
		metrics.RecordDropped("append_queue_full")
		metrics.SessionAppend("dropped")
	}
}

func (writer *Writer) loop() {
	defer close(writer.done)
	for rec := range writer.ch {
		if err := writer.store.Append(rec); err != nil {
			metrics.SessionAppend("error")
			applog.LogSessionError("append", err)
			continue
		}
		metrics.SessionAppend("ok")
	}
}

// Close drains buffered records and waits for the worker to finish.
// Records enqueued after Close are dropped.
func (writer *Writer) Close() {
	writer.mu.Lock()
	if writer.closed {
		writer.mu.Unlock()
		<-writer.done
		return
	}
	writer.closed = true
	close(writer.ch)
	writer.mu.Unlock()
	<-writer.done
}
