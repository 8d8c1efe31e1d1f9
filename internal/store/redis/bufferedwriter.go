package redis

import (
	"context"
	"log"
	"sync"

	"chartcore/internal/model"
)

// BufferedWriter wraps a Redis Writer with a circuit breaker. While the
// circuit is open, closed candles are buffered locally and flushed when
// the circuit closes again. Forming snapshots and live indicator values
// are NOT buffered: a stale preview is worthless by the time Redis
// recovers.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []model.ClosedCandle
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
// maxBufferSize <= 0 defaults to 10000.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.ClosedCandle, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Flush on circuit close, chaining any existing callback
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteCandle writes a closed candle through the circuit breaker. Failed or
// rejected writes are buffered locally and replayed once the circuit closes.
func (bw *BufferedWriter) WriteCandle(cc model.ClosedCandle) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeCandle(bw.ctx, cc)
	})
	if err != nil {
		bw.bufferWrite(cc)
		if err == ErrCircuitOpen {
			return nil // buffered, not lost
		}
		return err
	}
	return nil
}

func (bw *BufferedWriter) bufferWrite(cc model.ClosedCandle) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full, drop oldest
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, cc)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered writes through the underlying writer. The
// INSERT-OR-REPLACE style keys make replay idempotent.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]model.ClosedCandle, 0, 256)
	bw.mu.Unlock()

	for i, cc := range toFlush {
		if err := bw.writer.writeCandle(bw.ctx, cc); err != nil {
			// Redis went away again mid-flush: re-buffer the remainder.
			bw.mu.Lock()
			bw.buffer = append(toFlush[i:], bw.buffer...)
			bw.mu.Unlock()
			log.Printf("[buffered-writer] flush aborted at %d/%d: %v", i, len(toFlush), err)
			return
		}
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped Redis writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
