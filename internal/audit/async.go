package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
)

var (
	// ErrBufferFull is returned when a record is dropped because the queue is full.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrClosed is returned by Log after Close.
	ErrClosed = errors.New("audit sink closed")
)

const defaultWriteTimeout = 5 * time.Second

// AsyncSink queues records and writes them to the next sink from a single
// background goroutine. Log never blocks.
type AsyncSink struct {
	next         Sink
	queue        chan models.SearchQuery
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts a worker draining up to buffer queued records into next.
func NewAsync(next Sink, buffer int, writeTimeout time.Duration) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	a := &AsyncSink{
		next:         next,
		queue:        make(chan models.SearchQuery, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go a.run()
	return a
}

// Log enqueues q. It returns ErrBufferFull when the record had to be dropped.
func (a *AsyncSink) Log(_ context.Context, q models.SearchQuery) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- q:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting records and waits until the queue is drained or ctx ends.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for q := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		if err := a.next.Log(ctx, q); err != nil {
			logger.Warn("Audit write for query %s failed: %v", q.ID, err)
		}
		cancel()
	}
}
