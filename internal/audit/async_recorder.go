package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/internal/metrics"
)

// DefaultQueueSize is the number of events buffered ahead of the recorder.
const DefaultQueueSize = 256

var (
	// ErrQueueFull is returned when an event had to be dropped.
	ErrQueueFull = errors.New("activity queue full")
	ErrClosed    = errors.New("activity recorder closed")
)

// recordTimeout bounds a single write to the wrapped recorder.
const recordTimeout = 5 * time.Second

// AsyncRecorder hands events to a single background worker so callers never
// wait on the wrapped recorder. Events that do not fit the queue are dropped.
type AsyncRecorder struct {
	next    toolgate.ActivityRecorder
	metrics *metrics.Metrics
	queue   chan toolgate.ActivityEvent
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncRecorder starts the worker. Call Close to drain and stop it.
func NewAsyncRecorder(next toolgate.ActivityRecorder, size int, m *metrics.Metrics) *AsyncRecorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	r := &AsyncRecorder{
		next:    next,
		metrics: m,
		queue:   make(chan toolgate.ActivityEvent, size),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *AsyncRecorder) run() {
	defer close(r.done)

	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.next.RecordActivity(ctx, event); err != nil {
			r.metrics.RecordFailed()
			log.Warn().Err(err).Str("action", event.Action).Str("target", event.Target).
				Msg("failed to record activity")
		}
		cancel()
	}
}

// RecordActivity implements toolgate.ActivityRecorder. It never blocks.
func (r *AsyncRecorder) RecordActivity(ctx context.Context, event toolgate.ActivityEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	select {
	case r.queue <- event:
		return nil
	default:
		r.metrics.Dropped()
		log.Ctx(ctx).Warn().Str("target", event.Target).Msg("activity queue full, event dropped")
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ toolgate.ActivityRecorder = (*AsyncRecorder)(nil)
