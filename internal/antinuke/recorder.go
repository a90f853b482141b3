package antinuke

import (
	"context"
	"sync"
	"time"

	"nukeguard/internal/metrics"
	"nukeguard/internal/storage"

	"go.uber.org/zap"
)

// AuditStore persists violation events.
type AuditStore interface {
	SaveViolationEvent(ctx context.Context, event *storage.ViolationEvent) (string, error)
}

// Recorder persists violation events off the hot path. Events are queued to a
// single background worker; when the queue is full the write happens
// synchronously so no event is ever dropped. An optional notifier mirrors
// each event to the guild's log channel.
type Recorder struct {
	store   AuditStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	notify  func(context.Context, *storage.ViolationEvent)

	queue chan *storage.ViolationEvent
	done  chan struct{}
	once  sync.Once
}

func NewRecorder(store AuditStore, logger *zap.Logger, m *metrics.Metrics, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		store:   store,
		logger:  logger,
		metrics: m,
		queue:   make(chan *storage.ViolationEvent, queueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// SetNotifier registers a callback invoked after each persistence attempt,
// whether or not the write succeeded.
func (r *Recorder) SetNotifier(notify func(context.Context, *storage.ViolationEvent)) {
	r.notify = notify
}

// Record enqueues the event for persistence. Falls back to a synchronous
// write when the queue is saturated.
func (r *Recorder) Record(event *storage.ViolationEvent) {
	select {
	case r.queue <- event:
	default:
		r.persist(event)
	}
}

// Close stops the worker after draining queued events.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		r.persist(event)
	}
}

func (r *Recorder) persist(event *storage.ViolationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := r.store.SaveViolationEvent(ctx, event); err != nil {
		r.metrics.IncAuditFailure()
		r.logger.Error("violation event write failed",
			zap.String("guild_id", event.GuildID),
			zap.String("actor_id", event.ActorID),
			zap.String("action", event.ActionType),
			zap.Error(err))
	}
	// The log-channel mirror is independent of the persist outcome.
	if r.notify != nil {
		r.notify(ctx, event)
	}
}
