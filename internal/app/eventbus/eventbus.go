// Package eventbus implements the durable, at-least-once event queue that
// decouples ingestion, OCR and reporting workers from one another. Events
// are persisted through storage.EventLogStore (the outbox and idempotency
// ledger) and woken up, best-effort, over PostgreSQL LISTEN/NOTIFY via
// pkg/pgnotify so pollers do not sit on a tight loop.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/pkg/logger"
	"github.com/carbonledger/platform/pkg/pgnotify"
	"github.com/google/uuid"
)

// Named queues, matching the workers that drain them.
const (
	QueueIngestion  = "q_ingestion"
	QueueInvalid    = "q_invalid_data"
	QueueReports    = "q_reports"
	QueueAnalytics  = "q_analytics"
	QueueDeadLetter = "q_dead_letter"
)

// Event types published onto the bus.
const (
	EventActivityValidated = "activity.validated"
	EventActivityInvalid   = "activity.invalid"
	EventInvoiceVerified   = "invoice.verified"
	EventReportRequested   = "report.requested"
	EventHealthCheck       = "health_check"
)

const (
	maxAttempts     = 3
	retryBackoff    = 60 * time.Second
	idempotencyTTL  = time.Hour
	notifyChannel   = "carbonledger_events"
	pollInterval    = 2 * time.Second
	pollBatchLimit  = 50
)

// Handler processes one event's payload. Returning an error marks the
// attempt failed; the bus makes up to maxAttempts attempts in total before
// dead-lettering.
type Handler func(ctx context.Context, evt carbon.EventLog) error

// Bus is the queue/dispatch layer. Notifier is optional: when nil, Publish
// relies purely on poll interval for delivery, which is still correct, just
// slightly higher latency.
type Bus struct {
	store    storage.EventLogStore
	notifier *pgnotify.Bus
	log      *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	nextTry  map[string]time.Time
}

// New builds a Bus backed by the given event log store. notifier may be nil.
func New(store storage.EventLogStore, notifier *pgnotify.Bus, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDefault("eventbus")
	}
	return &Bus{store: store, notifier: notifier, log: log, handlers: make(map[string][]Handler), nextTry: make(map[string]time.Time)}
}

// On registers a handler for a queue. Multiple handlers on the same queue
// all run for every event in that queue.
func (b *Bus) On(queue string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[queue] = append(b.handlers[queue], h)
}

// Publish persists an event to the named queue, deduplicating on
// idempotencyKey: a key already present in the event log is not enqueued
// again, however old the earlier event is (idempotencyTTL is not applied).
// An empty idempotencyKey disables dedup.
func (b *Bus) Publish(ctx context.Context, queue, eventType, idempotencyKey string, payload any) error {
	if idempotencyKey != "" {
		seen, err := b.store.SeenIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if seen {
			b.log.WithField("idempotency_key", idempotencyKey).Debug("duplicate publish suppressed")
			return nil
		}
	} else {
		idempotencyKey = uuid.NewString()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	evt := carbon.EventLog{
		IdempotencyKey: idempotencyKey,
		Queue:          queue,
		EventType:      eventType,
		Payload:        raw,
		PublishedAt:    time.Now().UTC(),
	}
	if _, err := b.store.RecordEvent(ctx, evt); err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	if b.notifier != nil {
		_ = b.notifier.Publish(ctx, notifyChannel, map[string]string{"queue": queue})
	}
	return nil
}

// Run drains every registered queue until ctx is cancelled, polling on an
// interval and (when a notifier is configured) waking early on notify.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if b.notifier != nil {
		ch := make(chan struct{}, 1)
		wake = ch
		if err := b.notifier.Subscribe(notifyChannel, func(_ context.Context, _ pgnotify.Event) error {
			select {
			case ch <- struct{}{}:
			default:
			}
			return nil
		}); err != nil {
			b.log.WithError(err).Warn("event bus notify subscription failed; falling back to poll interval only")
		}
	}

	for {
		b.drainAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (b *Bus) drainAll(ctx context.Context) {
	b.mu.RLock()
	queues := make([]string, 0, len(b.handlers))
	for q := range b.handlers {
		queues = append(queues, q)
	}
	b.mu.RUnlock()

	for _, q := range queues {
		b.drainQueue(ctx, q)
	}
}

func (b *Bus) drainQueue(ctx context.Context, queue string) {
	events, err := b.store.ListUnprocessed(ctx, queue, pollBatchLimit)
	if err != nil {
		b.log.WithError(err).WithField("queue", queue).Error("list unprocessed events failed")
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[queue]...)
	b.mu.RUnlock()

	now := time.Now()
	for _, evt := range events {
		b.mu.RLock()
		ready := b.nextTry[evt.ID].Before(now)
		b.mu.RUnlock()
		if !ready {
			continue
		}
		b.dispatch(ctx, queue, evt, handlers)
	}
}

func (b *Bus) dispatch(ctx context.Context, queue string, evt carbon.EventLog, handlers []Handler) {
	var lastErr error
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			lastErr = err
			break
		}
	}

	if lastErr == nil {
		if err := b.store.MarkProcessed(ctx, evt.ID, ""); err != nil {
			b.log.WithError(err).WithField("event_id", evt.ID).Error("mark processed failed")
		}
		b.mu.Lock()
		delete(b.nextTry, evt.ID)
		b.mu.Unlock()
		return
	}

	attempts := evt.Attempts + 1
	b.log.WithError(lastErr).WithField("event_id", evt.ID).WithField("attempt", attempts).Warn("event handler failed")

	if attempts < maxAttempts {
		b.mu.Lock()
		b.nextTry[evt.ID] = time.Now().Add(time.Duration(attempts) * retryBackoff)
		b.mu.Unlock()
		if err := b.store.MarkProcessed(ctx, evt.ID, lastErr.Error()); err != nil {
			b.log.WithError(err).Error("record retry failure failed")
		}
		return
	}

	// Exhausted retries: dead-letter. Republishing must not itself be
	// allowed to fail silently, so on a dead-letter publish error we still
	// mark the original processed to avoid an infinite redelivery loop, but
	// log loudly since the event is now unrecoverable.
	if err := b.Publish(ctx, QueueDeadLetter, evt.EventType, "", deadLetterEnvelope(queue, evt, lastErr)); err != nil {
		b.log.WithError(err).WithField("event_id", evt.ID).Error("dead-letter publish failed; event will be lost")
	}
	if err := b.store.MarkProcessed(ctx, evt.ID, "dead-lettered: "+lastErr.Error()); err != nil {
		b.log.WithError(err).Error("mark dead-lettered failed")
	}
}

type deadLetterBody struct {
	OriginalQueue string          `json:"original_queue"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	Attempts      int             `json:"attempts"`
}

func deadLetterEnvelope(queue string, evt carbon.EventLog, cause error) deadLetterBody {
	return deadLetterBody{
		OriginalQueue: queue,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
		Error:         cause.Error(),
		Attempts:      evt.Attempts + 1,
	}
}
