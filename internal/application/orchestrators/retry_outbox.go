package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	outboxStore "inbox/internal/adapters/storage/outbox"
	"inbox/internal/domain/message"
	domain "inbox/internal/domain/outbox"
)

// ErrNothingToDeliver tells the processor an entry no longer has anything to send.
var ErrNothingToDeliver = errors.New("nothing to deliver")

// OutboxNotifier records a delivery for every new message instead of sending inline,
// so a slow or failing email provider never holds up a send.
type OutboxNotifier struct {
	Store outboxStore.Store
	Now   func() time.Time
	NewID func() string
}

var _ MessageNotifier = (*OutboxNotifier)(nil)

// NotifyNewMessage enqueues the new-message email for m.
// PRE: m has been persisted
// POST: One pending outbox entry exists for m
func (n *OutboxNotifier) NotifyNewMessage(ctx context.Context, m message.Message) error {
	now, newID := time.Now, uuid.NewString
	if n.Now != nil {
		now = n.Now
	}
	if n.NewID != nil {
		newID = n.NewID
	}
	e, err := domain.New(newID(), domain.KindMessageEmail, m.ID(), now().UTC())
	if err != nil {
		return err
	}
	if err := n.Store.Save(ctx, e); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// ActionExecutor performs the side effect of one outbox entry kind.
type ActionExecutor interface {
	Execute(ctx context.Context, e domain.Entry) error
}

// MessageEmailExecutor reloads the message and hands it to the email notifier.
type MessageEmailExecutor struct {
	Messages interface {
		FindByID(ctx context.Context, id string) (message.Message, bool, error)
	}
	Notifier MessageNotifier
}

// Execute sends the email for e.MessageID.
// A message deleted before delivery yields ErrNothingToDeliver.
func (x *MessageEmailExecutor) Execute(ctx context.Context, e domain.Entry) error {
	m, ok, err := x.Messages.FindByID(ctx, e.MessageID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNothingToDeliver
	}
	return x.Notifier.NotifyNewMessage(ctx, m)
}

// OutboxProcessor delivers pending outbox entries with exponential backoff.
type OutboxProcessor struct {
	store     outboxStore.Store
	executors map[string]ActionExecutor
	now       func() time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	batchSize int
}

// NewOutboxProcessor creates a new outbox processor. now may be nil.
func NewOutboxProcessor(store outboxStore.Store, executors map[string]ActionExecutor, now func() time.Time) *OutboxProcessor {
	if now == nil {
		now = time.Now
	}
	return &OutboxProcessor{
		store:     store,
		executors: executors,
		now:       now,
		baseDelay: 30 * time.Second,
		maxDelay:  1 * time.Hour,
		batchSize: 50,
	}
}

// OutboxRunStats summarises one ProcessPending pass.
type OutboxRunStats struct {
	Delivered int
	Failed    int
	Skipped   int
	Abandoned int
}

// ProcessPending processes pending outbox entries whose backoff has elapsed.
// PRE: Context is valid
// POST: Every due entry was attempted once and saved
func (p *OutboxProcessor) ProcessPending(ctx context.Context) (OutboxRunStats, error) {
	var stats OutboxRunStats
	entries, err := p.store.ListPending(ctx, p.batchSize)
	if err != nil {
		return stats, fmt.Errorf("list pending outbox entries: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		now := p.now()
		if !entry.Due(now, p.baseDelay, p.maxDelay) {
			stats.Skipped++
			continue
		}
		p.processEntry(ctx, &entry, now, &stats)
		if err := p.store.Save(ctx, entry); err != nil {
			slog.Error("outbox_event", "event", "save_failed", "entry_id", entry.ID, "error", err)
		}
	}
	return stats, nil
}

func (p *OutboxProcessor) processEntry(ctx context.Context, entry *domain.Entry, now time.Time, stats *OutboxRunStats) {
	executor, ok := p.executors[entry.Kind]
	if !ok {
		entry.MarkAbandoned("no executor for kind " + entry.Kind)
		stats.Abandoned++
		slog.Error("outbox_event", "event", "unknown_kind", "entry_id", entry.ID, "kind", entry.Kind)
		return
	}

	entry.MarkAttempt(now)
	err := executor.Execute(ctx, *entry)
	switch {
	case errors.Is(err, ErrNothingToDeliver):
		entry.MarkAbandoned(err.Error())
		stats.Abandoned++
		slog.Info("outbox_event", "event", "abandoned", "entry_id", entry.ID, "message_id", entry.MessageID)
	case err != nil:
		entry.MarkFailed(err)
		stats.Failed++
		slog.Warn("outbox_event", "event", "attempt_failed", "entry_id", entry.ID, "attempt", entry.Attempts,
			"final", entry.Status == domain.StatusFailed, "error", err)
	default:
		entry.MarkSuccess()
		stats.Delivered++
		slog.Info("outbox_event", "event", "delivered", "entry_id", entry.ID, "kind", entry.Kind, "attempt", entry.Attempts)
	}
}

// Prune removes delivered entries older than retention.
func (p *OutboxProcessor) Prune(ctx context.Context, retention time.Duration) (int, error) {
	return p.store.DeleteDone(ctx, p.now().Add(-retention))
}

// StartBackgroundWorker processes the outbox every interval until ctx is done.
// PRE: interval > 0
// POST: Returns a channel closed once the worker has stopped
func StartBackgroundWorker(ctx context.Context, processor *OutboxProcessor, interval, retention time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
				stats, err := processor.ProcessPending(runCtx)
				if err != nil {
					slog.Error("outbox_event", "event", "process_failed", "error", err)
				} else if stats != (OutboxRunStats{}) {
					slog.Info("outbox_event", "event", "pass_complete",
						"delivered", stats.Delivered, "failed", stats.Failed, "skipped", stats.Skipped, "abandoned", stats.Abandoned)
				}
				if n, err := processor.Prune(runCtx, retention); err != nil {
					slog.Warn("outbox_event", "event", "prune_failed", "error", err)
				} else if n > 0 {
					slog.Debug("outbox_event", "event", "pruned", "removed", n)
				}
				cancel()
			case <-ctx.Done():
				slog.Info("outbox_event", "event", "worker_stopped")
				return
			}
		}
	}()
	return done
}
