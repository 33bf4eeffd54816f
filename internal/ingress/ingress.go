package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/errors"
	"github.com/ballee/spendguard/internal/idempotency"
)

type RuntimeConfig struct {
	SubmitTimeout  time.Duration
	IdempotencyTTL time.Duration
}

// Ingress accepts human approval responses from adapters, deduplicates by
// platform message identity, and queues them for the processor.
type Ingress struct {
	queue          chan *Event
	keys           *idempotency.Store
	submitTimeout  time.Duration
	idempotencyTTL time.Duration
}

func NewIngress(queueSize int, runtimeCfg RuntimeConfig, keys *idempotency.Store) *Ingress {
	if queueSize <= 0 {
		queueSize = config.DefaultIngressQueue
	}

	if runtimeCfg.SubmitTimeout <= 0 {
		d, err := config.DurationOrDefault("", config.DefaultSubmitTimeout)
		if err == nil {
			runtimeCfg.SubmitTimeout = d
		}
	}
	if runtimeCfg.IdempotencyTTL <= 0 {
		d, err := config.DurationOrDefault("", config.DefaultIdempotencyTTL)
		if err == nil {
			runtimeCfg.IdempotencyTTL = d
		}
	}

	return &Ingress{
		queue:          make(chan *Event, queueSize),
		keys:           keys,
		submitTimeout:  runtimeCfg.SubmitTimeout,
		idempotencyTTL: runtimeCfg.IdempotencyTTL,
	}
}

// Submit ingests a response event. It returns an error if the queue is full
// (backpressure) or if the same platform message was already seen.
func (i *Ingress) Submit(ctx context.Context, evt *Event) error {
	if evt == nil {
		return errors.DataQuality("event is nil")
	}
	if evt.RecordID == "" {
		return errors.DataQuality("event record ID is empty")
	}
	if evt.Response != "approved" && evt.Response != "rejected" {
		return errors.DataQuality("event response must be approved or rejected: " + evt.Response)
	}
	if i.keys == nil {
		return errors.Internal("idempotency store not initialized")
	}

	slog.Debug("Ingress received response", "id", evt.ID, "record", evt.RecordID, "source", evt.Source)

	key := HashKey(GenerateIdempotencyKey(evt.Source, evt.ExternalID()))
	if i.keys.CheckAndMark(key, i.idempotencyTTL) {
		slog.Warn("Duplicate response detected", "record", evt.RecordID, "source", evt.Source)
		return errors.ErrDuplicateEvent
	}

	select {
	case i.queue <- evt:
		slog.Debug("Response queued", "id", evt.ID, "record", evt.RecordID)
		return nil
	case <-time.After(i.submitTimeout):
		slog.Warn("Response queue full, dropping event", "id", evt.ID)
		return errors.ErrTransient
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Ingress) Queue() <-chan *Event {
	return i.queue
}

// Close shuts down ingress. Queued events that were not consumed are lost;
// the platform will redeliver and idempotency keys have expired by then.
func (i *Ingress) Close() error {
	slog.Info("Ingress shutting down", "queued", len(i.queue))
	close(i.queue)
	return nil
}

func (i *Ingress) Health(ctx context.Context) error {
	if i.queue == nil {
		return errors.Internal("queue not initialized")
	}

	usage := float64(len(i.queue)) / float64(cap(i.queue))
	if usage > 0.9 {
		return errors.Transient("response queue nearly full")
	}

	if i.keys == nil {
		return errors.Internal("idempotency store not initialized")
	}

	return nil
}
