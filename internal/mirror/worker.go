package mirror

import (
	"context"
	"log/slog"

	"certledger/internal/events"
	"certledger/internal/mirror/metrics"
)

// Worker consumes ledger events and applies them to the view store. One
// worker per process; the channel gives a total order over applied events.
type Worker struct {
	store   ViewStore
	source  <-chan events.Event
	logger  *slog.Logger
	metrics *metrics.Metrics
	done    chan struct{}
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(store ViewStore, source <-chan events.Event, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:  store,
		source: source,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run applies events until the source closes or the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.source:
			if !ok {
				return
			}
			w.apply(ctx, event)
		}
	}
}

// Done closes once Run has drained and returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) apply(ctx context.Context, event events.Event) {
	var err error
	switch event.Kind {
	case events.CertificateIssued:
		err = w.store.Add(ctx, Entry{
			CertificateID: event.CertificateID,
			Recipient:     event.Recipient,
			Institution:   event.Institution,
			Type:          event.CertType,
			Status:        StatusValid,
		})
	case events.CertificateRevoked:
		err = w.store.SetStatus(ctx, event.CertificateID, StatusValid, StatusRevoked, event.CertType)
	case events.CertificateVerified:
		err = w.store.RecordVerification(ctx, event.CertificateID, event.At)
	default:
		// Institution lifecycle events do not change certificate views.
		return
	}

	if err != nil {
		if w.logger != nil {
			w.logger.Error("failed to apply event to mirror",
				"kind", string(event.Kind),
				"certificate_id", event.CertificateID.String(),
				"error", err,
			)
		}
		return
	}
	if w.metrics != nil {
		w.metrics.IncrementApplied(string(event.Kind))
	}
}
