// Package events carries registry change notifications from the authoritative
// services to derived consumers (the query mirror, the Kafka stream). Events
// are advisory: the ledger never depends on their delivery.
package events

import (
	"context"
	"log/slog"
	"time"

	id "certledger/pkg/domain"
)

type Kind string

const (
	InstitutionRegistered Kind = "institution_registered"
	InstitutionActivated  Kind = "institution_activated"
	InstitutionSuspended  Kind = "institution_suspended"
	CertificateIssued     Kind = "certificate_issued"
	CertificateRevoked    Kind = "certificate_revoked"
	CertificateVerified   Kind = "certificate_verified"
)

// Event is emitted from domain logic after a successful state change. Keep it
// transport-agnostic so the mirror worker and external sinks can fan out.
type Event struct {
	Kind          Kind
	At            time.Time
	Institution   id.Address
	Recipient     id.Address
	Verifier      id.Address
	CertificateID id.CertificateID
	Fingerprint   id.Fingerprint
	CertType      string
	Name          string
	Category      string
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// ChanPublisher feeds the in-process mirror worker through a bounded channel.
// Sends never block: when the buffer is full the event is dropped with a
// warning and the mirror catches up on the next reconcile pass.
type ChanPublisher struct {
	ch     chan Event
	logger *slog.Logger
}

func NewChanPublisher(buffer int, logger *slog.Logger) *ChanPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ChanPublisher{ch: make(chan Event, buffer), logger: logger}
}

// Events exposes the consumer side of the channel for the mirror worker.
func (p *ChanPublisher) Events() <-chan Event {
	return p.ch
}

func (p *ChanPublisher) Publish(ctx context.Context, event Event) error {
	select {
	case p.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.logger != nil {
			p.logger.Warn("mirror event buffer full, event dropped",
				"kind", string(event.Kind),
				"certificate_id", event.CertificateID.String(),
			)
		}
		return nil
	}
}

// Close signals consumers that no further events will arrive.
func (p *ChanPublisher) Close() {
	close(p.ch)
}

// Fanout publishes to every sink, returning the first error after all sinks
// were attempted.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
