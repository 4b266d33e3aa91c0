package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	registrycontracts "certledger/contracts/registry"
	"certledger/internal/platform/kafka/producer"
)

// KafkaPublisher maps registry events onto the versioned contract envelopes
// and publishes them for external consumers. Publication is asynchronous and
// best-effort.
type KafkaPublisher struct {
	producer *producer.Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaPublisher(p *producer.Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, logger: logger}
}

func (k *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, key, err := marshalContract(event)
	if err != nil {
		return fmt.Errorf("marshal registry event: %w", err)
	}
	return k.producer.ProduceAsync(&producer.Message{
		Topic: k.topic,
		Key:   key,
		Value: payload,
	})
}

func marshalContract(event Event) ([]byte, []byte, error) {
	envelope := registrycontracts.Envelope{
		Version:   registrycontracts.ContractVersion,
		Type:      contractType(event.Kind),
		Timestamp: event.At.Unix(),
	}

	switch event.Kind {
	case InstitutionRegistered, InstitutionActivated, InstitutionSuspended:
		payload, err := json.Marshal(registrycontracts.InstitutionEvent{
			Envelope:    envelope,
			Institution: event.Institution.String(),
			Name:        event.Name,
			Active:      event.Kind != InstitutionSuspended,
		})
		return payload, []byte(event.Institution.String()), err
	case CertificateVerified:
		payload, err := json.Marshal(registrycontracts.VerificationEvent{
			Envelope:      envelope,
			CertificateID: uint64(event.CertificateID),
			Verifier:      event.Verifier.String(),
			Category:      event.Category,
		})
		return payload, []byte(event.CertificateID.String()), err
	default:
		payload, err := json.Marshal(registrycontracts.CertificateEvent{
			Envelope:      envelope,
			CertificateID: uint64(event.CertificateID),
			Institution:   event.Institution.String(),
			Recipient:     event.Recipient.String(),
			Fingerprint:   event.Fingerprint.String(),
			Type:          event.CertType,
			Valid:         event.Kind != CertificateRevoked,
		})
		return payload, []byte(event.CertificateID.String()), err
	}
}

func contractType(kind Kind) string {
	switch kind {
	case InstitutionRegistered:
		return registrycontracts.EventInstitutionRegistered
	case InstitutionActivated:
		return registrycontracts.EventInstitutionReactivated
	case InstitutionSuspended:
		return registrycontracts.EventInstitutionDeactivated
	case CertificateIssued:
		return registrycontracts.EventCertificateIssued
	case CertificateRevoked:
		return registrycontracts.EventCertificateRevoked
	case CertificateVerified:
		return registrycontracts.EventCertificateVerified
	default:
		return string(kind)
	}
}
