//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	registrycontracts "certledger/contracts/registry"
	"certledger/internal/events"
	"certledger/internal/platform/kafka/producer"
	id "certledger/pkg/domain"
	"certledger/pkg/testutil/containers"
)

const testTopic = "registry.events"

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	producer  *producer.Producer
	publisher *events.KafkaPublisher
	consumer  *kgo.Client
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := containers.GetManager()
	s.redpanda = mgr.GetRedpanda(s.T())
	s.Require().NoError(s.redpanda.CreateTopic(context.Background(), testTopic, 1))

	p, err := producer.New(producer.Config{
		Brokers:         s.redpanda.Broker,
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, logger)
	s.Require().NoError(err)
	s.producer = p
	s.publisher = events.NewKafkaPublisher(p, testTopic, logger)

	consumer, err := s.redpanda.NewConsumer("kafka-publisher-suite", testTopic)
	s.Require().NoError(err)
	s.consumer = consumer
}

func (s *KafkaPublisherSuite) TearDownSuite() {
	if s.consumer != nil {
		s.consumer.Close()
	}
	if s.producer != nil {
		s.producer.Close()
	}
}

var (
	institution = id.Address("0x" + strings.Repeat("aa", 20))
	recipient   = id.Address("0x" + strings.Repeat("bb", 20))
	verifier    = id.Address("0x" + strings.Repeat("cc", 20))
)

func (s *KafkaPublisherSuite) waitFor(eventType string) *kgo.Record {
	record := s.redpanda.WaitForRecord(context.Background(), s.consumer, 15*time.Second, func(r *kgo.Record) bool {
		var envelope registrycontracts.Envelope
		return json.Unmarshal(r.Value, &envelope) == nil && envelope.Type == eventType
	})
	s.Require().NotNil(record, "no %s event arrived", eventType)
	return record
}

func (s *KafkaPublisherSuite) TestCertificateEventsOnTheWire() {
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()

	s.Require().NoError(s.publisher.Publish(ctx, events.Event{
		Kind:          events.CertificateIssued,
		At:            at,
		CertificateID: 7,
		Institution:   institution,
		Recipient:     recipient,
		Fingerprint:   id.Fingerprint("0x" + strings.Repeat("11", 32)),
		CertType:      "degree",
	}))

	record := s.waitFor(registrycontracts.EventCertificateIssued)
	s.Equal("7", string(record.Key))

	var payload registrycontracts.CertificateEvent
	s.Require().NoError(json.Unmarshal(record.Value, &payload))
	s.Equal(registrycontracts.ContractVersion, payload.Version)
	s.Equal(uint64(7), payload.CertificateID)
	s.Equal(institution.String(), payload.Institution)
	s.Equal(recipient.String(), payload.Recipient)
	s.Equal("degree", payload.Type)
	s.Equal(at.Unix(), payload.Timestamp)
	s.True(payload.Valid)

	s.Run("revocation flips validity", func() {
		s.Require().NoError(s.publisher.Publish(ctx, events.Event{
			Kind:          events.CertificateRevoked,
			At:            at.Add(time.Minute),
			CertificateID: 7,
			Institution:   institution,
			Recipient:     recipient,
		}))

		record := s.waitFor(registrycontracts.EventCertificateRevoked)
		var payload registrycontracts.CertificateEvent
		s.Require().NoError(json.Unmarshal(record.Value, &payload))
		s.False(payload.Valid)
	})
}

func (s *KafkaPublisherSuite) TestVerificationEventOnTheWire() {
	s.Require().NoError(s.publisher.Publish(context.Background(), events.Event{
		Kind:          events.CertificateVerified,
		At:            time.Unix(1700000100, 0).UTC(),
		CertificateID: 7,
		Verifier:      verifier,
		Category:      "web",
	}))

	record := s.waitFor(registrycontracts.EventCertificateVerified)
	var payload registrycontracts.VerificationEvent
	s.Require().NoError(json.Unmarshal(record.Value, &payload))
	s.Equal(uint64(7), payload.CertificateID)
	s.Equal(verifier.String(), payload.Verifier)
	s.Equal("web", payload.Category)
}

func (s *KafkaPublisherSuite) TestInstitutionEventOnTheWire() {
	s.Require().NoError(s.publisher.Publish(context.Background(), events.Event{
		Kind:        events.InstitutionSuspended,
		At:          time.Unix(1700000200, 0).UTC(),
		Institution: institution,
		Name:        "Test University",
	}))

	record := s.waitFor(registrycontracts.EventInstitutionDeactivated)
	s.Equal(institution.String(), string(record.Key))

	var payload registrycontracts.InstitutionEvent
	s.Require().NoError(json.Unmarshal(record.Value, &payload))
	s.Equal(institution.String(), payload.Institution)
	s.False(payload.Active)
}
