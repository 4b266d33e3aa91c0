package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"certledger/internal/events"
	instservice "certledger/internal/institution/service"
	inststore "certledger/internal/institution/store"
	"certledger/internal/ledger/adapters"
	ledgermetrics "certledger/internal/ledger/metrics"
	"certledger/internal/ledger/models"
	ledgerstore "certledger/internal/ledger/store"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/fingerprint"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

var (
	issuerA   = id.Address("0x" + strings.Repeat("aa", 20))
	issuerB   = id.Address("0x" + strings.Repeat("bb", 20))
	recipient = id.Address("0x" + strings.Repeat("cc", 20))
	stranger  = id.Address("0x" + strings.Repeat("dd", 20))
)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	directory *instservice.Service
	ledger    *Service
	published *events.ChanPublisher
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Unix(1700000000, 0).UTC())
	s.published = events.NewChanPublisher(64, nil)
	s.directory = instservice.New(inststore.NewInMemory(), instservice.WithPublisher(s.published))
	s.ledger = New(ledgerstore.NewInMemory(), adapters.NewDirectoryAdapter(s.directory),
		WithPublisher(s.published))

	_, err := s.directory.Register(s.ctx, issuerA, "University A", "REG-A")
	s.Require().NoError(err)
	_, err = s.directory.Register(s.ctx, issuerB, "University B", "REG-B")
	s.Require().NoError(err)
}

func (s *ServiceSuite) command(fp string) IssueCommand {
	return IssueCommand{
		Institution: issuerA,
		Recipient:   recipient,
		Fingerprint: id.Fingerprint("0x" + strings.Repeat(fp, 32)),
		Type:        models.TypeDegree,
		CourseName:  "Computer Science",
		Grade:       "A",
	}
}

func (s *ServiceSuite) drainEvents() []events.Event {
	var out []events.Event
	for {
		select {
		case event := <-s.published.Events():
			out = append(out, event)
		default:
			return out
		}
	}
}

func (s *ServiceSuite) TestIssue_Lifecycle() {
	s.drainEvents()

	s.Run("first issue gets id 1", func() {
		certID, err := s.ledger.Issue(s.ctx, s.command("11"))
		s.Require().NoError(err)
		s.Equal(id.CertificateID(1), certID)
	})

	s.Run("issue emits an event", func() {
		published := s.drainEvents()
		s.Require().Len(published, 1)
		s.Equal(events.CertificateIssued, published[0].Kind)
		s.Equal(id.CertificateID(1), published[0].CertificateID)
		s.Equal(issuerA, published[0].Institution)
	})

	s.Run("same content is rejected as duplicate", func() {
		_, err := s.ledger.Issue(s.ctx, s.command("11"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicateContent))
		s.Empty(s.drainEvents())
	})

	s.Run("rejected issue consumed no id", func() {
		certID, err := s.ledger.Issue(s.ctx, s.command("22"))
		s.Require().NoError(err)
		s.Equal(id.CertificateID(2), certID)
	})

	s.Run("total count tracks successful issues only", func() {
		count, err := s.ledger.TotalCount(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(2), count)
	})
}

func (s *ServiceSuite) TestIssue_StoredRecordMatchesFingerprint() {
	issuedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cmd := s.command("11")
	cmd.IssuedAt = issuedAt
	cmd.Fingerprint = fingerprint.Compute(fingerprint.Payload{
		Institution: cmd.Institution,
		Recipient:   cmd.Recipient,
		Type:        cmd.Type.String(),
		CourseName:  cmd.CourseName,
		Grade:       cmd.Grade,
		IssuedAt:    issuedAt,
	})

	certID, err := s.ledger.Issue(s.ctx, cmd)
	s.Require().NoError(err)
	certificate, err := s.ledger.Get(s.ctx, certID)
	s.Require().NoError(err)

	s.Run("the command timestamp is the stored timestamp", func() {
		s.True(certificate.IssuedAt.Equal(issuedAt))
	})

	s.Run("the stored record hashes back to its own fingerprint", func() {
		recomputed := fingerprint.Compute(fingerprint.Payload{
			Institution: certificate.Institution,
			Recipient:   certificate.Recipient,
			Type:        certificate.Type.String(),
			CourseName:  certificate.CourseName,
			Grade:       certificate.Grade,
			IssuedAt:    certificate.IssuedAt,
		})
		s.Equal(certificate.Fingerprint, recomputed)
	})

	s.Run("zero timestamp falls back to the request clock", func() {
		certID, err := s.ledger.Issue(s.ctx, s.command("22"))
		s.Require().NoError(err)
		certificate, err := s.ledger.Get(s.ctx, certID)
		s.Require().NoError(err)
		s.True(certificate.IssuedAt.Equal(time.Unix(1700000000, 0).UTC()))
	})
}

func (s *ServiceSuite) TestIssue_Authorization() {
	s.Run("unregistered issuer is unauthorized", func() {
		cmd := s.command("11")
		cmd.Institution = stranger
		_, err := s.ledger.Issue(s.ctx, cmd)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("deactivated issuer is unauthorized", func() {
		_, err := s.directory.SetActive(s.ctx, issuerA, false)
		s.Require().NoError(err)

		_, err = s.ledger.Issue(s.ctx, s.command("11"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("reactivation restores authorization", func() {
		_, err := s.directory.SetActive(s.ctx, issuerA, true)
		s.Require().NoError(err)

		_, err = s.ledger.Issue(s.ctx, s.command("11"))
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestIssue_Validation() {
	s.Run("empty course name", func() {
		cmd := s.command("11")
		cmd.CourseName = ""
		_, err := s.ledger.Issue(s.ctx, cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing fingerprint", func() {
		cmd := s.command("11")
		cmd.Fingerprint = ""
		_, err := s.ledger.Issue(s.ctx, cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unsupported type", func() {
		cmd := s.command("11")
		cmd.Type = models.CertificateType("doctorate")
		_, err := s.ledger.Issue(s.ctx, cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestVerify() {
	certID, err := s.ledger.Issue(s.ctx, s.command("11"))
	s.Require().NoError(err)

	s.Run("valid certificate verifies", func() {
		certificate, err := s.ledger.Verify(s.ctx, certID)
		s.Require().NoError(err)
		s.True(certificate.Valid)
		s.Equal(issuerA, certificate.Institution)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.ledger.Verify(s.ctx, 999)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("by fingerprint resolves the same certificate", func() {
		certificate, err := s.ledger.VerifyByFingerprint(s.ctx, s.command("11").Fingerprint)
		s.Require().NoError(err)
		s.Equal(certID, certificate.ID)
	})

	s.Run("issuer deactivation invalidates the whole catalog", func() {
		_, err := s.directory.SetActive(s.ctx, issuerA, false)
		s.Require().NoError(err)

		_, err = s.ledger.Verify(s.ctx, certID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCertificate))
	})

	s.Run("reactivation makes it verify again", func() {
		_, err := s.directory.SetActive(s.ctx, issuerA, true)
		s.Require().NoError(err)

		_, err = s.ledger.Verify(s.ctx, certID)
		s.NoError(err)
	})
}

type unavailableStore struct{ Store }

func (unavailableStore) FindByID(context.Context, id.CertificateID) (*models.Certificate, error) {
	return nil, sentinel.ErrUnavailable
}

func (unavailableStore) FindByFingerprint(context.Context, id.Fingerprint) (*models.Certificate, error) {
	return nil, sentinel.ErrUnavailable
}

func (s *ServiceSuite) TestVerify_NotFoundMetric() {
	m := ledgermetrics.New(prometheus.NewRegistry())
	notFound := func() float64 {
		return promtestutil.ToFloat64(m.VerifyChecks.WithLabelValues("not_found"))
	}

	s.Run("store outages are not counted as not found", func() {
		ledger := New(unavailableStore{}, adapters.NewDirectoryAdapter(s.directory), WithMetrics(m))

		_, err := ledger.Verify(s.ctx, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		_, err = ledger.VerifyByFingerprint(s.ctx, s.command("11").Fingerprint)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		s.Zero(notFound())
	})

	s.Run("unknown ids are", func() {
		ledger := New(ledgerstore.NewInMemory(), adapters.NewDirectoryAdapter(s.directory), WithMetrics(m))

		_, err := ledger.Verify(s.ctx, 999)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		s.Equal(1.0, notFound())
	})
}

func (s *ServiceSuite) TestRevoke() {
	certID, err := s.ledger.Issue(s.ctx, s.command("11"))
	s.Require().NoError(err)
	s.drainEvents()

	s.Run("only the issuer may revoke", func() {
		err := s.ledger.Revoke(s.ctx, certID, issuerB)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("issuer revokes successfully", func() {
		s.Require().NoError(s.ledger.Revoke(s.ctx, certID, issuerA))

		published := s.drainEvents()
		s.Require().Len(published, 1)
		s.Equal(events.CertificateRevoked, published[0].Kind)
	})

	s.Run("revoked certificate fails verification", func() {
		_, err := s.ledger.Verify(s.ctx, certID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCertificate))
	})

	s.Run("second revocation reports already revoked", func() {
		err := s.ledger.Revoke(s.ctx, certID, issuerA)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRevoked))
		s.Empty(s.drainEvents())
	})

	s.Run("unknown certificate is not found", func() {
		err := s.ledger.Revoke(s.ctx, 999, issuerA)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("revocation never decreases the total count", func() {
		count, err := s.ledger.TotalCount(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(1), count)
	})
}

func (s *ServiceSuite) TestListings() {
	firstID, err := s.ledger.Issue(s.ctx, s.command("11"))
	s.Require().NoError(err)
	secondID, err := s.ledger.Issue(s.ctx, s.command("22"))
	s.Require().NoError(err)
	s.Require().NoError(s.ledger.Revoke(s.ctx, firstID, issuerA))

	s.Run("recipient listing keeps revoked certificates", func() {
		ids, err := s.ledger.ListByRecipient(s.ctx, recipient)
		s.Require().NoError(err)
		s.Equal([]id.CertificateID{firstID, secondID}, ids)
	})

	s.Run("institution listing keeps revoked certificates", func() {
		ids, err := s.ledger.ListByInstitution(s.ctx, issuerA)
		s.Require().NoError(err)
		s.Equal([]id.CertificateID{firstID, secondID}, ids)
	})

	s.Run("batch resolves in id order", func() {
		certificates, err := s.ledger.GetBatch(s.ctx, []id.CertificateID{secondID, firstID})
		s.Require().NoError(err)
		s.Require().Len(certificates, 2)
		s.Equal(firstID, certificates[0].ID)
	})
}
