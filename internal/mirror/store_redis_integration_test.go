//go:build integration

package mirror_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/mirror"
	id "certledger/pkg/domain"
	"certledger/pkg/testutil/containers"
)

type RedisViewStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *mirror.RedisViewStore
}

func TestRedisViewStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisViewStoreSuite))
}

func (s *RedisViewStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = mirror.NewRedisViewStore(s.redis.Client)
}

func (s *RedisViewStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

var (
	recipient   = id.Address("0x" + strings.Repeat("bb", 20))
	institution = id.Address("0x" + strings.Repeat("aa", 20))
)

func entry(certID id.CertificateID, certType string) mirror.Entry {
	return mirror.Entry{
		CertificateID: certID,
		Recipient:     recipient,
		Institution:   institution,
		Type:          certType,
		Status:        mirror.StatusValid,
	}
}

func (s *RedisViewStoreSuite) TestViewsSurviveRoundTrip() {
	ctx := context.Background()

	s.Require().NoError(s.store.Add(ctx, entry(1, "degree")))
	s.Require().NoError(s.store.Add(ctx, entry(2, "diploma")))

	s.Run("by recipient, sorted by id", func() {
		ids, err := s.store.ByRecipient(ctx, recipient)
		s.Require().NoError(err)
		s.Equal([]id.CertificateID{1, 2}, ids)
	})

	s.Run("by institution", func() {
		ids, err := s.store.ByInstitution(ctx, institution)
		s.Require().NoError(err)
		s.Len(ids, 2)
	})

	s.Run("by type", func() {
		ids, err := s.store.ByType(ctx, "degree")
		s.Require().NoError(err)
		s.Equal([]id.CertificateID{1}, ids)
	})

	s.Run("totals", func() {
		totals, err := s.store.Totals(ctx)
		s.Require().NoError(err)
		s.Equal(uint64(2), totals.Valid)
		s.Zero(totals.Revoked)
		s.Equal(uint64(1), totals.ByType["degree"])
		s.Equal(uint64(1), totals.ByType["diploma"])
	})
}

func (s *RedisViewStoreSuite) TestSetStatus() {
	ctx := context.Background()
	s.Require().NoError(s.store.Add(ctx, entry(1, "degree")))

	s.Require().NoError(s.store.SetStatus(ctx, 1, mirror.StatusValid, mirror.StatusRevoked, "degree"))

	valid, err := s.store.ByStatus(ctx, mirror.StatusValid)
	s.Require().NoError(err)
	s.Empty(valid)

	revoked, err := s.store.ByStatus(ctx, mirror.StatusRevoked)
	s.Require().NoError(err)
	s.Equal([]id.CertificateID{1}, revoked)
}

func (s *RedisViewStoreSuite) TestVerificationStats() {
	ctx := context.Background()
	first := time.Unix(1700000000, 0).UTC()
	later := first.Add(time.Minute)

	s.Require().NoError(s.store.RecordVerification(ctx, 1, first))
	s.Require().NoError(s.store.RecordVerification(ctx, 1, later))

	stats, err := s.store.Stats(ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(2), stats.Count)
	s.Equal(later, stats.LastVerifiedAt)

	s.Run("unknown certificate has zero stats", func() {
		stats, err := s.store.Stats(ctx, 999)
		s.Require().NoError(err)
		s.Zero(stats.Count)
		s.True(stats.LastVerifiedAt.IsZero())
	})
}

// TestDropResolvesEntryFromID covers reconciliation drops, which carry only
// the certificate id: the indexed keys must be found via the entry hash.
func (s *RedisViewStoreSuite) TestDropResolvesEntryFromID() {
	ctx := context.Background()
	s.Require().NoError(s.store.Add(ctx, entry(1, "degree")))
	s.Require().NoError(s.store.RecordVerification(ctx, 1, time.Unix(1700000000, 0).UTC()))

	s.Require().NoError(s.store.Drop(ctx, mirror.Entry{CertificateID: 1}))

	ids, err := s.store.ByRecipient(ctx, recipient)
	s.Require().NoError(err)
	s.Empty(ids)

	ids, err = s.store.ByType(ctx, "degree")
	s.Require().NoError(err)
	s.Empty(ids)

	stats, err := s.store.Stats(ctx, 1)
	s.Require().NoError(err)
	s.Zero(stats.Count)
}
