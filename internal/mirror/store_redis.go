package mirror

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// Redis key layout. Sets index certificate ids per dimension; one hash per
// certificate carries the cached verification aggregate.
const (
	keyRecipientPrefix   = "mirror:recipient:"
	keyInstitutionPrefix = "mirror:institution:"
	keyStatusPrefix      = "mirror:status:"
	keyTypePrefix        = "mirror:type:"
	keyStatsPrefix       = "mirror:stats:"
	keyEntryPrefix       = "mirror:cert:"
	keyTypes             = "mirror:types"
)

// RedisViewStore keeps the mirror views in Redis so reads survive restarts
// without a full rebuild.
type RedisViewStore struct {
	client *redis.Client
}

func NewRedisViewStore(client *redis.Client) *RedisViewStore {
	return &RedisViewStore{client: client}
}

func (s *RedisViewStore) Add(ctx context.Context, entry Entry) error {
	member := entry.CertificateID.String()
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, keyRecipientPrefix+entry.Recipient.String(), member)
	pipe.SAdd(ctx, keyInstitutionPrefix+entry.Institution.String(), member)
	pipe.SAdd(ctx, keyStatusPrefix+entry.Status, member)
	pipe.SAdd(ctx, keyTypePrefix+entry.Type, member)
	pipe.SAdd(ctx, keyTypes, entry.Type)
	pipe.HSet(ctx, keyEntryPrefix+member, map[string]any{
		"recipient":   entry.Recipient.String(),
		"institution": entry.Institution.String(),
		"type":        entry.Type,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("add mirror entry", err)
	}
	return nil
}

func (s *RedisViewStore) SetStatus(ctx context.Context, certID id.CertificateID, fromStatus, toStatus, _ string) error {
	member := certID.String()
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, keyStatusPrefix+fromStatus, member)
	pipe.SAdd(ctx, keyStatusPrefix+toStatus, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("set mirror status", err)
	}
	return nil
}

func (s *RedisViewStore) RecordVerification(ctx context.Context, certID id.CertificateID, at time.Time) error {
	key := keyStatsPrefix + certID.String()
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_verified_at", at.Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("record mirror verification", err)
	}
	return nil
}

// Drop removes the certificate from every view. Callers may pass an entry
// carrying only the id; the indexed keys are resolved from the entry hash.
func (s *RedisViewStore) Drop(ctx context.Context, entry Entry) error {
	member := entry.CertificateID.String()
	if entry.Recipient.IsZero() {
		stored, err := s.client.HGetAll(ctx, keyEntryPrefix+member).Result()
		if err != nil {
			return unavailable("resolve mirror entry", err)
		}
		entry.Recipient = id.Address(stored["recipient"])
		entry.Institution = id.Address(stored["institution"])
		entry.Type = stored["type"]
	}
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, keyRecipientPrefix+entry.Recipient.String(), member)
	pipe.SRem(ctx, keyInstitutionPrefix+entry.Institution.String(), member)
	pipe.SRem(ctx, keyStatusPrefix+StatusValid, member)
	pipe.SRem(ctx, keyStatusPrefix+StatusRevoked, member)
	pipe.SRem(ctx, keyTypePrefix+entry.Type, member)
	pipe.Del(ctx, keyStatsPrefix+member, keyEntryPrefix+member)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("drop mirror entry", err)
	}
	return nil
}

func (s *RedisViewStore) ByRecipient(ctx context.Context, recipient id.Address) ([]id.CertificateID, error) {
	return s.members(ctx, keyRecipientPrefix+recipient.String())
}

func (s *RedisViewStore) ByInstitution(ctx context.Context, institution id.Address) ([]id.CertificateID, error) {
	return s.members(ctx, keyInstitutionPrefix+institution.String())
}

func (s *RedisViewStore) ByStatus(ctx context.Context, status string) ([]id.CertificateID, error) {
	return s.members(ctx, keyStatusPrefix+status)
}

func (s *RedisViewStore) ByType(ctx context.Context, certType string) ([]id.CertificateID, error) {
	return s.members(ctx, keyTypePrefix+certType)
}

func (s *RedisViewStore) Stats(ctx context.Context, certID id.CertificateID) (VerificationStats, error) {
	values, err := s.client.HGetAll(ctx, keyStatsPrefix+certID.String()).Result()
	if err != nil {
		return VerificationStats{}, unavailable("read mirror stats", err)
	}
	var stats VerificationStats
	if raw, ok := values["count"]; ok {
		stats.Count, _ = strconv.ParseUint(raw, 10, 64)
	}
	if raw, ok := values["last_verified_at"]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			stats.LastVerifiedAt = time.Unix(unix, 0).UTC()
		}
	}
	return stats, nil
}

func (s *RedisViewStore) Totals(ctx context.Context) (Totals, error) {
	valid, err := s.client.SCard(ctx, keyStatusPrefix+StatusValid).Result()
	if err != nil {
		return Totals{}, unavailable("count valid certificates", err)
	}
	revoked, err := s.client.SCard(ctx, keyStatusPrefix+StatusRevoked).Result()
	if err != nil {
		return Totals{}, unavailable("count revoked certificates", err)
	}
	types, err := s.client.SMembers(ctx, keyTypes).Result()
	if err != nil {
		return Totals{}, unavailable("list certificate types", err)
	}

	totals := Totals{
		Valid:   uint64(valid),
		Revoked: uint64(revoked),
		ByType:  make(map[string]uint64, len(types)),
	}
	for _, certType := range types {
		count, err := s.client.SCard(ctx, keyTypePrefix+certType).Result()
		if err != nil {
			return Totals{}, unavailable("count certificates by type", err)
		}
		totals.ByType[certType] = uint64(count)
	}
	return totals, nil
}

func (s *RedisViewStore) members(ctx context.Context, key string) ([]id.CertificateID, error) {
	raw, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("read mirror view", err)
	}
	out := make([]id.CertificateID, 0, len(raw))
	for _, member := range raw {
		certID, err := id.ParseCertificateID(member)
		if err != nil {
			continue
		}
		out = append(out, certID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}
