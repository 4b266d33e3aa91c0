// Package fingerprint derives the content digest that keys certificates in
// the ledger. The digest is a deterministic function of the certificate's
// semantic content: two issuance requests with identical content always
// produce the same fingerprint, regardless of who computes it or when.
package fingerprint

import (
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	id "certledger/pkg/domain"
)

// Payload is the semantic content covered by the fingerprint. Field order and
// encoding are part of the wire contract with upstream settlement logs; do not
// reorder.
type Payload struct {
	Institution id.Address
	Recipient   id.Address
	Type        string
	CourseName  string
	Grade       string
	IssuedAt    time.Time
}

// Compute returns the Keccak-256 digest of the canonical payload encoding,
// rendered as 0x + 64 lowercase hex digits. Keccak (not SHA3-256) keeps the
// digest compatible with fingerprints originating on the settlement layer.
func Compute(p Payload) id.Fingerprint {
	h := sha3.NewLegacyKeccak256()
	// Canonical encoding: fields joined with an unambiguous separator, times
	// as unix seconds. Addresses are already normalized lowercase.
	fields := []string{
		p.Institution.String(),
		p.Recipient.String(),
		p.Type,
		p.CourseName,
		p.Grade,
		strconv.FormatInt(p.IssuedAt.Unix(), 10),
	}
	h.Write([]byte(strings.Join(fields, "\x1f")))
	return id.Fingerprint("0x" + hex.EncodeToString(h.Sum(nil)))
}

// ComputeMetadata digests auxiliary document metadata (PDF hash, locale,
// template id, ...) supplied by the issuer. It is optional and never part of
// the uniqueness key.
func ComputeMetadata(fields map[string]string) id.Fingerprint {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// Sort for determinism; map iteration order is random.
	slices.Sort(keys)
	h := sha3.NewLegacyKeccak256()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0x1f})
		h.Write([]byte(fields[k]))
		h.Write([]byte{0x1e})
	}
	return id.Fingerprint("0x" + hex.EncodeToString(h.Sum(nil)))
}
