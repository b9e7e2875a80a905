// Package signer produces the tokens that bind a ballot's content and timing.
//
// A token is an HS256 JWT whose claims carry the election id, a digest of the
// canonical answers and both timestamps. Anyone holding the key can check a
// stored ballot offline with Verify; the database row alone cannot forge one.
package signer

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

// MinKeySize is the shortest accepted signing key, in bytes.
const MinKeySize = 32

var ErrShortKey = errors.New("signing key must be at least 32 bytes")

type ballotClaims struct {
	ElectionID string `json:"eid"`
	Digest     string `json:"dig"`
	CastAt     string `json:"cat"`
	OpenedAt   string `json:"wat"`
	jwt.RegisteredClaims
}

type hmacSigner struct {
	key []byte
}

func NewHMACSigner(key []byte) (ports.TokenSigner, error) {
	if len(key) < MinKeySize {
		return nil, ErrShortKey
	}
	return &hmacSigner{key: append([]byte{}, key...)}, nil
}

func (s *hmacSigner) Sign(electionID uuid.UUID, answers domain.Answers, castAt, windowOpenedAt time.Time) (string, error) {
	claims := newClaims(electionID, answers, castAt, windowOpenedAt)
	claims.IssuedAt = jwt.NewNumericDate(castAt)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

func (s *hmacSigner) Verify(token string, electionID uuid.UUID, answers domain.Answers, castAt, windowOpenedAt time.Time) bool {
	var got ballotClaims
	_, err := jwt.ParseWithClaims(token, &got, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return false
	}

	want := newClaims(electionID, answers, castAt, windowOpenedAt)
	return got.ElectionID == want.ElectionID &&
		got.Digest == want.Digest &&
		got.CastAt == want.CastAt &&
		got.OpenedAt == want.OpenedAt
}

func newClaims(electionID uuid.UUID, answers domain.Answers, castAt, windowOpenedAt time.Time) *ballotClaims {
	digest := sha256.Sum256(answers.Canonical())
	return &ballotClaims{
		ElectionID: electionID.String(),
		Digest:     base64.RawURLEncoding.EncodeToString(digest[:]),
		CastAt:     domain.Timestamp(castAt).Format(time.RFC3339Nano),
		OpenedAt:   domain.Timestamp(windowOpenedAt).Format(time.RFC3339Nano),
	}
}
