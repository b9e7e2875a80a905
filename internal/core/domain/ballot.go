package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Answers maps question ids to answer values. A present key with an empty
// value is an explicit blank, which is not the same as a missing key.
type Answers map[string]string

// Canonical returns the byte encoding used when signing answers. Keys are
// sorted, so equal maps always encode identically.
func (a Answers) Canonical() []byte {
	if a == nil {
		a = Answers{}
	}
	b, _ := json.Marshal(map[string]string(a))
	return b
}

type Ballot struct {
	ID             uuid.UUID `json:"id"`
	ElectionID     uuid.UUID `json:"election_id"`
	VoterID        uuid.UUID `json:"voter_id"`
	Token          string    `json:"token"`
	WindowOpenedAt time.Time `json:"window_opened_at"`
	Answers        Answers   `json:"answers"`
	OriginAddr     string    `json:"-"`
	UserAgent      string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

const tokenPreviewLen = 12

// TokenPreview returns the leading characters of the token signature, which
// is the only part that differs between ballots.
func (b *Ballot) TokenPreview() string {
	sig := b.Token
	if i := strings.LastIndexByte(sig, '.'); i >= 0 {
		sig = sig[i+1:]
	}
	if len(sig) <= tokenPreviewLen {
		return sig
	}
	return sig[:tokenPreviewLen] + "..."
}
