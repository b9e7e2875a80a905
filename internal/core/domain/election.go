package domain

import (
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type ElectionStatus string

const (
	ElectionDraft    ElectionStatus = "draft"
	ElectionActive   ElectionStatus = "active"
	ElectionClosed   ElectionStatus = "closed"
	ElectionCanceled ElectionStatus = "canceled"
)

type QuestionType string

const (
	QuestionChoice QuestionType = "choice"
	QuestionText   QuestionType = "text"
)

type Election struct {
	ID        uuid.UUID      `json:"id"`
	Title     string         `json:"title"`
	Status    ElectionStatus `json:"status"`
	StartsAt  time.Time      `json:"starts_at"`
	EndsAt    time.Time      `json:"ends_at"`
	Questions []Question     `json:"questions"`
}

// Question is one entry of an election's answer schema. AllowBlank marks a
// required question as non-blocking: the answer key must be present but its
// value may be empty.
type Question struct {
	ID         string       `json:"id"`
	Type       QuestionType `json:"type"`
	Required   bool         `json:"required"`
	AllowBlank bool         `json:"allow_blank,omitempty"`
	Options    []string     `json:"options,omitempty"`
}

// AcceptsOpen reports whether a new ballot window may be opened at now.
func (e *Election) AcceptsOpen(now time.Time) bool {
	if e.Status != ElectionActive {
		return false
	}
	return !now.Before(e.StartsAt) && !now.After(e.EndsAt)
}

// AcceptsCast reports whether a ballot submitted at now through w may be
// accepted. A window opened before the election ended stays usable until the
// window itself expires.
func (e *Election) AcceptsCast(now time.Time, w *BallotWindow) bool {
	if e.AcceptsOpen(now) {
		return true
	}
	if e.Status != ElectionActive && e.Status != ElectionClosed {
		return false
	}
	if w == nil || w.OpenedAt.After(e.EndsAt) || w.OpenedAt.Before(e.StartsAt) {
		return false
	}
	return now.Before(w.ExpiresAt)
}

// ValidateAnswers checks answers against the declared questions. Missing
// required keys, blank values on blocking questions, unknown choices, values
// that are not valid UTF-8 or hold a NUL byte and undeclared keys are all
// reported.
func (e *Election) ValidateAnswers(answers Answers) error {
	var invalid []string
	declared := make(map[string]struct{}, len(e.Questions))

	for _, q := range e.Questions {
		declared[q.ID] = struct{}{}

		value, present := answers[q.ID]
		switch {
		case !present:
			if q.Required {
				invalid = append(invalid, q.ID)
			}
		case !storable(value):
			invalid = append(invalid, q.ID)
		case value == "":
			if q.Required && !q.AllowBlank {
				invalid = append(invalid, q.ID)
			}
		case q.Type == QuestionChoice && len(q.Options) > 0:
			if !slices.Contains(q.Options, value) {
				invalid = append(invalid, q.ID)
			}
		}
	}

	for id := range answers {
		if _, ok := declared[id]; !ok {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return &ValidationError{QuestionIDs: invalid}
}

// storable reports whether value survives a jsonb round trip unchanged, so
// the signed answers match the stored ones.
func storable(value string) bool {
	return utf8.ValidString(value) && !strings.ContainsRune(value, 0)
}
