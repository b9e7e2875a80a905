package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

const maxBallotBody = 64 << 10

type BallotHandler struct {
	service ports.CastService
}

func NewBallotHandler(service ports.CastService) *BallotHandler {
	return &BallotHandler{
		service: service,
	}
}

type castRequest struct {
	Answers map[string]*string `json:"answers"`
}

type ballotResponse struct {
	ID           uuid.UUID `json:"id"`
	TokenPreview string    `json:"token_preview"`
	CastAt       time.Time `json:"cast_at"`
}

// CastBallot godoc
// @Summary      Casts the voter's ballot
// @Description  Succeeds with the same ballot when the voter already cast one.
// @Tags         ballots
// @Accept       json
// @Success      201
// @Failure      400,403,404,409,410,422,503
// @Router       /elections/{id}/ballots [post]
func (h *BallotHandler) CastBallot(w http.ResponseWriter, r *http.Request) {
	electionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid election id")
		return
	}
	voter, ok := voterID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "missing voter context"})
		return
	}

	var req castRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBallotBody)).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	input := ports.CastInput{
		ElectionID: electionID,
		VoterID:    voter,
		Answers:    toAnswers(req.Answers),
		OriginAddr: originAddr(r),
		UserAgent:  r.UserAgent(),
	}

	ballot, err := h.service.Cast(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBallotResponse(ballot))
}

// MyBallot godoc
// @Summary      Returns the receipt of the voter's ballot
// @Tags         ballots
// @Success      200
// @Failure      404
// @Router       /elections/{id}/ballots/mine [get]
func (h *BallotHandler) MyBallot(w http.ResponseWriter, r *http.Request) {
	electionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid election id")
		return
	}
	voter, ok := voterID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "missing voter context"})
		return
	}

	ballot, err := h.service.Receipt(r.Context(), electionID, voter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBallotResponse(ballot))
}

// toAnswers keeps keys sent as null as explicit blanks.
func toAnswers(raw map[string]*string) domain.Answers {
	answers := make(domain.Answers, len(raw))
	for id, v := range raw {
		if v == nil {
			answers[id] = ""
			continue
		}
		answers[id] = *v
	}
	return answers
}

func toBallotResponse(b *domain.Ballot) ballotResponse {
	return ballotResponse{
		ID:           b.ID,
		TokenPreview: b.TokenPreview(),
		CastAt:       b.CreatedAt,
	}
}
