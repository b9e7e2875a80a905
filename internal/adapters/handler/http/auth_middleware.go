package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

// VoterIDKey holds the authenticated voter's uuid.UUID in the request context.
const VoterIDKey contextKey = "voter_id"

// VoterAuth accepts HS256 access tokens from the access_token cookie or a
// bearer Authorization header. The subject claim is the voter id.
func VoterAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := accessToken(r)
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "missing access token"})
				return
			}

			voterID, err := parseVoterID(raw, secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid access token"})
				return
			}

			ctx := context.WithValue(r.Context(), VoterIDKey, voterID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(r *http.Request) string {
	if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func parseVoterID(raw string, secret []byte) (uuid.UUID, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, err
	}
	if sub == "" {
		return uuid.Nil, errors.New("missing subject")
	}
	return uuid.Parse(sub)
}

func voterID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(VoterIDKey).(uuid.UUID)
	return id, ok
}
