package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	JWTSecret []byte
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that sets those headers.
	TrustProxy bool
}

func NewHandler(windowHandler *WindowHandler, ballotHandler *BallotHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(VoterAuth(opts.JWTSecret))

		r.Route("/elections/{id}", func(r chi.Router) {
			r.Get("/window", windowHandler.OpenWindow)
			r.Get("/window/status", windowHandler.WindowStatus)
			r.Post("/window/reset", windowHandler.ResetWindow)

			r.Post("/ballots", ballotHandler.CastBallot)
			r.Get("/ballots/mine", ballotHandler.MyBallot)
		})
	})

	return r
}
