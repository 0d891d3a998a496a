package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) SetRoutes(r *chi.Mux) {
	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/me/balance", h.Balance)

			r.Route("/games", func(r chi.Router) {
				r.Post("/", h.CreateGame)
				r.Get("/", h.ListGames)
				r.Get("/events", h.RegistryEvents)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetGame)
					r.Post("/join", h.JoinGame)
					r.Post("/draw", h.DrawNumber)
					r.Post("/claim", h.ClaimWin)
					r.Get("/check", h.CheckBoard)

					r.Put("/entry-fee", h.UpdateEntryFee)
					r.Put("/join-window", h.UpdateJoinWindow())
					r.Put("/draw-cooldown", h.UpdateDrawCooldown())

					r.Get("/players", h.Players)
					r.Get("/players/{player}/board", h.Board)
					r.Get("/drawn", h.Drawn)
					r.Get("/events", h.GameEvents)
				})
			})
		})
	})
}

// InitAuth sets the HS256 key tokens are verified with. When debugSubject
// is set, a week-long token for it is logged at debug level.
func (h *Handler) InitAuth(jwtKey string, debugSubject string) {
	h.tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)

	if debugSubject == "" {
		return
	}
	tokenString, err := h.IssueToken(debugSubject, 7*24*time.Hour)
	if err != nil {
		log.Errorf("unable to issue debug token %s", err)
		return
	}

	// For debugging only
	log.Debugf("DEBUG: JWT for %s : %s", debugSubject, tokenString)
}

// IssueToken signs a token whose sub claim is subject.
func (h *Handler) IssueToken(subject string, ttl time.Duration) (string, error) {
	_, tokenString, err := h.tokenAuth.Encode(map[string]interface{}{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	})
	return tokenString, err
}
