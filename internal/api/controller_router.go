/**
 * @description
 * This file sets up the HTTP router for the strategy controller. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies the middleware for each caller class: the treasury manager, the
 * keepers, and the owner.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the owner console.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ControllerRoutes creates and returns a new router for the controller service.
func ControllerRoutes(h *ControllerHandlers, internalAPIKey, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", internalKeyHeader, KeeperIDHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Read-only strategy views, available to any internal caller.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Get("/strategy", h.InfoHandler)
		r.Get("/strategy/transfers", h.ListTransfersHandler)
	})

	// Treasury manager endpoints: fund movement in and out of the strategy.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/strategy/deposit", h.DepositHandler)
		r.Post("/strategy/withdraw", h.WithdrawHandler)
		r.Post("/strategy/withdraw-all", h.WithdrawAllHandler)
	})

	// Keeper endpoints: confirmation relays and value reports.
	r.Group(func(r chi.Router) {
		r.Use(KeeperAuthMiddleware(internalAPIKey))

		r.Post("/keeper/confirm-deposit", h.ConfirmDepositHandler)
		r.Post("/keeper/receive-withdrawal", h.ReceiveWithdrawalHandler)
		r.Post("/keeper/update-value", h.UpdateValueHandler)
	})

	// Owner endpoints: registry and lifecycle administration.
	r.Group(func(r chi.Router) {
		r.Use(OwnerAuthMiddleware(jwtSecret))

		r.Put("/admin/keepers", h.SetKeeperHandler)
		r.Put("/admin/staleness", h.SetStalenessHandler)
		r.Post("/admin/activate", h.ActivateHandler)
		r.Post("/admin/deactivate", h.DeactivateHandler)
		r.Post("/admin/emergency-withdraw", h.EmergencyWithdrawHandler)
	})

	return r
}
