/**
 * @description
 * This file sets up the HTTP router for the remote agent. Every endpoint is
 * internal: the keeper and the bridge provider's webhook are the only
 * callers, so the whole surface sits behind the shared internal API key.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AgentRoutes creates and returns a new router for the agent service.
func AgentRoutes(h *AgentHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Get("/position", h.InfoHandler)
		r.Get("/position/value", h.ValueHandler)
		r.Post("/position/deposit", h.ProcessDepositHandler)
		r.Post("/position/withdraw", h.InitiateWithdrawalHandler)
		r.Post("/position/withdraw-all", h.WithdrawAllHandler)
		r.Post("/position/receive-funds", h.ReceiveFundsHandler)
		r.Post("/position/emergency-withdraw", h.EmergencyWithdrawHandler)
	})

	return r
}
