/**
 * @description
 * This file contains the HTTP handlers for the remote agent's API endpoints.
 * The agent's surface is internal-only: the keeper relays deposit deliveries
 * and withdrawal requests here, and reads the position value for its
 * mark-to-market reports.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - internal/agent, internal/domain: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/vaultra/treasury-service/internal/agent"
	"github.com/vaultra/treasury-service/internal/domain"
)

// AgentHandlers holds the agent service that handlers will use.
type AgentHandlers struct {
	service *agent.Service
}

// NewAgentHandlers creates a new instance of AgentHandlers.
func NewAgentHandlers(service *agent.Service) *AgentHandlers {
	return &AgentHandlers{service: service}
}

type agentDepositRequest struct {
	TransferID string `json:"transfer_id"`
	Amount     int64  `json:"amount"`
}

// ProcessDepositHandler deploys delivered funds into the yield source.
func (h *AgentHandlers) ProcessDepositHandler(w http.ResponseWriter, r *http.Request) {
	var req agentDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ProcessDeposit(r.Context(), domain.TransferID(req.TransferID), req.Amount)
	if err != nil {
		h.handleServiceError(w, "process_deposit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type agentWithdrawRequest struct {
	TransferID string `json:"transfer_id"`
	Amount     int64  `json:"amount"`
}

// InitiateWithdrawalHandler redeems funds and sends them home over the bridge.
func (h *AgentHandlers) InitiateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req agentWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.InitiateWithdrawal(r.Context(), domain.TransferID(req.TransferID), req.Amount)
	if err != nil {
		h.handleServiceError(w, "initiate_withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type agentWithdrawAllRequest struct {
	TransferID string `json:"transfer_id"`
}

// WithdrawAllHandler redeems the entire position toward the home domain.
func (h *AgentHandlers) WithdrawAllHandler(w http.ResponseWriter, r *http.Request) {
	var req agentWithdrawAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.WithdrawAll(r.Context(), domain.TransferID(req.TransferID))
	if err != nil {
		h.handleServiceError(w, "withdraw_all", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ValueHandler returns the position's current asset-equivalent value.
func (h *AgentHandlers) ValueHandler(w http.ResponseWriter, r *http.Request) {
	value, err := h.service.CurrentValue(r.Context())
	if err != nil {
		h.handleServiceError(w, "value", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"value": value})
}

// InfoHandler returns the agent's aggregated position view.
func (h *AgentHandlers) InfoHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Info(r.Context())
	if err != nil {
		h.handleServiceError(w, "info", err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

type receiveFundsRequest struct {
	Amount int64 `json:"amount"`
}

// ReceiveFundsHandler credits a bridge delivery into the held balance. The
// bridge provider's webhook calls this when funds land.
func (h *AgentHandlers) ReceiveFundsHandler(w http.ResponseWriter, r *http.Request) {
	var req receiveFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.ReceiveBridgedFunds(r.Context(), req.Amount); err != nil {
		h.handleServiceError(w, "receive_funds", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "credited"})
}

// EmergencyWithdrawHandler redeems everything into the agent's held balance.
func (h *AgentHandlers) EmergencyWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	redeemed, err := h.service.EmergencyWithdraw(r.Context())
	if err != nil {
		h.handleServiceError(w, "emergency_withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"redeemed": redeemed})
}

// handleServiceError maps the agent's errors onto HTTP statuses.
func (h *AgentHandlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, domain.ErrZeroAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTransferNotFound):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *AgentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AgentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
