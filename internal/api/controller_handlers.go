/**
 * @description
 * This file contains the HTTP handlers for the strategy controller's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, strconv, time: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/vaultra/treasury-service/internal/app"
	"github.com/vaultra/treasury-service/internal/domain"
	"github.com/vaultra/treasury-service/internal/store"
)

// ControllerHandlers holds the application service that handlers will use.
type ControllerHandlers struct {
	service *app.Service
}

// NewControllerHandlers creates a new instance of ControllerHandlers.
func NewControllerHandlers(service *app.Service) *ControllerHandlers {
	return &ControllerHandlers{service: service}
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type transferActionResponse struct {
	Status string `json:"status"`
	Shares int64  `json:"shares"`
}

// DepositHandler handles the treasury manager's deposit requests.
func (h *ControllerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	shares, err := h.service.Deposit(r.Context(), req.Amount)
	if err != nil {
		h.handleServiceError(w, "deposit", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, transferActionResponse{Status: "pending", Shares: shares})
}

// WithdrawHandler handles the treasury manager's withdrawal requests.
func (h *ControllerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	shares, err := h.service.Withdraw(r.Context(), req.Amount)
	if err != nil {
		h.handleServiceError(w, "withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, transferActionResponse{Status: "pending", Shares: shares})
}

// WithdrawAllHandler requests withdrawal of the strategy's full value.
func (h *ControllerHandlers) WithdrawAllHandler(w http.ResponseWriter, r *http.Request) {
	shares, err := h.service.WithdrawAll(r.Context())
	if err != nil {
		h.handleServiceError(w, "withdraw_all", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, transferActionResponse{Status: "pending", Shares: shares})
}

type confirmDepositRequest struct {
	TransferID   string `json:"transfer_id"`
	RemoteShares int64  `json:"remote_shares"`
}

// ConfirmDepositHandler handles keeper relays of deposit deliveries.
func (h *ControllerHandlers) ConfirmDepositHandler(w http.ResponseWriter, r *http.Request) {
	keeperID, ok := GetKeeperID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get keeper ID from context")
		return
	}

	var req confirmDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.service.ConfirmDeposit(r.Context(), keeperID, domain.TransferID(req.TransferID), req.RemoteShares)
	if err != nil {
		h.handleServiceError(w, "confirm_deposit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

type receiveWithdrawalRequest struct {
	TransferID     string `json:"transfer_id"`
	AmountReturned int64  `json:"amount_returned"`
}

// ReceiveWithdrawalHandler handles keeper relays of settled return legs.
func (h *ControllerHandlers) ReceiveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	keeperID, ok := GetKeeperID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get keeper ID from context")
		return
	}

	var req receiveWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.service.ReceiveWithdrawal(r.Context(), keeperID, domain.TransferID(req.TransferID), req.AmountReturned)
	if err != nil {
		h.handleServiceError(w, "receive_withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

type updateValueRequest struct {
	Value int64 `json:"value"`
}

// UpdateValueHandler handles the keeper's periodic mark-to-market reports.
func (h *ControllerHandlers) UpdateValueHandler(w http.ResponseWriter, r *http.Request) {
	keeperID, ok := GetKeeperID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get keeper ID from context")
		return
	}

	var req updateValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.UpdateRemoteValue(r.Context(), keeperID, req.Value); err != nil {
		h.handleServiceError(w, "update_value", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// InfoHandler returns the strategy's aggregated state.
func (h *ControllerHandlers) InfoHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Info(r.Context())
	if err != nil {
		h.handleServiceError(w, "info", err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// ListTransfersHandler returns transfer records for auditing. Supports
// `kind`, `state`, `limit` and `offset` query parameters.
func (h *ControllerHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	opts := store.TransferListOptions{
		Kind:  r.URL.Query().Get("kind"),
		State: r.URL.Query().Get("state"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		opts.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		opts.Offset = offset
	}

	records, err := h.service.ListTransfers(r.Context(), opts)
	if err != nil {
		h.handleServiceError(w, "list_transfers", err)
		return
	}
	if records == nil {
		records = []domain.TransferRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

type setKeeperRequest struct {
	KeeperID string `json:"keeper_id"`
	Enabled  bool   `json:"enabled"`
}

// SetKeeperHandler adds or disables a keeper on the allow list.
func (h *ControllerHandlers) SetKeeperHandler(w http.ResponseWriter, r *http.Request) {
	var req setKeeperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetKeeper(r.Context(), req.KeeperID, req.Enabled); err != nil {
		h.handleServiceError(w, "set_keeper", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setStalenessRequest struct {
	Seconds int64 `json:"seconds"`
}

// SetStalenessHandler changes the advisory value-staleness threshold.
func (h *ControllerHandlers) SetStalenessHandler(w http.ResponseWriter, r *http.Request) {
	var req setStalenessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetMaxStaleness(r.Context(), time.Duration(req.Seconds)*time.Second); err != nil {
		h.handleServiceError(w, "set_staleness", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ActivateHandler re-enables deposits.
func (h *ControllerHandlers) ActivateHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Activate(r.Context()); err != nil {
		h.handleServiceError(w, "activate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// DeactivateHandler stops new deposits while keeping withdrawals open.
func (h *ControllerHandlers) DeactivateHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context()); err != nil {
		h.handleServiceError(w, "deactivate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

// EmergencyWithdrawHandler sweeps stray controller funds to the owner and
// deactivates the strategy.
func (h *ControllerHandlers) EmergencyWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	swept, err := h.service.EmergencyWithdraw(r.Context())
	if err != nil {
		h.handleServiceError(w, "emergency_withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"swept": swept})
}

// handleServiceError maps the service's error taxonomy onto HTTP statuses.
func (h *ControllerHandlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	var invalidState *domain.InvalidTransferStateError
	var belowMinimum *domain.AmountBelowMinimumError
	var insufficient *domain.InsufficientBalanceError

	switch {
	case errors.Is(err, domain.ErrZeroAmount), errors.Is(err, domain.ErrEmptyPrincipal):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &belowMinimum):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &insufficient):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrTransferNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalidState):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStrategyNotActive):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrOnlyKeeper), errors.Is(err, domain.ErrOnlyOwner), errors.Is(err, domain.ErrOnlyTreasuryManager):
		h.writeError(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *ControllerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ControllerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
