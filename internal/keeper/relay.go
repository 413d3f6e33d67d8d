/**
 * @description
 * The keeper's relay logic. Bridge delivery events and the controller's own
 * withdrawal-intent events arrive over the message broker; the relay turns
 * each one into the HTTP calls that move the settlement protocol forward:
 *
 *   outbound delivery  -> agent deploys funds -> controller confirms deposit
 *   withdrawal intent  -> agent redeems and returns funds over the bridge
 *   return delivery    -> controller settles the withdrawal
 *
 * Handlers return true to acknowledge a message and false to requeue it.
 * Replays are acknowledged: the controller's transfer-state guards reject
 * them deterministically, so redelivery can never double-apply.
 */

package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/vaultra/treasury-service/internal/domain"
	"github.com/vaultra/treasury-service/pkg/agentclient"
	"github.com/vaultra/treasury-service/pkg/controllerclient"
)

// ControllerClient defines the controller calls the relay needs.
type ControllerClient interface {
	ConfirmDeposit(ctx context.Context, transferID domain.TransferID, remoteShares int64) error
	ReceiveWithdrawal(ctx context.Context, transferID domain.TransferID, amountReturned int64) error
	UpdateValue(ctx context.Context, value int64) error
}

// AgentClient defines the agent calls the relay needs.
type AgentClient interface {
	ProcessDeposit(ctx context.Context, transferID domain.TransferID, amount int64) (*agentclient.DepositResult, error)
	InitiateWithdrawal(ctx context.Context, transferID domain.TransferID, amount int64) (*agentclient.WithdrawalResult, error)
	PositionValue(ctx context.Context) (int64, error)
}

const relayLockTTL = 30 * time.Second

// Relay consumes settlement events and drives the corresponding HTTP calls.
type Relay struct {
	controller ControllerClient
	agent      AgentClient
	lock       RelayLock
	logger     *slog.Logger
}

// NewRelay creates a new relay.
func NewRelay(controller ControllerClient, agent AgentClient, lock RelayLock, logger *slog.Logger) *Relay {
	if lock == nil {
		lock = NoopRelayLock{}
	}
	return &Relay{
		controller: controller,
		agent:      agent,
		lock:       lock,
		logger:     logger,
	}
}

// HandleOutboundDelivery processes a bridge delivery on the remote domain:
// the agent deploys the funds, then the controller is told the deposit
// landed along with the shares it minted.
func (r *Relay) HandleOutboundDelivery(body []byte) bool {
	var event domain.BridgeDeliveryEvent
	if err := json.Unmarshal(body, &event); err != nil {
		r.logger.Error("dropping malformed outbound delivery event", "error", err)
		return true
	}
	ctx := context.Background()

	acquired, err := r.lock.Acquire(ctx, string(event.TransferID), relayLockTTL)
	if err != nil {
		r.logger.Error("relay lock acquisition failed", "transfer_id", event.TransferID, "error", err)
		return false
	}
	if !acquired {
		// Another replica is on it; requeue and let the transfer-state guard
		// sort out whichever attempt lands second.
		return false
	}
	defer r.lock.Release(ctx, string(event.TransferID))

	result, err := r.agent.ProcessDeposit(ctx, event.TransferID, event.Amount)
	if err != nil {
		r.logger.Error("agent deposit deployment failed", "transfer_id", event.TransferID, "error", err)
		return false
	}

	err = r.controller.ConfirmDeposit(ctx, event.TransferID, result.SharesMinted)
	if errors.Is(err, controllerclient.ErrTransferNotFound) || errors.Is(err, controllerclient.ErrInvalidTransferState) {
		r.logger.Info("deposit confirmation already applied", "transfer_id", event.TransferID)
		return true
	}
	if err != nil {
		r.logger.Error("deposit confirmation failed", "transfer_id", event.TransferID, "error", err)
		return false
	}

	r.logger.Info("deposit confirmed", "transfer_id", event.TransferID, "amount", event.Amount, "shares", result.SharesMinted)
	return true
}

// HandleWithdrawalRequested processes the controller's withdrawal intent by
// driving the agent's redemption. The agent sends the proceeds home over the
// bridge; the later return delivery settles the record.
func (r *Relay) HandleWithdrawalRequested(body []byte) bool {
	var event domain.WithdrawalInitiatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		r.logger.Error("dropping malformed withdrawal intent event", "error", err)
		return true
	}
	ctx := context.Background()

	acquired, err := r.lock.Acquire(ctx, string(event.TransferID), relayLockTTL)
	if err != nil {
		r.logger.Error("relay lock acquisition failed", "transfer_id", event.TransferID, "error", err)
		return false
	}
	if !acquired {
		return false
	}
	defer r.lock.Release(ctx, string(event.TransferID))

	result, err := r.agent.InitiateWithdrawal(ctx, event.TransferID, event.Amount)
	if err != nil {
		r.logger.Error("agent withdrawal failed", "transfer_id", event.TransferID, "error", err)
		return false
	}

	r.logger.Info("withdrawal redemption initiated", "transfer_id", event.TransferID, "requested", event.Amount, "returned", result.AmountReturned)
	return true
}

// HandleReturnDelivery processes a bridge delivery back on the home domain:
// the controller settles the withdrawal and credits the manager.
func (r *Relay) HandleReturnDelivery(body []byte) bool {
	var event domain.BridgeDeliveryEvent
	if err := json.Unmarshal(body, &event); err != nil {
		r.logger.Error("dropping malformed return delivery event", "error", err)
		return true
	}
	ctx := context.Background()

	acquired, err := r.lock.Acquire(ctx, string(event.TransferID), relayLockTTL)
	if err != nil {
		r.logger.Error("relay lock acquisition failed", "transfer_id", event.TransferID, "error", err)
		return false
	}
	if !acquired {
		return false
	}
	defer r.lock.Release(ctx, string(event.TransferID))

	err = r.controller.ReceiveWithdrawal(ctx, event.TransferID, event.Amount)
	if errors.Is(err, controllerclient.ErrTransferNotFound) || errors.Is(err, controllerclient.ErrInvalidTransferState) {
		r.logger.Info("withdrawal settlement already applied", "transfer_id", event.TransferID)
		return true
	}
	if err != nil {
		r.logger.Error("withdrawal settlement failed", "transfer_id", event.TransferID, "error", err)
		return false
	}

	r.logger.Info("withdrawal settled", "transfer_id", event.TransferID, "amount", event.Amount)
	return true
}
