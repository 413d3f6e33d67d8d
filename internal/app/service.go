/**
 * @description
 * This file contains the core business logic for the strategy controller: the
 * home-domain half of the cross-domain settlement engine. The `Service`
 * struct owns the asynchronous state machine: pending-deposit and
 * pending-withdrawal bookkeeping, the optimistic valuation, staleness
 * tracking, and the keeper-driven confirmation protocol that reconciles
 * remote truth into home-domain state.
 *
 * Key features:
 * - Deposit/withdraw entry points for the treasury manager; both return
 *   immediately with a pending marker, never blocking on the remote leg.
 * - Keeper-only confirmation calls guarded by the transfer record's state, so
 *   replayed relays fail closed instead of double-applying.
 * - Every failure aborts before mutation; within the home domain a
 *   state-changing call runs under the service mutex, making the controller a
 *   single writer and reentrancy structurally impossible.
 *
 * @dependencies
 * - context, errors, log, sync, time: Standard Go libraries.
 * - github.com/google/uuid: Event identifiers.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/bridgeclient, pkg/rabbitmq: Transport adapter and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vaultra/treasury-service/internal/domain"
	"github.com/vaultra/treasury-service/internal/store"
	"github.com/vaultra/treasury-service/pkg/bridgeclient"
	"github.com/vaultra/treasury-service/pkg/rabbitmq"
)

// Service provides the strategy controller's business logic.
type Service struct {
	mu              sync.Mutex
	repo            store.Repository
	transport       bridgeclient.Transport
	events          rabbitmq.Publisher
	minBridgeAmount int64
	now             func() time.Time
}

// NewService creates a new controller service instance.
func NewService(repo store.Repository, transport bridgeclient.Transport, events rabbitmq.Publisher, minBridgeAmount int64) *Service {
	return &Service{
		repo:            repo,
		transport:       transport,
		events:          events,
		minBridgeAmount: minBridgeAmount,
		now:             time.Now,
	}
}

// Name returns the strategy's stable name for the treasury manager.
func (s *Service) Name() string { return domain.StrategyName }

// AssetID returns the single asset this strategy settles.
func (s *Service) AssetID() domain.AssetID { return domain.AssetUSDM }

// SupportsInstantWithdraw is always false: settlement is asynchronous and the
// manager must wait for the keeper-driven return leg.
func (s *Service) SupportsInstantWithdraw() bool { return false }

// MaxInstantWithdraw is always zero for the same reason.
func (s *Service) MaxInstantWithdraw() int64 { return 0 }

// Deposit pulls `amount` from the treasury manager's float, initiates the
// cross-domain transfer, and records a pending deposit. The returned share
// count is always zero: per-depositor ownership accounting happens upstream
// in the treasury manager; this strategy tracks aggregate value only.
func (s *Service) Deposit(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrZeroAmount
	}
	if s.minBridgeAmount > 0 && amount < s.minBridgeAmount {
		return 0, &domain.AmountBelowMinimumError{Amount: amount, Minimum: s.minBridgeAmount}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load strategy state: %w", err)
	}
	if !state.IsActive {
		return 0, domain.ErrStrategyNotActive
	}

	// 1. Pull the amount from the manager's float.
	managerAccount, err := s.repo.FindLedgerAccount(ctx, domain.PrincipalManager)
	if err != nil {
		return 0, fmt.Errorf("failed to load manager float: %w", err)
	}
	if managerAccount.Balance < amount {
		return 0, &domain.InsufficientBalanceError{Requested: amount, Available: managerAccount.Balance}
	}
	if err := s.repo.DebitLedger(ctx, domain.PrincipalManager, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return 0, &domain.InsufficientBalanceError{Requested: amount, Available: managerAccount.Balance}
		}
		return 0, fmt.Errorf("failed to debit manager float: %w", err)
	}

	// 2. Initiate the bridge leg. This is a same-domain provider call, so a
	// failure here aborts the whole operation: refund the debit, record
	// nothing.
	transferID, err := s.transport.InitiateDeposit(ctx, amount)
	if err != nil {
		if refundErr := s.repo.CreditLedger(ctx, domain.PrincipalManager, amount); refundErr != nil {
			log.Printf("CRITICAL: failed to refund manager float after bridge initiation failure: %v", refundErr)
		}
		return 0, fmt.Errorf("bridge deposit initiation failed: %w", err)
	}

	// 3. Record the pending transfer.
	now := s.now().UTC()
	rec := &domain.TransferRecord{
		TransferID: transferID,
		Kind:       domain.TransferKindDeposit,
		State:      domain.TransferStatePending,
		Amount:     amount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateTransferRecord(ctx, rec); err != nil {
		if refundErr := s.repo.CreditLedger(ctx, domain.PrincipalManager, amount); refundErr != nil {
			log.Printf("CRITICAL: failed to refund manager float after record creation failure for transfer %s: %v", transferID, refundErr)
		}
		return 0, fmt.Errorf("failed to create transfer record: %w", err)
	}

	// 4. Account the pending principal.
	state.PendingDeposits += amount
	state.TotalDeposited += amount
	if err := s.repo.SaveStrategyState(ctx, state); err != nil {
		log.Printf("CRITICAL: failed to persist strategy state after deposit %s: %v", transferID, err)
		return 0, fmt.Errorf("failed to persist strategy state: %w", err)
	}

	s.publish(ctx, domain.RoutingKeyDepositInitiated, domain.DepositInitiatedEvent{
		EventID:    uuid.New(),
		TransferID: transferID,
		Amount:     amount,
		Timestamp:  now,
	})
	log.Printf("level=info component=controller op=deposit transfer_id=%s amount=%d", transferID, amount)

	return 0, nil
}

// Withdraw records a withdrawal intent against the strategy's optimistic
// valuation. No funds move synchronously; the keeper drives the remote
// redemption and the later ReceiveWithdrawal call settles the return leg.
// Withdrawals remain available while the strategy is deactivated so existing
// positions can always be drained.
func (s *Service) Withdraw(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdrawLocked(ctx, amount)
}

// WithdrawAll withdraws the strategy's entire optimistic valuation. A no-op
// when the strategy holds nothing.
func (s *Service) WithdrawAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load strategy state: %w", err)
	}
	total := state.TotalValue()
	if total == 0 {
		return 0, nil
	}
	return s.withdrawLocked(ctx, total)
}

func (s *Service) withdrawLocked(ctx context.Context, amount int64) (int64, error) {
	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load strategy state: %w", err)
	}

	total := state.TotalValue()
	if amount > total {
		return 0, &domain.InsufficientBalanceError{Requested: amount, Available: total}
	}

	transferID, err := s.transport.InitiateWithdrawal(ctx, amount)
	if err != nil {
		return 0, fmt.Errorf("bridge withdrawal initiation failed: %w", err)
	}

	now := s.now().UTC()
	rec := &domain.TransferRecord{
		TransferID: transferID,
		Kind:       domain.TransferKindWithdrawal,
		State:      domain.TransferStatePending,
		Amount:     amount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateTransferRecord(ctx, rec); err != nil {
		return 0, fmt.Errorf("failed to create transfer record: %w", err)
	}

	state.PendingWithdrawals += amount
	if err := s.repo.SaveStrategyState(ctx, state); err != nil {
		log.Printf("CRITICAL: failed to persist strategy state after withdrawal %s: %v", transferID, err)
		return 0, fmt.Errorf("failed to persist strategy state: %w", err)
	}

	s.publish(ctx, domain.RoutingKeyWithdrawalInitiated, domain.WithdrawalInitiatedEvent{
		EventID:    uuid.New(),
		TransferID: transferID,
		Amount:     amount,
		Timestamp:  now,
	})
	log.Printf("level=info component=controller op=withdraw transfer_id=%s amount=%d", transferID, amount)

	return 0, nil
}

// ConfirmDeposit is the keeper-only reconciliation of a delivered deposit.
// The pending amount moves into the last reported value by the exact
// deposited amount, not a live remote read, which prevents double counting
// when a periodic value report also includes this deposit.
func (s *Service) ConfirmDeposit(ctx context.Context, keeperID string, transferID domain.TransferID, remoteShares int64) error {
	if err := s.authorizeKeeper(ctx, keeperID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return err
	}
	if rec.Kind != domain.TransferKindDeposit || rec.State != domain.TransferStatePending {
		return &domain.InvalidTransferStateError{
			TransferID: transferID,
			Expected:   domain.TransferStatePending,
			Actual:     rec.State,
		}
	}

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load strategy state: %w", err)
	}

	now := s.now().UTC()
	state.PendingDeposits -= rec.Amount
	if state.PendingDeposits < 0 {
		state.PendingDeposits = 0
	}
	state.LastReportedValue += rec.Amount
	state.LastValueUpdate = now

	// Record transition and counter update commit together; a failure leaves
	// the record pending so the keeper's retry can take the whole step again.
	if err := s.repo.ConfirmTransferDeployed(ctx, transferID, state); err != nil {
		return err
	}

	s.publish(ctx, domain.RoutingKeyDepositConfirmed, domain.DepositConfirmedEvent{
		EventID:      uuid.New(),
		TransferID:   transferID,
		Amount:       rec.Amount,
		RemoteShares: remoteShares,
		Timestamp:    now,
	})
	log.Printf("level=info component=controller op=confirm_deposit transfer_id=%s amount=%d remote_shares=%d keeper_id=%s", transferID, rec.Amount, remoteShares, keeperID)

	return nil
}

// ReceiveWithdrawal is the keeper-only settlement of a returned withdrawal:
// the one path that actually moves funds back to the treasury manager. The
// record is deleted once settled; its only purpose was replay prevention
// during the pending window. The last reported value is reduced by the
// *requested* record amount; redemption slippage folds into the next
// mark-to-market report rather than being tracked as realized loss here.
func (s *Service) ReceiveWithdrawal(ctx context.Context, keeperID string, transferID domain.TransferID, amountReturned int64) error {
	if err := s.authorizeKeeper(ctx, keeperID); err != nil {
		return err
	}
	if amountReturned < 0 {
		return domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return err
	}
	if rec.Kind != domain.TransferKindWithdrawal || rec.State != domain.TransferStatePending {
		return &domain.InvalidTransferStateError{
			TransferID: transferID,
			Expected:   domain.TransferStatePending,
			Actual:     rec.State,
		}
	}

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load strategy state: %w", err)
	}

	// Deleting the record first closes the replay window before funds move.
	if err := s.repo.DeleteTransferRecord(ctx, transferID); err != nil {
		return fmt.Errorf("failed to delete transfer record: %w", err)
	}

	now := s.now().UTC()
	state.PendingWithdrawals -= rec.Amount
	if state.PendingWithdrawals < 0 {
		state.PendingWithdrawals = 0
	}
	if amountReturned >= state.TotalDeposited {
		state.TotalDeposited = 0
	} else {
		state.TotalDeposited -= amountReturned
	}
	if rec.Amount >= state.LastReportedValue {
		state.LastReportedValue = 0
	} else {
		state.LastReportedValue -= rec.Amount
	}
	if err := s.repo.SaveStrategyState(ctx, state); err != nil {
		log.Printf("CRITICAL: failed to persist strategy state after withdrawal settlement %s: %v", transferID, err)
		return fmt.Errorf("failed to persist strategy state: %w", err)
	}

	if err := s.repo.CreditLedger(ctx, domain.PrincipalManager, amountReturned); err != nil {
		log.Printf("CRITICAL: failed to credit manager float for settled withdrawal %s amount=%d: %v", transferID, amountReturned, err)
		return fmt.Errorf("failed to credit manager float: %w", err)
	}

	s.publish(ctx, domain.RoutingKeyWithdrawalCompleted, domain.WithdrawalCompletedEvent{
		EventID:    uuid.New(),
		TransferID: transferID,
		Amount:     amountReturned,
		Timestamp:  now,
	})
	log.Printf("level=info component=controller op=receive_withdrawal transfer_id=%s requested=%d returned=%d keeper_id=%s", transferID, rec.Amount, amountReturned, keeperID)

	return nil
}

// UpdateRemoteValue is the keeper's periodic mark-to-market report. It is the
// only way yield accrued on the remote domain becomes visible without a
// withdrawal.
func (s *Service) UpdateRemoteValue(ctx context.Context, keeperID string, value int64) error {
	if err := s.authorizeKeeper(ctx, keeperID); err != nil {
		return err
	}
	if value < 0 {
		return domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load strategy state: %w", err)
	}

	now := s.now().UTC()
	oldValue := state.LastReportedValue
	state.LastReportedValue = value
	state.LastValueUpdate = now
	if err := s.repo.SaveStrategyState(ctx, state); err != nil {
		return fmt.Errorf("failed to persist strategy state: %w", err)
	}

	s.publish(ctx, domain.RoutingKeyRemoteValueUpdated, domain.RemoteValueUpdatedEvent{
		EventID:   uuid.New(),
		OldValue:  oldValue,
		NewValue:  value,
		Timestamp: now,
	})
	log.Printf("level=info component=controller op=update_remote_value old=%d new=%d keeper_id=%s", oldValue, value, keeperID)

	return nil
}

// TotalValue returns the optimistic valuation: last reported value plus
// pending deposits minus pending withdrawals, clamped at zero.
func (s *Service) TotalValue(ctx context.Context) (int64, error) {
	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return 0, err
	}
	return state.TotalValue(), nil
}

// YieldEarned returns value accrued beyond deployed principal.
func (s *Service) YieldEarned(ctx context.Context) (int64, error) {
	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return 0, err
	}
	return state.YieldEarned(), nil
}

// IsValueStale reports whether the last remote valuation has exceeded the
// configured staleness threshold.
func (s *Service) IsValueStale(ctx context.Context) (bool, error) {
	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return false, err
	}
	return state.IsValueStale(s.now().UTC()), nil
}

// StrategyInfo aggregates the strategy's externally visible state, including
// the capability flags the treasury manager plans around.
type StrategyInfo struct {
	Name                    string         `json:"name"`
	AssetID                 domain.AssetID `json:"asset_id"`
	SupportsInstantWithdraw bool           `json:"supports_instant_withdraw"`
	MaxInstantWithdraw      int64          `json:"max_instant_withdraw"`

	IsActive           bool      `json:"is_active"`
	TotalValue         int64     `json:"total_value"`
	TotalDeposited     int64     `json:"total_deposited"`
	PendingDeposits    int64     `json:"pending_deposits"`
	PendingWithdrawals int64     `json:"pending_withdrawals"`
	LastReportedValue  int64     `json:"last_reported_value"`
	LastValueUpdate    time.Time `json:"last_value_update"`
	YieldEarned        int64     `json:"yield_earned"`
	ValueStale         bool      `json:"value_stale"`
}

// Info returns the aggregated strategy view used by the info endpoint.
func (s *Service) Info(ctx context.Context) (*StrategyInfo, error) {
	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return nil, err
	}
	return &StrategyInfo{
		Name:                    domain.StrategyName,
		AssetID:                 domain.AssetUSDM,
		SupportsInstantWithdraw: s.SupportsInstantWithdraw(),
		MaxInstantWithdraw:      s.MaxInstantWithdraw(),

		IsActive:           state.IsActive,
		TotalValue:         state.TotalValue(),
		TotalDeposited:     state.TotalDeposited,
		PendingDeposits:    state.PendingDeposits,
		PendingWithdrawals: state.PendingWithdrawals,
		LastReportedValue:  state.LastReportedValue,
		LastValueUpdate:    state.LastValueUpdate,
		YieldEarned:        state.YieldEarned(),
		ValueStale:         state.IsValueStale(s.now().UTC()),
	}, nil
}

// ListTransfers returns transfer records for the audit endpoint. Deposits are
// never deleted, so confirmed deposits remain visible here indefinitely.
func (s *Service) ListTransfers(ctx context.Context, opts store.TransferListOptions) ([]domain.TransferRecord, error) {
	return s.repo.ListTransferRecords(ctx, opts)
}

// SetKeeper adds or disables a keeper on the allow list. Owner-only.
func (s *Service) SetKeeper(ctx context.Context, keeperID string, enabled bool) error {
	if len(keeperID) == 0 {
		return domain.ErrEmptyPrincipal
	}
	return s.repo.SetKeeper(ctx, keeperID, enabled)
}

// SetMaxStaleness changes the advisory staleness threshold. Owner-only.
func (s *Service) SetMaxStaleness(ctx context.Context, staleness time.Duration) error {
	if staleness <= 0 {
		return domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return err
	}
	state.MaxValueStaleness = staleness
	return s.repo.SaveStrategyState(ctx, state)
}

// Activate re-enables deposits. Owner-only.
func (s *Service) Activate(ctx context.Context) error {
	return s.setActive(ctx, true)
}

// Deactivate rejects new deposits while keeping the withdrawal paths open
// for recovery. Owner-only.
func (s *Service) Deactivate(ctx context.Context) error {
	return s.setActive(ctx, false)
}

func (s *Service) setActive(ctx context.Context, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return err
	}
	state.IsActive = active
	return s.repo.SaveStrategyState(ctx, state)
}

// EmergencyWithdraw sweeps any stray balance held directly by the controller
// to the owner and deactivates the strategy. It knows nothing about
// remote-side funds: only assets physically present on the home domain move.
func (s *Service) EmergencyWithdraw(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.repo.FindLedgerAccount(ctx, domain.PrincipalController)
	if err != nil && !errors.Is(err, store.ErrLedgerAccountNotFound) {
		return 0, fmt.Errorf("failed to load controller balance: %w", err)
	}

	var swept int64
	if account != nil && account.Balance > 0 {
		swept = account.Balance
		if err := s.repo.TransferLedger(ctx, domain.PrincipalController, domain.PrincipalOwner, swept); err != nil {
			return 0, fmt.Errorf("failed to sweep controller balance: %w", err)
		}
	}

	state, err := s.repo.FindOrCreateStrategyState(ctx)
	if err != nil {
		return swept, err
	}
	state.IsActive = false
	if err := s.repo.SaveStrategyState(ctx, state); err != nil {
		return swept, err
	}

	log.Printf("level=warn component=controller op=emergency_withdraw swept=%d", swept)
	return swept, nil
}

func (s *Service) authorizeKeeper(ctx context.Context, keeperID string) error {
	if len(keeperID) == 0 {
		return domain.ErrOnlyKeeper
	}
	enabled, err := s.repo.IsKeeperEnabled(ctx, keeperID)
	if err != nil {
		return fmt.Errorf("failed to check keeper allow list: %w", err)
	}
	if !enabled {
		return domain.ErrOnlyKeeper
	}
	return nil
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=controller msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
