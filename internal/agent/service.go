/**
 * @description
 * This file contains the business logic for the remote agent: the
 * execution-domain half of the settlement engine. The agent receives bridged
 * funds, deploys them into the yield source, and redeems positions back
 * toward the home domain when the keeper relays a withdrawal request.
 *
 * Key features:
 * - Deposit processing deploys the agent's entire held balance, not just the
 *   delivered amount, so dust stranded by earlier partial failures is swept
 *   into the position on the next deposit.
 * - Withdrawal amounts are capped twice: first to the position's current
 *   value, then (after conversion) to the shares actually held. Rounding in
 *   the yield source's share math can otherwise ask for more than exists.
 * - Processed deposit ids are recorded once the deploy succeeds, so a
 *   replayed relay is acknowledged with the originally deployed figures
 *   while a failed attempt stays retryable.
 *
 * @dependencies
 * - context, fmt, log, sync, time: Standard Go libraries.
 * - internal/domain: Domain models.
 */

package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vaultra/treasury-service/internal/domain"
)

// Repository defines the remote-domain persistence the agent needs.
type Repository interface {
	FindOrCreatePosition(ctx context.Context) (*domain.RemotePosition, error)
	SavePosition(ctx context.Context, pos *domain.RemotePosition) error

	// Held balance: bridged funds delivered but not yet deployed.
	HeldBalance(ctx context.Context) (int64, error)
	CreditHeld(ctx context.Context, amount int64) error
	DebitHeld(ctx context.Context, amount int64) error

	// Deposit dedup. FindProcessedDeposit returns nil when the transfer id
	// has not been recorded; the mark is written only after a deploy
	// succeeds, so aborted attempts stay retryable.
	FindProcessedDeposit(ctx context.Context, id domain.TransferID) (*domain.ProcessedDeposit, error)
	MarkDepositProcessed(ctx context.Context, rec *domain.ProcessedDeposit) error
}

// YieldSource defines the conversion and movement operations the agent needs
// from the remote yield venue.
type YieldSource interface {
	Deposit(ctx context.Context, assets int64) (int64, error)
	Redeem(ctx context.Context, shares int64) (int64, error)
	ConvertToShares(ctx context.Context, assets int64) (int64, error)
	ConvertToAssets(ctx context.Context, shares int64) (int64, error)
	ShareBalance(ctx context.Context) (int64, error)
}

// ReturnTransport is the bridge's return leg: moving redeemed assets back to
// the home domain, correlated to the withdrawal request's transfer id.
type ReturnTransport interface {
	ReturnFunds(ctx context.Context, transferID domain.TransferID, amount int64) error
}

// Service provides the remote agent's business logic.
type Service struct {
	mu     sync.Mutex
	repo   Repository
	yield  YieldSource
	bridge ReturnTransport
	now    func() time.Time
}

// NewService creates a new agent service instance.
func NewService(repo Repository, yield YieldSource, bridge ReturnTransport) *Service {
	return &Service{
		repo:   repo,
		yield:  yield,
		bridge: bridge,
		now:    time.Now,
	}
}

// DepositResult reports what a processed deposit actually deployed.
type DepositResult struct {
	TransferID     domain.TransferID `json:"transfer_id"`
	AmountDeployed int64             `json:"amount_deployed"`
	SharesMinted   int64             `json:"shares_minted"`
	AlreadyDone    bool              `json:"already_done"`
}

// ProcessDeposit deploys delivered funds into the yield source. The bridge
// credits the held balance out of band; this call sweeps the whole balance in
// one shot and records the transfer id so replays are acknowledged as no-ops.
func (s *Service) ProcessDeposit(ctx context.Context, transferID domain.TransferID, amount int64) (*DepositResult, error) {
	if len(transferID) == 0 {
		return nil, domain.ErrTransferNotFound
	}
	if amount <= 0 {
		return nil, domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	done, err := s.repo.FindProcessedDeposit(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to check deposit id: %w", err)
	}
	if done != nil {
		log.Printf("level=info component=agent op=process_deposit transfer_id=%s msg=\"already processed\"", transferID)
		return &DepositResult{
			TransferID:     transferID,
			AmountDeployed: done.AmountDeployed,
			SharesMinted:   done.SharesMinted,
			AlreadyDone:    true,
		}, nil
	}

	held, err := s.repo.HeldBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read held balance: %w", err)
	}
	if held <= 0 {
		// The bridge publishes delivery only after funds land, so an unseen
		// id with nothing held means the provider broke ordering. Nothing is
		// recorded, so the delivery stays retryable once funds arrive.
		log.Printf("CRITICAL: delivery relay for transfer %s arrived with no held balance", transferID)
		return nil, fmt.Errorf("no held balance to deploy for transfer %s", transferID)
	}

	shares, err := s.yield.Deposit(ctx, held)
	if err != nil {
		return nil, fmt.Errorf("yield source deposit failed: %w", err)
	}
	if err := s.repo.DebitHeld(ctx, held); err != nil {
		log.Printf("CRITICAL: deployed %d but failed to debit held balance for transfer %s: %v", held, transferID, err)
		return nil, fmt.Errorf("failed to debit held balance: %w", err)
	}

	// The mark is written only after the deploy succeeds, so an aborted
	// attempt never turns the keeper's retry into a false AlreadyDone.
	if err := s.repo.MarkDepositProcessed(ctx, &domain.ProcessedDeposit{
		TransferID:     transferID,
		AmountDeployed: held,
		SharesMinted:   shares,
		ProcessedAt:    s.now().UTC(),
	}); err != nil {
		log.Printf("CRITICAL: deployed %d for transfer %s but failed to record the deposit id: %v", held, transferID, err)
		return nil, fmt.Errorf("failed to record deposit id: %w", err)
	}

	pos, err := s.repo.FindOrCreatePosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	pos.SharesHeld += shares
	pos.TotalDeposited += held
	pos.UpdatedAt = s.now().UTC()
	if err := s.repo.SavePosition(ctx, pos); err != nil {
		log.Printf("CRITICAL: failed to persist position after deploying %d for transfer %s: %v", held, transferID, err)
		return nil, fmt.Errorf("failed to persist position: %w", err)
	}

	log.Printf("level=info component=agent op=process_deposit transfer_id=%s deployed=%d shares=%d", transferID, held, shares)
	return &DepositResult{TransferID: transferID, AmountDeployed: held, SharesMinted: shares}, nil
}

// WithdrawalResult reports what a withdrawal actually returned home.
type WithdrawalResult struct {
	TransferID     domain.TransferID `json:"transfer_id"`
	AmountReturned int64             `json:"amount_returned"`
	SharesBurned   int64             `json:"shares_burned"`
}

// InitiateWithdrawal redeems up to `amount` from the yield source and sends
// the proceeds home over the bridge's return leg, correlated to the
// withdrawal's transfer id. The amount actually returned can be less than
// requested when the position has lost value since the request was made.
func (s *Service) InitiateWithdrawal(ctx context.Context, transferID domain.TransferID, amount int64) (*WithdrawalResult, error) {
	if len(transferID) == 0 {
		return nil, domain.ErrTransferNotFound
	}
	if amount <= 0 {
		return nil, domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdrawLocked(ctx, transferID, amount)
}

// WithdrawAll redeems the entire position toward the home domain.
func (s *Service) WithdrawAll(ctx context.Context, transferID domain.TransferID) (*WithdrawalResult, error) {
	if len(transferID) == 0 {
		return nil, domain.ErrTransferNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.currentValueLocked(ctx)
	if err != nil {
		return nil, err
	}
	if value == 0 {
		return &WithdrawalResult{TransferID: transferID}, nil
	}
	return s.withdrawLocked(ctx, transferID, value)
}

func (s *Service) withdrawLocked(ctx context.Context, transferID domain.TransferID, amount int64) (*WithdrawalResult, error) {
	pos, err := s.repo.FindOrCreatePosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}

	value, err := s.yield.ConvertToAssets(ctx, pos.SharesHeld)
	if err != nil {
		return nil, fmt.Errorf("failed to value position: %w", err)
	}
	// Cap to current value: the home domain requested against an optimistic
	// valuation that may have drifted down.
	if amount > value {
		amount = value
	}
	if amount == 0 {
		return &WithdrawalResult{TransferID: transferID}, nil
	}

	shares, err := s.yield.ConvertToShares(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to convert amount to shares: %w", err)
	}
	// Cap again to what is actually held; share rounding can overshoot.
	if shares > pos.SharesHeld {
		shares = pos.SharesHeld
	}
	if shares == 0 {
		return &WithdrawalResult{TransferID: transferID}, nil
	}

	redeemed, err := s.yield.Redeem(ctx, shares)
	if err != nil {
		return nil, fmt.Errorf("yield source redemption failed: %w", err)
	}

	if err := s.bridge.ReturnFunds(ctx, transferID, redeemed); err != nil {
		// Redeemed assets sit in the agent's held balance until a retry or
		// the next deposit sweeps them.
		if creditErr := s.repo.CreditHeld(ctx, redeemed); creditErr != nil {
			log.Printf("CRITICAL: redeemed %d for transfer %s, return leg failed and held-balance credit failed: %v", redeemed, transferID, creditErr)
		} else {
			log.Printf("level=error component=agent op=initiate_withdrawal transfer_id=%s msg=\"return leg failed, %d parked in held balance\" err=%v", transferID, redeemed, err)
		}
		return nil, fmt.Errorf("bridge return failed: %w", err)
	}

	pos.SharesHeld -= shares
	if pos.SharesHeld < 0 {
		pos.SharesHeld = 0
	}
	if redeemed >= pos.TotalDeposited {
		pos.TotalDeposited = 0
	} else {
		pos.TotalDeposited -= redeemed
	}
	pos.UpdatedAt = s.now().UTC()
	if err := s.repo.SavePosition(ctx, pos); err != nil {
		log.Printf("CRITICAL: failed to persist position after withdrawal %s: %v", transferID, err)
		return nil, fmt.Errorf("failed to persist position: %w", err)
	}

	log.Printf("level=info component=agent op=initiate_withdrawal transfer_id=%s requested=%d returned=%d shares_burned=%d", transferID, amount, redeemed, shares)
	return &WithdrawalResult{TransferID: transferID, AmountReturned: redeemed, SharesBurned: shares}, nil
}

// CurrentValue returns the asset-equivalent value of the agent's position:
// deployed shares valued through the yield source plus any undeployed held
// balance.
func (s *Service) CurrentValue(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentValueLocked(ctx)
}

func (s *Service) currentValueLocked(ctx context.Context) (int64, error) {
	pos, err := s.repo.FindOrCreatePosition(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load position: %w", err)
	}
	deployed, err := s.yield.ConvertToAssets(ctx, pos.SharesHeld)
	if err != nil {
		return 0, fmt.Errorf("failed to value position: %w", err)
	}
	held, err := s.repo.HeldBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read held balance: %w", err)
	}
	return deployed + held, nil
}

// PositionInfo aggregates the agent's externally visible state for the
// keeper's mark-to-market report.
type PositionInfo struct {
	SharesHeld     int64     `json:"shares_held"`
	TotalDeposited int64     `json:"total_deposited"`
	HeldBalance    int64     `json:"held_balance"`
	CurrentValue   int64     `json:"current_value"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Info returns the aggregated position view.
func (s *Service) Info(ctx context.Context) (*PositionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.repo.FindOrCreatePosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	deployed, err := s.yield.ConvertToAssets(ctx, pos.SharesHeld)
	if err != nil {
		return nil, fmt.Errorf("failed to value position: %w", err)
	}
	held, err := s.repo.HeldBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read held balance: %w", err)
	}
	return &PositionInfo{
		SharesHeld:     pos.SharesHeld,
		TotalDeposited: pos.TotalDeposited,
		HeldBalance:    held,
		CurrentValue:   deployed + held,
		UpdatedAt:      pos.UpdatedAt,
	}, nil
}

// EmergencyWithdraw redeems the entire share position into the agent's held
// balance without touching the bridge. Funds stay on the remote domain under
// the agent's control until an operator decides how to repatriate them.
func (s *Service) EmergencyWithdraw(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.repo.FindOrCreatePosition(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load position: %w", err)
	}
	if pos.SharesHeld == 0 {
		return 0, nil
	}

	redeemed, err := s.yield.Redeem(ctx, pos.SharesHeld)
	if err != nil {
		return 0, fmt.Errorf("yield source redemption failed: %w", err)
	}
	if err := s.repo.CreditHeld(ctx, redeemed); err != nil {
		log.Printf("CRITICAL: emergency redemption of %d succeeded but held-balance credit failed: %v", redeemed, err)
		return 0, fmt.Errorf("failed to credit held balance: %w", err)
	}

	pos.SharesHeld = 0
	pos.UpdatedAt = s.now().UTC()
	if err := s.repo.SavePosition(ctx, pos); err != nil {
		return redeemed, fmt.Errorf("failed to persist position: %w", err)
	}

	log.Printf("level=warn component=agent op=emergency_withdraw redeemed=%d", redeemed)
	return redeemed, nil
}

// ReceiveBridgedFunds credits a bridge delivery into the held balance. The
// bridge provider's webhook (or the keeper relay) calls this before
// ProcessDeposit deploys the funds.
func (s *Service) ReceiveBridgedFunds(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return domain.ErrZeroAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.CreditHeld(ctx, amount)
}
