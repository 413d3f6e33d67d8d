/**
 * @description
 * This file defines the core domain models for the treasury-service.
 * These structs represent the settlement engine's entities: the per-transfer
 * record that tracks one in-flight cross-domain operation, the singleton
 * strategy state kept on the home domain, and the remote position held by
 * the agent on the execution domain.
 *
 * @notes
 * - Amounts are stored as `int64` in the asset's smallest unit (micro-units
 *   for the 6-decimal USD-stable asset), which avoids floating-point
 *   inaccuracies with financial data. All arithmetic that could underflow is
 *   clamped at zero rather than allowed to go negative.
 * - TransferID is a distinct string type over the bridge provider's
 *   hex-encoded 256-bit identifier so record lookups cannot accidentally mix
 *   transfer ids with other identifiers.
 */

package domain

import (
	"time"
)

// AssetID identifies the settled asset. The strategy only manages one.
type AssetID string

// AssetUSDM is the 6-decimal USD-stable asset this strategy settles.
const AssetUSDM AssetID = "usdm"

// StrategyName is the stable name reported to the treasury manager.
const StrategyName = "remote-yield"

// TransferID is the opaque identifier a bridge provider returns when a
// cross-domain transfer is initiated. It is a hex-encoded 256-bit value and
// correlates with exactly one later delivery.
type TransferID string

// TransferKind distinguishes the two directions a transfer can move in.
type TransferKind string

const (
	TransferKindDeposit    TransferKind = "deposit"
	TransferKindWithdrawal TransferKind = "withdrawal"
)

// TransferState is the lifecycle state of a transfer record.
//
// An id the engine has never materialized is in StateNone; it is never stored.
// Pending -> Deployed is the only legal transition and Deployed is terminal.
// Completed withdrawal records are deleted outright, so a deleted withdrawal
// and an unknown id are both reported as not found.
type TransferState string

const (
	TransferStateNone     TransferState = "none"
	TransferStatePending  TransferState = "pending"
	TransferStateDeployed TransferState = "deployed"
)

// TransferRecord tracks one in-flight (or, for deposits, completed)
// cross-domain operation. Deposits are retained after confirmation for audit;
// withdrawal records exist only to prevent replays during their pending
// window and are removed once funds come home.
type TransferRecord struct {
	TransferID TransferID    `json:"transfer_id"`
	Kind       TransferKind  `json:"kind"`
	State      TransferState `json:"state"`
	Amount     int64         `json:"amount"` // micro-units
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// StrategyState is the singleton home-domain view of the deployed strategy.
type StrategyState struct {
	IsActive           bool          `json:"is_active"`
	TotalDeposited     int64         `json:"total_deposited"`     // principal sent minus principal returned
	PendingDeposits    int64         `json:"pending_deposits"`    // sum of pending deposit records
	PendingWithdrawals int64         `json:"pending_withdrawals"` // sum of pending withdrawal records
	LastReportedValue  int64         `json:"last_reported_value"` // most recent remote valuation
	LastValueUpdate    time.Time     `json:"last_value_update"`
	MaxValueStaleness  time.Duration `json:"max_value_staleness"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// DefaultMaxValueStaleness applies when no staleness threshold is configured.
const DefaultMaxValueStaleness = time.Hour

// TotalValue returns the optimistic valuation of all capital the strategy is
// responsible for: the last remote report plus deposits still in flight minus
// withdrawals already requested. Clamped at zero, never negative.
func (s StrategyState) TotalValue() int64 {
	total := s.LastReportedValue + s.PendingDeposits - s.PendingWithdrawals
	if total < 0 {
		return 0
	}
	return total
}

// YieldEarned returns the value accrued beyond deployed principal, floored at
// zero while in-flight accounting temporarily lags.
func (s StrategyState) YieldEarned() int64 {
	earned := s.TotalValue() - s.TotalDeposited
	if earned < 0 {
		return 0
	}
	return earned
}

// IsValueStale reports whether the last remote valuation is older than the
// configured threshold at the given instant. Staleness is advisory: it
// affects reporting quality, never fund safety.
func (s StrategyState) IsValueStale(now time.Time) bool {
	staleness := s.MaxValueStaleness
	if staleness <= 0 {
		staleness = DefaultMaxValueStaleness
	}
	return now.Sub(s.LastValueUpdate) > staleness
}

// RemotePosition is the agent's remote-domain bookkeeping: shares held in the
// yield source and principal deposited so far. The asset-equivalent value is
// derived through the yield source's own conversion, never stored.
type RemotePosition struct {
	SharesHeld     int64     `json:"shares_held"`
	TotalDeposited int64     `json:"total_deposited"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProcessedDeposit is the agent's record of one deployed delivery. It is
// written only after the deploy succeeds, and it keeps the deployed amount
// and minted shares so a replayed relay is answered with the original
// figures instead of zeros.
type ProcessedDeposit struct {
	TransferID     TransferID `json:"transfer_id"`
	AmountDeployed int64      `json:"amount_deployed"`
	SharesMinted   int64      `json:"shares_minted"`
	ProcessedAt    time.Time  `json:"processed_at"`
}

// LedgerAccount is a home-domain float account held by the controller
// process: the treasury manager's float, the controller's own (stray)
// balance, and the owner's sweep destination.
type LedgerAccount struct {
	Principal string `json:"principal"`
	Balance   int64  `json:"balance"` // micro-units
}

// Well-known home-domain ledger principals.
const (
	PrincipalManager    = "manager"
	PrincipalController = "controller"
	PrincipalOwner      = "owner"
)
