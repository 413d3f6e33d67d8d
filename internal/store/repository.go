/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all home-domain data access performed by the strategy controller. By
 * defining an interface, the engine's state machine stays decoupled from the
 * PostgreSQL implementation and can be exercised in tests with in-memory
 * stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/vaultra/treasury-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Strategy state (singleton row; created with defaults on first read)
	FindOrCreateStrategyState(ctx context.Context) (*domain.StrategyState, error)
	SaveStrategyState(ctx context.Context, state *domain.StrategyState) error

	// Transfer records
	CreateTransferRecord(ctx context.Context, rec *domain.TransferRecord) error
	FindTransferByID(ctx context.Context, id domain.TransferID) (*domain.TransferRecord, error)
	// ConfirmTransferDeployed performs the Pending -> Deployed transition and
	// persists the updated strategy state in one transaction, so a failure
	// can never leave the record deployed with stale counters.
	ConfirmTransferDeployed(ctx context.Context, id domain.TransferID, state *domain.StrategyState) error
	DeleteTransferRecord(ctx context.Context, id domain.TransferID) error
	ListTransferRecords(ctx context.Context, opts TransferListOptions) ([]domain.TransferRecord, error)

	// Home-domain ledger (manager float, controller stray balance, owner)
	FindLedgerAccount(ctx context.Context, principal string) (*domain.LedgerAccount, error)
	DebitLedger(ctx context.Context, principal string, amount int64) error
	CreditLedger(ctx context.Context, principal string, amount int64) error
	TransferLedger(ctx context.Context, fromPrincipal, toPrincipal string, amount int64) error

	// Keeper registry (admin-managed allow list)
	SetKeeper(ctx context.Context, keeperID string, enabled bool) error
	IsKeeperEnabled(ctx context.Context, keeperID string) (bool, error)
}

// TransferListOptions controls filtering and pagination for audit listings.
type TransferListOptions struct {
	Kind   string
	State  string
	Limit  int
	Offset int
}
