/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains the SQL queries for the strategy state singleton,
 * transfer records, the home-domain ledger accounts, and the keeper allow
 * list.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vaultra/treasury-service/internal/domain"
)

var (
	ErrLedgerAccountNotFound = errors.New("ledger account not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrKeeperNotFound        = errors.New("keeper not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindOrCreateStrategyState loads the singleton strategy row, inserting an
// active default row on first use.
func (r *PostgresRepository) FindOrCreateStrategyState(ctx context.Context) (*domain.StrategyState, error) {
	query := `
		INSERT INTO strategy_state (id, is_active, total_deposited, pending_deposits, pending_withdrawals,
			last_reported_value, last_value_update, max_value_staleness_seconds, updated_at)
		VALUES (1, TRUE, 0, 0, 0, 0, now(), $1, now())
		ON CONFLICT (id) DO UPDATE SET id = strategy_state.id
		RETURNING is_active, total_deposited, pending_deposits, pending_withdrawals,
			last_reported_value, last_value_update, max_value_staleness_seconds, updated_at
	`
	var state domain.StrategyState
	var stalenessSeconds int64
	err := r.db.QueryRow(ctx, query, int64(domain.DefaultMaxValueStaleness/time.Second)).Scan(
		&state.IsActive,
		&state.TotalDeposited,
		&state.PendingDeposits,
		&state.PendingWithdrawals,
		&state.LastReportedValue,
		&state.LastValueUpdate,
		&stalenessSeconds,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	state.MaxValueStaleness = time.Duration(stalenessSeconds) * time.Second
	return &state, nil
}

// SaveStrategyState persists the full singleton row.
func (r *PostgresRepository) SaveStrategyState(ctx context.Context, state *domain.StrategyState) error {
	query := `
		UPDATE strategy_state
		SET is_active = $1,
			total_deposited = $2,
			pending_deposits = $3,
			pending_withdrawals = $4,
			last_reported_value = $5,
			last_value_update = $6,
			max_value_staleness_seconds = $7,
			updated_at = now()
		WHERE id = 1
	`
	_, err := r.db.Exec(ctx, query,
		state.IsActive,
		state.TotalDeposited,
		state.PendingDeposits,
		state.PendingWithdrawals,
		state.LastReportedValue,
		state.LastValueUpdate,
		int64(state.MaxValueStaleness/time.Second),
	)
	return err
}

// CreateTransferRecord inserts a new pending transfer record.
func (r *PostgresRepository) CreateTransferRecord(ctx context.Context, rec *domain.TransferRecord) error {
	query := `
		INSERT INTO transfer_records (transfer_id, kind, state, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	_, err := r.db.Exec(ctx, query, string(rec.TransferID), string(rec.Kind), string(rec.State), rec.Amount, rec.CreatedAt)
	return err
}

// FindTransferByID retrieves a transfer record by its bridge identifier.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, id domain.TransferID) (*domain.TransferRecord, error) {
	var rec domain.TransferRecord
	query := `SELECT transfer_id, kind, state, amount, created_at, updated_at FROM transfer_records WHERE transfer_id = $1`
	err := r.db.QueryRow(ctx, query, string(id)).Scan(&rec.TransferID, &rec.Kind, &rec.State, &rec.Amount, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrTransferNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ConfirmTransferDeployed performs the Pending -> Deployed transition and
// saves the strategy state in one transaction. The WHERE clause enforces the
// prior record state so a replayed call rolls back without touching the
// counters.
func (r *PostgresRepository) ConfirmTransferDeployed(ctx context.Context, id domain.TransferID, state *domain.StrategyState) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE transfer_records SET state = $1, updated_at = now() WHERE transfer_id = $2 AND state = $3`,
		string(domain.TransferStateDeployed), string(id), string(domain.TransferStatePending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransferNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE strategy_state
		SET is_active = $1,
			total_deposited = $2,
			pending_deposits = $3,
			pending_withdrawals = $4,
			last_reported_value = $5,
			last_value_update = $6,
			max_value_staleness_seconds = $7,
			updated_at = now()
		WHERE id = 1
	`,
		state.IsActive,
		state.TotalDeposited,
		state.PendingDeposits,
		state.PendingWithdrawals,
		state.LastReportedValue,
		state.LastValueUpdate,
		int64(state.MaxValueStaleness/time.Second),
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteTransferRecord removes a record outright. Used for completed
// withdrawals, whose only purpose is replay prevention while pending.
func (r *PostgresRepository) DeleteTransferRecord(ctx context.Context, id domain.TransferID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM transfer_records WHERE transfer_id = $1`, string(id))
	return err
}

// ListTransferRecords returns records for the audit endpoint, newest first.
func (r *PostgresRepository) ListTransferRecords(ctx context.Context, opts TransferListOptions) ([]domain.TransferRecord, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT transfer_id, kind, state, amount, created_at, updated_at
		FROM transfer_records
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, opts.Kind, opts.State, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransferRecord
	for rows.Next() {
		var rec domain.TransferRecord
		if err := rows.Scan(&rec.TransferID, &rec.Kind, &rec.State, &rec.Amount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindLedgerAccount retrieves a home-domain float account by principal.
func (r *PostgresRepository) FindLedgerAccount(ctx context.Context, principal string) (*domain.LedgerAccount, error) {
	var account domain.LedgerAccount
	query := `SELECT principal, balance FROM ledger_accounts WHERE principal = $1`
	err := r.db.QueryRow(ctx, query, principal).Scan(&account.Principal, &account.Balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLedgerAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DebitLedger atomically reduces a principal's balance, refusing to go
// negative.
func (r *PostgresRepository) DebitLedger(ctx context.Context, principal string, amount int64) error {
	query := `UPDATE ledger_accounts SET balance = balance - $1 WHERE principal = $2 AND balance >= $1`
	tag, err := r.db.Exec(ctx, query, amount, principal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// CreditLedger increases a principal's balance, creating the row on first use.
func (r *PostgresRepository) CreditLedger(ctx context.Context, principal string, amount int64) error {
	query := `
		INSERT INTO ledger_accounts (principal, balance) VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance
	`
	_, err := r.db.Exec(ctx, query, principal, amount)
	return err
}

// TransferLedger moves value between two principals in one transaction.
func (r *PostgresRepository) TransferLedger(ctx context.Context, fromPrincipal, toPrincipal string, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE ledger_accounts SET balance = balance - $1 WHERE principal = $2 AND balance >= $1`, amount, fromPrincipal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_accounts (principal, balance) VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance
	`, toPrincipal, amount)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetKeeper upserts a keeper's enabled flag on the allow list.
func (r *PostgresRepository) SetKeeper(ctx context.Context, keeperID string, enabled bool) error {
	query := `
		INSERT INTO keepers (keeper_id, enabled, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (keeper_id) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()
	`
	_, err := r.db.Exec(ctx, query, keeperID, enabled)
	return err
}

// IsKeeperEnabled reports whether a keeper id is on the allow list and
// enabled. Unknown keepers are simply disabled.
func (r *PostgresRepository) IsKeeperEnabled(ctx context.Context, keeperID string) (bool, error) {
	var enabled bool
	err := r.db.QueryRow(ctx, `SELECT enabled FROM keepers WHERE keeper_id = $1`, keeperID).Scan(&enabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return enabled, nil
}
