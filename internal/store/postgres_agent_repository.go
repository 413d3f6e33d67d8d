/**
 * @description
 * This file provides the PostgreSQL implementation of the agent's repository.
 * It contains the SQL queries for the remote position singleton, the held
 * balance of bridged-but-undeployed funds, and the processed-deposit dedup
 * table.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vaultra/treasury-service/internal/domain"
)

// PostgresAgentRepository is the remote-domain persistence used by the agent.
type PostgresAgentRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAgentRepository creates a new instance of PostgresAgentRepository.
func NewPostgresAgentRepository(db *pgxpool.Pool) *PostgresAgentRepository {
	return &PostgresAgentRepository{db: db}
}

// FindOrCreatePosition loads the singleton position row, inserting the empty
// default on first use.
func (r *PostgresAgentRepository) FindOrCreatePosition(ctx context.Context) (*domain.RemotePosition, error) {
	query := `
		INSERT INTO remote_position (id, shares_held, total_deposited, updated_at)
		VALUES (1, 0, 0, now())
		ON CONFLICT (id) DO UPDATE SET id = remote_position.id
		RETURNING shares_held, total_deposited, updated_at
	`
	var pos domain.RemotePosition
	err := r.db.QueryRow(ctx, query).Scan(&pos.SharesHeld, &pos.TotalDeposited, &pos.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// SavePosition persists the full singleton row.
func (r *PostgresAgentRepository) SavePosition(ctx context.Context, pos *domain.RemotePosition) error {
	query := `
		UPDATE remote_position
		SET shares_held = $1,
			total_deposited = $2,
			updated_at = $3
		WHERE id = 1
	`
	_, err := r.db.Exec(ctx, query, pos.SharesHeld, pos.TotalDeposited, pos.UpdatedAt)
	return err
}

// HeldBalance returns the bridged-but-undeployed balance. The row is created
// lazily by the first credit; absence means zero.
func (r *PostgresAgentRepository) HeldBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE((SELECT balance FROM agent_held_balance WHERE id = 1), 0)`).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// CreditHeld increases the held balance, creating the row on first use.
func (r *PostgresAgentRepository) CreditHeld(ctx context.Context, amount int64) error {
	query := `
		INSERT INTO agent_held_balance (id, balance) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET balance = agent_held_balance.balance + EXCLUDED.balance
	`
	_, err := r.db.Exec(ctx, query, amount)
	return err
}

// DebitHeld atomically reduces the held balance, refusing to go negative.
func (r *PostgresAgentRepository) DebitHeld(ctx context.Context, amount int64) error {
	query := `UPDATE agent_held_balance SET balance = balance - $1 WHERE id = 1 AND balance >= $1`
	tag, err := r.db.Exec(ctx, query, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// FindProcessedDeposit returns the dedup record for a transfer id, or nil
// when the deposit has not been deployed yet.
func (r *PostgresAgentRepository) FindProcessedDeposit(ctx context.Context, id domain.TransferID) (*domain.ProcessedDeposit, error) {
	var rec domain.ProcessedDeposit
	query := `SELECT transfer_id, amount_deployed, shares_minted, processed_at FROM processed_deposits WHERE transfer_id = $1`
	err := r.db.QueryRow(ctx, query, string(id)).Scan(&rec.TransferID, &rec.AmountDeployed, &rec.SharesMinted, &rec.ProcessedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// MarkDepositProcessed records a deployed deposit in the dedup table. Only
// called after a successful deploy; a conflicting insert is ignored because
// the existing row already carries the original figures.
func (r *PostgresAgentRepository) MarkDepositProcessed(ctx context.Context, rec *domain.ProcessedDeposit) error {
	query := `
		INSERT INTO processed_deposits (transfer_id, amount_deployed, shares_minted, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (transfer_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, string(rec.TransferID), rec.AmountDeployed, rec.SharesMinted, rec.ProcessedAt)
	return err
}
