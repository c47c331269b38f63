package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"databurn/internal/domain"
	"databurn/internal/storage"
)

// StakeStore implements storage.StakeStore using PostgreSQL.
type StakeStore struct {
	pool *Pool
}

// NewStakeStore creates a new StakeStore.
func NewStakeStore(pool *Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StakeStore = (*StakeStore)(nil)

// Insert adds a new stake. Returns ErrDuplicateKey if the stake ID exists.
func (s *StakeStore) Insert(ctx context.Context, r *domain.StakeRecord) error {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: stake amount must be positive", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO stakes (
			stake_id, owner_entity, dlp_id, amount, start_block, end_block, withdrawn
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.OwnerEntity,
		r.DlpID,
		r.Amount.String(),
		r.StartBlock,
		r.EndBlock,
		r.Withdrawn,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert stake: %w", err)
	}
	return nil
}

// GetByID retrieves a stake by its ID. Returns ErrNotFound if not exists.
func (s *StakeStore) GetByID(ctx context.Context, stakeID int64) (*domain.StakeRecord, error) {
	query := `
		SELECT stake_id, owner_entity, dlp_id, amount::text, start_block, end_block, withdrawn
		FROM stakes
		WHERE stake_id = $1
	`

	row := s.pool.QueryRow(ctx, query, stakeID)
	r, err := scanStake(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get stake by id: %w", err)
	}
	return r, nil
}

// GetActiveAt retrieves all stakes active at the given block, ordered by ID.
// Active means started at or before the block, not withdrawn, and either
// still open or ending after the block.
func (s *StakeStore) GetActiveAt(ctx context.Context, block int64) ([]*domain.StakeRecord, error) {
	query := `
		SELECT stake_id, owner_entity, dlp_id, amount::text, start_block, end_block, withdrawn
		FROM stakes
		WHERE withdrawn = FALSE
		  AND start_block <= $1
		  AND (end_block = 0 OR end_block > $1)
		ORDER BY stake_id ASC
	`

	rows, err := s.pool.Query(ctx, query, block)
	if err != nil {
		return nil, fmt.Errorf("get stakes active at block: %w", err)
	}
	defer rows.Close()

	return scanStakes(rows)
}

// GetByDlp retrieves all stakes delegated to a DLP, ordered by ID.
func (s *StakeStore) GetByDlp(ctx context.Context, dlpID int64) ([]*domain.StakeRecord, error) {
	query := `
		SELECT stake_id, owner_entity, dlp_id, amount::text, start_block, end_block, withdrawn
		FROM stakes
		WHERE dlp_id = $1
		ORDER BY stake_id ASC
	`

	rows, err := s.pool.Query(ctx, query, dlpID)
	if err != nil {
		return nil, fmt.Errorf("get stakes by dlp: %w", err)
	}
	defer rows.Close()

	return scanStakes(rows)
}

// Close sets the stake's end block.
func (s *StakeStore) Close(ctx context.Context, stakeID, endBlock int64) error {
	query := `UPDATE stakes SET end_block = $2 WHERE stake_id = $1`

	tag, err := s.pool.Exec(ctx, query, stakeID, endBlock)
	if err != nil {
		return fmt.Errorf("close stake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkWithdrawn flags the stake as withdrawn.
func (s *StakeStore) MarkWithdrawn(ctx context.Context, stakeID int64) error {
	query := `UPDATE stakes SET withdrawn = TRUE WHERE stake_id = $1`

	tag, err := s.pool.Exec(ctx, query, stakeID)
	if err != nil {
		return fmt.Errorf("mark stake withdrawn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanStake scans a single row into a StakeRecord.
func scanStake(row pgx.Row) (*domain.StakeRecord, error) {
	var r domain.StakeRecord
	var amountStr string

	err := row.Scan(
		&r.ID,
		&r.OwnerEntity,
		&r.DlpID,
		&amountStr,
		&r.StartBlock,
		&r.EndBlock,
		&r.Withdrawn,
	)
	if err != nil {
		return nil, err
	}

	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, fmt.Errorf("parse stake amount %q", amountStr)
	}
	r.Amount = amount
	return &r, nil
}

// scanStakes scans multiple rows into a slice of StakeRecord.
func scanStakes(rows pgx.Rows) ([]*domain.StakeRecord, error) {
	var stakes []*domain.StakeRecord

	for rows.Next() {
		var r domain.StakeRecord
		var amountStr string

		err := rows.Scan(
			&r.ID,
			&r.OwnerEntity,
			&r.DlpID,
			&amountStr,
			&r.StartBlock,
			&r.EndBlock,
			&r.Withdrawn,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stake row: %w", err)
		}

		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return nil, fmt.Errorf("parse stake amount %q", amountStr)
		}
		r.Amount = amount
		stakes = append(stakes, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stake rows: %w", err)
	}

	return stakes, nil
}
