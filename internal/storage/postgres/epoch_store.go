package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"databurn/internal/domain"
	"databurn/internal/storage"
)

// EpochStore implements storage.EpochStore using PostgreSQL.
// Amounts are stored as NUMERIC(78,0) and scanned through their decimal
// string form.
type EpochStore struct {
	pool *Pool
}

// NewEpochStore creates a new EpochStore.
func NewEpochStore(pool *Pool) *EpochStore {
	return &EpochStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EpochStore = (*EpochStore)(nil)

// Insert adds a new epoch. Returns ErrDuplicateKey if the epoch ID exists.
func (s *EpochStore) Insert(ctx context.Context, e *domain.Epoch) error {
	query := `
		INSERT INTO epochs (
			epoch_id, start_block, end_block, total_reward_amount, finalized, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	reward := "0"
	if e.TotalRewardAmount != nil {
		reward = e.TotalRewardAmount.String()
	}
	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.StartBlock,
		e.EndBlock,
		reward,
		e.Finalized,
		e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert epoch: %w", err)
	}
	return nil
}

// GetByID retrieves an epoch by its ID. Returns ErrNotFound if not exists.
func (s *EpochStore) GetByID(ctx context.Context, epochID int64) (*domain.Epoch, error) {
	query := `
		SELECT epoch_id, start_block, end_block, total_reward_amount::text, finalized, created_at
		FROM epochs
		WHERE epoch_id = $1
	`

	row := s.pool.QueryRow(ctx, query, epochID)
	e, err := scanEpoch(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get epoch by id: %w", err)
	}
	return e, nil
}

// GetLatest retrieves the epoch with the highest ID.
func (s *EpochStore) GetLatest(ctx context.Context) (*domain.Epoch, error) {
	query := `
		SELECT epoch_id, start_block, end_block, total_reward_amount::text, finalized, created_at
		FROM epochs
		ORDER BY epoch_id DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query)
	e, err := scanEpoch(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest epoch: %w", err)
	}
	return e, nil
}

// Finalize records the total reward amount and marks the epoch finalized.
// The guard on finalized = FALSE makes finalization write-once.
func (s *EpochStore) Finalize(ctx context.Context, epochID int64, totalReward string) error {
	query := `
		UPDATE epochs
		SET total_reward_amount = $2, finalized = TRUE
		WHERE epoch_id = $1 AND finalized = FALSE
	`

	tag, err := s.pool.Exec(ctx, query, epochID, totalReward)
	if err != nil {
		return fmt.Errorf("finalize epoch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-finalized.
		if _, err := s.GetByID(ctx, epochID); err != nil {
			return err
		}
		return storage.ErrAlreadyFinalized
	}
	return nil
}

// scanEpoch scans a single row into an Epoch.
func scanEpoch(row pgx.Row) (*domain.Epoch, error) {
	var e domain.Epoch
	var rewardStr string

	err := row.Scan(
		&e.ID,
		&e.StartBlock,
		&e.EndBlock,
		&rewardStr,
		&e.Finalized,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	reward, ok := new(big.Int).SetString(rewardStr, 10)
	if !ok {
		return nil, fmt.Errorf("parse total_reward_amount %q", rewardStr)
	}
	e.TotalRewardAmount = reward
	return &e, nil
}
