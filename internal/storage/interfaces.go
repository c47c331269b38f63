package storage

import (
	"context"

	"databurn/internal/domain"
)

// EpochStore provides access to epochs storage.
type EpochStore interface {
	// Insert adds a new epoch. Returns ErrDuplicateKey if the epoch ID exists.
	Insert(ctx context.Context, e *domain.Epoch) error

	// GetByID retrieves an epoch by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, epochID int64) (*domain.Epoch, error)

	// GetLatest retrieves the epoch with the highest ID. Returns ErrNotFound
	// when no epochs exist.
	GetLatest(ctx context.Context) (*domain.Epoch, error)

	// Finalize records the total reward amount and marks the epoch finalized.
	// Returns ErrAlreadyFinalized on a second attempt and ErrNotFound if the
	// epoch does not exist.
	Finalize(ctx context.Context, epochID int64, totalReward string) error
}

// StakeStore provides access to stakes storage.
type StakeStore interface {
	// Insert adds a new stake. Returns ErrDuplicateKey if the stake ID exists.
	Insert(ctx context.Context, s *domain.StakeRecord) error

	// GetByID retrieves a stake by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, stakeID int64) (*domain.StakeRecord, error)

	// GetActiveAt retrieves all stakes active at the given block, ordered by ID.
	GetActiveAt(ctx context.Context, block int64) ([]*domain.StakeRecord, error)

	// GetByDlp retrieves all stakes delegated to a DLP, ordered by ID.
	GetByDlp(ctx context.Context, dlpID int64) ([]*domain.StakeRecord, error)

	// Close sets the stake's end block. Returns ErrNotFound if the stake does
	// not exist.
	Close(ctx context.Context, stakeID, endBlock int64) error

	// MarkWithdrawn flags the stake as withdrawn. Returns ErrNotFound if the
	// stake does not exist.
	MarkWithdrawn(ctx context.Context, stakeID int64) error
}

// DlpScoreStore provides access to per-epoch DLP score storage.
type DlpScoreStore interface {
	// InsertBulk adds the scores for one epoch atomically. Fails the entire
	// batch on any duplicate (epoch_id, dlp_id).
	InsertBulk(ctx context.Context, scores []*domain.DlpEpochScore) error

	// GetByEpoch retrieves all scores for an epoch, ordered by score DESC
	// then dlp_id ASC.
	GetByEpoch(ctx context.Context, epochID int64) ([]*domain.DlpEpochScore, error)

	// Override replaces the stored score for an existing (epoch_id, dlp_id)
	// row. Returns ErrNotFound when no such row exists. Scores are otherwise
	// write-once; this is the admin correction path.
	Override(ctx context.Context, score *domain.DlpEpochScore) error
}

// EntityAccountStore provides durable snapshots of entity treasury balances.
type EntityAccountStore interface {
	// Upsert writes the account snapshot, replacing any previous row.
	Upsert(ctx context.Context, a *domain.EntityAccount) error

	// GetByEntityID retrieves a snapshot. Returns ErrNotFound if not exists.
	GetByEntityID(ctx context.Context, entityID int64) (*domain.EntityAccount, error)

	// GetAll retrieves all snapshots ordered by entity ID.
	GetAll(ctx context.Context) ([]*domain.EntityAccount, error)
}
