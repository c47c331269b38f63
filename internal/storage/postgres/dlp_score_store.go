package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"databurn/internal/domain"
	"databurn/internal/storage"
)

// DlpScoreStore implements storage.DlpScoreStore using PostgreSQL.
type DlpScoreStore struct {
	pool *Pool
}

// NewDlpScoreStore creates a new DlpScoreStore.
func NewDlpScoreStore(pool *Pool) *DlpScoreStore {
	return &DlpScoreStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DlpScoreStore = (*DlpScoreStore)(nil)

// InsertBulk adds the scores for one epoch atomically. Fails the entire
// batch on any duplicate (epoch_id, dlp_id).
func (s *DlpScoreStore) InsertBulk(ctx context.Context, scores []*domain.DlpEpochScore) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert scores: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO dlp_epoch_scores (epoch_id, dlp_id, total_stake_score)
		VALUES ($1, $2, $3)
	`
	for _, sc := range scores {
		score := "0"
		if sc.TotalStakeScore != nil {
			score = sc.TotalStakeScore.String()
		}
		if _, err := tx.Exec(ctx, query, sc.EpochID, sc.DlpID, score); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert dlp score: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert scores: %w", err)
	}
	return nil
}

// Override replaces the stored score for an existing (epoch_id, dlp_id) row.
func (s *DlpScoreStore) Override(ctx context.Context, sc *domain.DlpEpochScore) error {
	score := "0"
	if sc.TotalStakeScore != nil {
		score = sc.TotalStakeScore.String()
	}

	query := `
		UPDATE dlp_epoch_scores
		SET total_stake_score = $3
		WHERE epoch_id = $1 AND dlp_id = $2
	`
	tag, err := s.pool.Exec(ctx, query, sc.EpochID, sc.DlpID, score)
	if err != nil {
		return fmt.Errorf("override dlp score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByEpoch retrieves all scores for an epoch, ordered by score DESC then
// dlp_id ASC.
func (s *DlpScoreStore) GetByEpoch(ctx context.Context, epochID int64) ([]*domain.DlpEpochScore, error) {
	query := `
		SELECT epoch_id, dlp_id, total_stake_score::text
		FROM dlp_epoch_scores
		WHERE epoch_id = $1
		ORDER BY total_stake_score DESC, dlp_id ASC
	`

	rows, err := s.pool.Query(ctx, query, epochID)
	if err != nil {
		return nil, fmt.Errorf("get scores by epoch: %w", err)
	}
	defer rows.Close()

	return scanDlpScores(rows)
}

// scanDlpScores scans multiple rows into a slice of DlpEpochScore.
func scanDlpScores(rows pgx.Rows) ([]*domain.DlpEpochScore, error) {
	var scores []*domain.DlpEpochScore

	for rows.Next() {
		var sc domain.DlpEpochScore
		var scoreStr string

		if err := rows.Scan(&sc.EpochID, &sc.DlpID, &scoreStr); err != nil {
			return nil, fmt.Errorf("scan dlp score row: %w", err)
		}

		score, ok := new(big.Int).SetString(scoreStr, 10)
		if !ok {
			return nil, fmt.Errorf("parse total_stake_score %q", scoreStr)
		}
		sc.TotalStakeScore = score
		scores = append(scores, &sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dlp score rows: %w", err)
	}

	return scores, nil
}
