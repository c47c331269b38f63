package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"databurn/internal/domain"
	"databurn/internal/storage"
)

// EntityAccountStore implements storage.EntityAccountStore using PostgreSQL.
// Rows are snapshots: Upsert replaces the previous state wholesale.
type EntityAccountStore struct {
	pool *Pool
}

// NewEntityAccountStore creates a new EntityAccountStore.
func NewEntityAccountStore(pool *Pool) *EntityAccountStore {
	return &EntityAccountStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EntityAccountStore = (*EntityAccountStore)(nil)

// Upsert writes the account snapshot, replacing any previous row.
func (s *EntityAccountStore) Upsert(ctx context.Context, a *domain.EntityAccount) error {
	query := `
		INSERT INTO entity_accounts (entity_id, usdc_balance, vana_balance, liquidity_contribution)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id) DO UPDATE SET
			usdc_balance = EXCLUDED.usdc_balance,
			vana_balance = EXCLUDED.vana_balance,
			liquidity_contribution = EXCLUDED.liquidity_contribution
	`

	_, err := s.pool.Exec(ctx, query,
		a.EntityID,
		amountString(a.USDCBalance),
		amountString(a.VANABalance),
		amountString(a.LiquidityContribution),
	)
	if err != nil {
		return fmt.Errorf("upsert entity account: %w", err)
	}
	return nil
}

// GetByEntityID retrieves a snapshot. Returns ErrNotFound if not exists.
func (s *EntityAccountStore) GetByEntityID(ctx context.Context, entityID int64) (*domain.EntityAccount, error) {
	query := `
		SELECT entity_id, usdc_balance::text, vana_balance::text, liquidity_contribution::text
		FROM entity_accounts
		WHERE entity_id = $1
	`

	row := s.pool.QueryRow(ctx, query, entityID)
	a, err := scanEntityAccount(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get entity account: %w", err)
	}
	return a, nil
}

// GetAll retrieves all snapshots ordered by entity ID.
func (s *EntityAccountStore) GetAll(ctx context.Context) ([]*domain.EntityAccount, error) {
	query := `
		SELECT entity_id, usdc_balance::text, vana_balance::text, liquidity_contribution::text
		FROM entity_accounts
		ORDER BY entity_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all entity accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.EntityAccount
	for rows.Next() {
		a, err := scanEntityAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity account rows: %w", err)
	}
	return accounts, nil
}

func amountString(a *big.Int) string {
	if a == nil {
		return "0"
	}
	return a.String()
}

func scanEntityAccount(row pgx.Row) (*domain.EntityAccount, error) {
	var a domain.EntityAccount
	var usdcStr, vanaStr, contribStr string

	if err := row.Scan(&a.EntityID, &usdcStr, &vanaStr, &contribStr); err != nil {
		return nil, err
	}

	var ok bool
	if a.USDCBalance, ok = new(big.Int).SetString(usdcStr, 10); !ok {
		return nil, fmt.Errorf("parse usdc_balance %q", usdcStr)
	}
	if a.VANABalance, ok = new(big.Int).SetString(vanaStr, 10); !ok {
		return nil, fmt.Errorf("parse vana_balance %q", vanaStr)
	}
	if a.LiquidityContribution, ok = new(big.Int).SetString(contribStr, 10); !ok {
		return nil, fmt.Errorf("parse liquidity_contribution %q", contribStr)
	}
	return &a, nil
}
