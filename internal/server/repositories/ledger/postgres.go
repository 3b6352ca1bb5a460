// Package ledger persists immutable ledger entries. There is no
// update or delete statement here; balances are always aggregated.
package ledger

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/shopspring/decimal"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.LedgerEntry) error {
	query :=
		`INSERT INTO ledger_entries (id, account_id, amount, direction, reference)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.AccountID, e.Amount.StringFixed(2), string(e.Direction), e.Reference).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	query :=
		`SELECT COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries
		 WHERE account_id = $1`

	var balance decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("db error: %w", err)
	}
	return balance, nil
}

func (r *PostgresRepository) ByReference(ctx context.Context, reference string) ([]*models.LedgerEntry, error) {
	query :=
		`SELECT id, account_id, amount, direction, reference, created_at
		 FROM ledger_entries
		 WHERE reference = $1
		 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*models.LedgerEntry
	for rows.Next() {
		var (
			e         models.LedgerEntry
			direction string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &direction, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Direction = models.Direction(direction)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
