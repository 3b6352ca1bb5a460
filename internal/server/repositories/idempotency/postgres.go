package idempotency

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Claim(ctx context.Context, key, ownerID string) (bool, error) {
	query := `INSERT INTO idempotency_keys (key, owner_id) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, key, ownerID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
