// Package accounts persists ledger accounts. Ids are derived by the caller,
// so creation is an idempotent insert.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectAccount = `SELECT id, user_id, owner_key, currency, created_at FROM accounts`

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectAccount+` WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByOwner(ctx context.Context, userID, currency string) (*models.Account, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectAccount+` WHERE user_id = $1 AND currency = $2`, userID, currency))
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (bool, error) {
	query :=
		`INSERT INTO accounts (id, user_id, owner_key, currency)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, account.ID, account.UserID, account.OwnerKey, account.Currency)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	if err := row.Scan(&a.ID, &a.UserID, &a.OwnerKey, &a.Currency, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}
