// Package withdrawals persists withdraw requests whose execution is decided
// by unanimous vote.
package withdrawals

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

const selectRequest = `SELECT id, tontine_id, requested_by, amount, status, created_at, updated_at
	FROM tontine_withdraw_requests`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*models.WithdrawRequest, error) {
	w := &models.WithdrawRequest{}
	var status string
	if err := s.Scan(&w.ID, &w.TontineID, &w.RequestedBy, &w.Amount, &status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Status = models.WithdrawStatus(status)
	return w, nil
}

func (r *PostgresRepository) Create(ctx context.Context, w *models.WithdrawRequest) error {
	query :=
		`INSERT INTO tontine_withdraw_requests (id, tontine_id, requested_by, amount, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, w.ID, w.TontineID, w.RequestedBy, w.Amount.StringFixed(2), string(w.Status)).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.WithdrawRequest, error) {
	return r.getOne(ctx, selectRequest+` WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.WithdrawRequest, error) {
	return r.getOne(ctx, selectRequest+` WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, id string) (*models.WithdrawRequest, error) {
	w, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return w, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.WithdrawStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tontine_withdraw_requests SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, tontineID string, limit int) ([]*models.WithdrawRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		selectRequest+` WHERE tontine_id = $1 ORDER BY created_at DESC, id LIMIT $2`, tontineID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select withdraw requests: %w", err)
	}
	defer rows.Close()

	var list []*models.WithdrawRequest
	for rows.Next() {
		w, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
