// Package groups persists tontine groups.
package groups

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

const selectGroup = `SELECT id, name, contribution_amount, currency, frequency_type, max_members,
	security_code_hash, status, signature_hash, created_by, created_at
	FROM tontine_groups WHERE id = $1`

func (r *PostgresRepository) Create(ctx context.Context, g *models.Group) error {
	query :=
		`INSERT INTO tontine_groups
		 (id, name, contribution_amount, currency, frequency_type, max_members, security_code_hash, status, signature_hash, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		g.ID, g.Name, g.ContributionAmount.StringFixed(2), g.Currency, g.FrequencyType, g.MaxMembers,
		g.SecurityCodeHash, string(g.Status), g.SignatureHash, g.CreatedBy,
	).Scan(&g.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Group, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectGroup, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Group, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectGroup+` FOR UPDATE`, id))
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.GroupStatus) error {
	return r.exec(ctx, `UPDATE tontine_groups SET status = $2 WHERE id = $1`, id, string(status))
}

func (r *PostgresRepository) UpdateSchedule(ctx context.Context, id, frequency, signatureHash string) error {
	return r.exec(ctx, `UPDATE tontine_groups SET frequency_type = $2, signature_hash = $3 WHERE id = $1`,
		id, frequency, signatureHash)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Group, error) {
	g := &models.Group{}
	var status string
	err := row.Scan(&g.ID, &g.Name, &g.ContributionAmount, &g.Currency, &g.FrequencyType, &g.MaxMembers,
		&g.SecurityCodeHash, &status, &g.SignatureHash, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	g.Status = models.GroupStatus(status)
	return g, nil
}
