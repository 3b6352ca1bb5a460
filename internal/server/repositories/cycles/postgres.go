package cycles

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

func (r *PostgresRepository) InFlightForUpdate(ctx context.Context, tontineID string) (*models.Cycle, error) {
	query :=
		`SELECT id, tontine_id, cycle_number, total_pool, commission_total, next_distribution_date, status, created_at, updated_at
		 FROM tontine_cycles
		 WHERE tontine_id = $1 AND status IN ('PENDING', 'ACTIVE')
		 FOR UPDATE`

	c := &models.Cycle{}
	var status string
	err := r.db.QueryRowContext(ctx, query, tontineID).Scan(
		&c.ID, &c.TontineID, &c.CycleNumber, &c.TotalPool, &c.CommissionTotal,
		&c.NextDistributionDate, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Status = models.CycleStatus(status)
	return c, nil
}

func (r *PostgresRepository) LastNumber(ctx context.Context, tontineID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(cycle_number), 0) FROM tontine_cycles WHERE tontine_id = $1`, tontineID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Cycle) error {
	query :=
		`INSERT INTO tontine_cycles (id, tontine_id, cycle_number, total_pool, commission_total, next_distribution_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.TontineID, c.CycleNumber, c.TotalPool.StringFixed(2), c.CommissionTotal.StringFixed(2),
		c.NextDistributionDate, string(c.Status),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: cycle already in flight", common.ErrConflict)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, c *models.Cycle) error {
	query :=
		`UPDATE tontine_cycles
		 SET total_pool = $2, commission_total = $3, next_distribution_date = $4, status = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.TotalPool.StringFixed(2), c.CommissionTotal.StringFixed(2), c.NextDistributionDate, string(c.Status),
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
