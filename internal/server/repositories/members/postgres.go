package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/common"
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

func (r *PostgresRepository) Add(ctx context.Context, m *models.Member) error {
	query :=
		`INSERT INTO tontine_members (id, tontine_id, user_id, reputation_score)
		 VALUES ($1, $2, $3, $4)
		 RETURNING joined_at`

	err := r.db.QueryRowContext(ctx, query, m.ID, m.TontineID, m.UserID, m.ReputationScore.StringFixed(2)).Scan(&m.JoinedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyMember
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, tontineID, userID string) (*models.Member, error) {
	query :=
		`SELECT id, tontine_id, user_id, reputation_score, joined_at
		 FROM tontine_members
		 WHERE tontine_id = $1 AND user_id = $2`

	m := &models.Member{}
	err := r.db.QueryRowContext(ctx, query, tontineID, userID).
		Scan(&m.ID, &m.TontineID, &m.UserID, &m.ReputationScore, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) List(ctx context.Context, tontineID string) ([]*models.Member, error) {
	query :=
		`SELECT id, tontine_id, user_id, reputation_score, joined_at
		 FROM tontine_members
		 WHERE tontine_id = $1
		 ORDER BY joined_at, id`

	rows, err := r.db.QueryContext(ctx, query, tontineID)
	if err != nil {
		return nil, fmt.Errorf("failed to select members: %w", err)
	}
	defer rows.Close()

	var list []*models.Member
	for rows.Next() {
		m := &models.Member{}
		if err := rows.Scan(&m.ID, &m.TontineID, &m.UserID, &m.ReputationScore, &m.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *PostgresRepository) Count(ctx context.Context, tontineID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tontine_members WHERE tontine_id = $1`, tontineID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) UpdateReputation(ctx context.Context, id string, score decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tontine_members SET reputation_score = $2 WHERE id = $1`, id, score.StringFixed(2))
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
