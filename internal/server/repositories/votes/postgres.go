package votes

import (
	"context"
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

func (r *PostgresRepository) Create(ctx context.Context, v *models.Vote) error {
	query :=
		`INSERT INTO tontine_votes (id, tontine_id, withdraw_request_id, user_id, approved)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, v.ID, v.TontineID, v.WithdrawRequestID, v.UserID, v.Approved).Scan(&v.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyVoted
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByRequest(ctx context.Context, requestID string) ([]*models.Vote, error) {
	query :=
		`SELECT id, tontine_id, withdraw_request_id, user_id, approved, created_at
		 FROM tontine_votes
		 WHERE withdraw_request_id = $1
		 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to select votes: %w", err)
	}
	defer rows.Close()

	var list []*models.Vote
	for rows.Next() {
		v := &models.Vote{}
		if err := rows.Scan(&v.ID, &v.TontineID, &v.WithdrawRequestID, &v.UserID, &v.Approved, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
