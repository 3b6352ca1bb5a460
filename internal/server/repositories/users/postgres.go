package users

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

func (r *PostgresRepository) Ensure(ctx context.Context, id, externalUID string) (*models.User, error) {
	query :=
		`INSERT INTO users (id, external_uid)
		 VALUES ($1, $2)
		 ON CONFLICT (external_uid) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, id, externalUID); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return r.GetByExternalUID(ctx, externalUID)
}

func (r *PostgresRepository) GetByExternalUID(ctx context.Context, externalUID string) (*models.User, error) {
	query :=
		`SELECT id, external_uid, email, phone, created_at FROM users
		 WHERE external_uid = $1`

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, externalUID).
		Scan(&user.ID, &user.ExternalUID, &user.Email, &user.Phone, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}
