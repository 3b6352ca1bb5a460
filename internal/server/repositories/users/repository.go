package users

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type Repository interface {
	// Ensure creates the user when the external uid is unknown and returns
	// the stored row either way.
	Ensure(ctx context.Context, id, externalUID string) (*models.User, error)
	GetByExternalUID(ctx context.Context, externalUID string) (*models.User, error)
}
