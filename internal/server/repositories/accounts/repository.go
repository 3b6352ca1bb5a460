package accounts

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	// Create inserts the account unless one already exists for the same
	// (user, currency) and reports whether a row was written.
	Create(ctx context.Context, account *models.Account) (bool, error)
	GetByOwner(ctx context.Context, userID, currency string) (*models.Account, error)
}
