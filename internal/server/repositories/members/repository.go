package members

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/shopspring/decimal"
)

type Repository interface {
	// Add returns common.ErrAlreadyMember when the user already belongs to the group.
	Add(ctx context.Context, member *models.Member) error
	Get(ctx context.Context, tontineID, userID string) (*models.Member, error)
	List(ctx context.Context, tontineID string) ([]*models.Member, error)
	Count(ctx context.Context, tontineID string) (int, error)
	UpdateReputation(ctx context.Context, id string, score decimal.Decimal) error
}
