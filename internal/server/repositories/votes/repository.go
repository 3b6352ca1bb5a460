package votes

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type Repository interface {
	// Create returns common.ErrAlreadyVoted when the user already voted on the request.
	Create(ctx context.Context, vote *models.Vote) error
	ListByRequest(ctx context.Context, requestID string) ([]*models.Vote, error)
}
