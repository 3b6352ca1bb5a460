package withdrawals

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, req *models.WithdrawRequest) error
	Get(ctx context.Context, id string) (*models.WithdrawRequest, error)
	GetForUpdate(ctx context.Context, id string) (*models.WithdrawRequest, error)
	UpdateStatus(ctx context.Context, id string, status models.WithdrawStatus) error
	// ListRecent returns at most limit requests of the group, newest first.
	ListRecent(ctx context.Context, tontineID string, limit int) ([]*models.WithdrawRequest, error)
}
