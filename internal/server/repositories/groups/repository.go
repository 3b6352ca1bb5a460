package groups

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, group *models.Group) error
	Get(ctx context.Context, id string) (*models.Group, error)
	// GetForUpdate row-locks the group until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Group, error)
	UpdateStatus(ctx context.Context, id string, status models.GroupStatus) error
	UpdateSchedule(ctx context.Context, id, frequency, signatureHash string) error
}
