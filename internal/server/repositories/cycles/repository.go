package cycles

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type Repository interface {
	// InFlightForUpdate returns the PENDING or ACTIVE cycle of the group,
	// row-locked, or common.ErrorNotFound.
	InFlightForUpdate(ctx context.Context, tontineID string) (*models.Cycle, error)
	// LastNumber is the highest cycle_number of the group, 0 when none exist.
	LastNumber(ctx context.Context, tontineID string) (int, error)
	Create(ctx context.Context, cycle *models.Cycle) error
	// Update persists pool, commission, next date and status.
	Update(ctx context.Context, cycle *models.Cycle) error
}
