package audit

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

type Repository interface {
	// LockChain serialises appenders until the surrounding transaction ends.
	LockChain(ctx context.Context) error
	// LatestHash returns the current_hash of the newest event, or
	// models.GenesisHash for an empty chain.
	LatestHash(ctx context.Context) (string, error)
	Insert(ctx context.Context, event *models.AuditEvent) error
	// Iterate calls fn for every event in chain order and stops at the first error.
	Iterate(ctx context.Context, fn func(*models.AuditEvent) error) error
	// CountGroupActions counts events of action whose payload names groupID.
	CountGroupActions(ctx context.Context, action, groupID string) (int, error)
}
