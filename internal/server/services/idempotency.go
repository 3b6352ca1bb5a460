package services

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/repomanager"
)

// IdempotencyGuard gives every externally triggered operation claim-once
// semantics. The claim shares the transaction of the side effects it
// guards, so a failed operation releases its key on rollback.
type IdempotencyGuard struct {
	repomanager repomanager.RepositoryManager
}

func NewIdempotencyGuard(m repomanager.RepositoryManager) *IdempotencyGuard {
	return &IdempotencyGuard{repomanager: m}
}

// ClaimOrReject returns true the first time key is claimed and false on
// every later attempt.
func (g *IdempotencyGuard) ClaimOrReject(ctx context.Context, tx dbx.DBTX, key, owner string) (bool, error) {
	if key == "" {
		return false, common.ErrMissingIdempotencyKey
	}
	if owner == "" {
		return false, common.ErrMissingActor
	}
	return g.repomanager.Idempotency(tx).Claim(ctx, key, owner)
}

// ScopedKey scopes a client supplied key to one operation and actor.
func ScopedKey(operation, actor, clientKey string) string {
	return operation + ":" + actor + ":" + clientKey
}

// claim rejects a replayed operation with common.ErrDuplicateRequest.
func (g *IdempotencyGuard) claim(ctx context.Context, tx dbx.DBTX, operation, actor, clientKey string) error {
	if clientKey == "" {
		return common.ErrMissingIdempotencyKey
	}
	ok, err := g.ClaimOrReject(ctx, tx, ScopedKey(operation, actor, clientKey), actor)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrDuplicateRequest
	}
	return nil
}
