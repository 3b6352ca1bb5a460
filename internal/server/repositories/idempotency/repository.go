package idempotency

import "context"

type Repository interface {
	// Claim records key for owner. It returns false when the key was
	// already claimed, by anyone.
	Claim(ctx context.Context, key, ownerID string) (bool, error)
}
