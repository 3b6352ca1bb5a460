package ledger

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) error
	// Balance is SUM(CREDIT) - SUM(DEBIT) over every entry of the account.
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	ByReference(ctx context.Context, reference string) ([]*models.LedgerEntry, error)
}
