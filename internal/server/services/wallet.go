package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/cryptox"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountOwner names the owner of a ledger account. The users row stores
// OwnerKey as its external uid, so owners of different namespaces never share
// a row.
type AccountOwner struct {
	Namespace string
	Key       string
}

func (o AccountOwner) OwnerKey() string { return o.Namespace + ":" + o.Key }

// ID is the derived users.id of the owner.
func (o AccountOwner) ID() string { return cryptox.DeriveID(o.Namespace, o.Key) }

func EscrowOwner(groupID string) AccountOwner {
	return AccountOwner{Namespace: "tontine", Key: groupID + ":escrow"}
}

func CommissionOwner(groupID string) AccountOwner {
	return AccountOwner{Namespace: "tontine", Key: groupID + ":commission"}
}

func MemberOwner(userID string) AccountOwner {
	return AccountOwner{Namespace: "user", Key: userID}
}

// Posting describes one double-entry movement of Amount from DebitAccount
// to CreditAccount.
type Posting struct {
	DebitAccount  string
	CreditAccount string
	Amount        decimal.Decimal
	Currency      string
	Reference     string
	ActorID       string
	CorrelationID string
}

// Wallet resolves virtual accounts and posts balanced entry pairs to the
// ledger. Balances are always aggregated from entries.
type Wallet struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	audit       *AuditChain
}

func NewWallet(db *sql.DB, m repomanager.RepositoryManager, audit *AuditChain) *Wallet {
	return &Wallet{db: db, repomanager: m, audit: audit}
}

// PostDoubleEntry posts p in a transaction of its own and returns the ids of
// the debit and credit entries.
func (w *Wallet) PostDoubleEntry(ctx context.Context, p Posting) (string, string, error) {
	var debitID, creditID string
	err := dbx.WithTx(ctx, w.db, dbx.ReadCommitted, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		debitID, creditID, err = w.PostInTx(ctx, tx, w.audit.Session(tx), p)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return debitID, creditID, nil
}

// PostInTx inserts the DEBIT and CREDIT rows of p on tx and records a
// ledger.double_entry event through rec.
func (w *Wallet) PostInTx(ctx context.Context, tx dbx.DBTX, rec EventRecorder, p Posting) (string, string, error) {
	amount := p.Amount.Round(2)
	if !amount.IsPositive() {
		return "", "", common.ErrAmountNotPositive
	}
	if p.DebitAccount == p.CreditAccount {
		return "", "", common.ErrSameAccount
	}

	var ref *string
	if p.Reference != "" {
		r := p.Reference
		ref = &r
	}

	repo := w.repomanager.Ledger(tx)
	debit := &models.LedgerEntry{ID: uuid.NewString(), AccountID: p.DebitAccount, Amount: amount, Direction: models.Debit, Reference: ref}
	if err := repo.Insert(ctx, debit); err != nil {
		return "", "", err
	}
	credit := &models.LedgerEntry{ID: uuid.NewString(), AccountID: p.CreditAccount, Amount: amount, Direction: models.Credit, Reference: ref}
	if err := repo.Insert(ctx, credit); err != nil {
		return "", "", err
	}

	_, err := rec.RecordFinancialEvent(ctx, FinancialEvent{
		ActorID:       p.ActorID,
		Action:        ActionDoubleEntry,
		Amount:        &amount,
		Currency:      p.Currency,
		CorrelationID: p.CorrelationID,
		Payload: map[string]any{
			"debit_entry_id":    debit.ID,
			"credit_entry_id":   credit.ID,
			"debit_account_id":  p.DebitAccount,
			"credit_account_id": p.CreditAccount,
			"reference":         p.Reference,
		},
	})
	if err != nil {
		return "", "", err
	}
	return debit.ID, credit.ID, nil
}

// ResolveAccount returns the account of owner in currency, creating the
// owner and the account when absent. Ids are derived, so concurrent callers
// converge on the same rows.
func (w *Wallet) ResolveAccount(ctx context.Context, tx dbx.DBTX, owner AccountOwner, currency string) (*models.Account, error) {
	ownerID := owner.ID()
	accountID := cryptox.DeriveID("account", ownerID+":"+currency)

	repo := w.repomanager.Accounts(tx)
	acc, err := repo.Get(ctx, accountID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	user, err := w.repomanager.Users(tx).Ensure(ctx, ownerID, owner.OwnerKey())
	if err != nil {
		return nil, fmt.Errorf("resolve owner %s: %w", owner.OwnerKey(), err)
	}
	if user.ID != ownerID {
		return nil, fmt.Errorf("%w: owner %s resolved to user %s", common.ErrAccountMismatch, owner.OwnerKey(), user.ID)
	}
	if _, err := repo.Create(ctx, &models.Account{ID: accountID, UserID: user.ID, OwnerKey: owner.OwnerKey(), Currency: currency}); err != nil {
		return nil, err
	}
	acc, err = repo.GetByOwner(ctx, user.ID, currency)
	if err != nil {
		return nil, err
	}
	if acc.ID != accountID {
		return nil, fmt.Errorf("%w: owner %s holds account %s, want %s", common.ErrAccountMismatch, owner.OwnerKey(), acc.ID, accountID)
	}
	return acc, nil
}

// Balance is SUM(CREDIT) - SUM(DEBIT) of the account.
func (w *Wallet) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return w.repomanager.Ledger(w.db).Balance(ctx, accountID)
}

func (w *Wallet) BalanceInTx(ctx context.Context, tx dbx.DBTX, accountID string) (decimal.Decimal, error) {
	return w.repomanager.Ledger(tx).Balance(ctx, accountID)
}

// CheckConservation verifies that the entries sharing reference balance.
func (w *Wallet) CheckConservation(ctx context.Context, reference string) error {
	entries, err := w.repomanager.Ledger(w.db).ByReference(ctx, reference)
	if err != nil {
		return err
	}
	credits, debits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Direction {
		case models.Credit:
			credits = credits.Add(e.Amount)
		case models.Debit:
			debits = debits.Add(e.Amount)
		}
	}
	if !credits.Equal(debits) {
		return fmt.Errorf("%w: reference %q credits %s debits %s",
			common.ErrUnbalancedPostings, reference, credits.StringFixed(2), debits.StringFixed(2))
	}
	return nil
}
