package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(t *testing.T) (*Wallet, *memStore, *AuditChain, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newTxDB(t)
	store := newMemStore()
	chain := NewAuditChain(db, store, testAuditSecret, logging.NopLogger{})
	return NewWallet(db, store, chain), store, chain, mock
}

func TestWallet_ResolveAccount(t *testing.T) {
	ctx := context.Background()
	w, store, _, _ := newTestWallet(t)

	escrow, err := w.ResolveAccount(ctx, w.db, EscrowOwner("g1"), "XOF")
	require.NoError(t, err)
	again, err := w.ResolveAccount(ctx, w.db, EscrowOwner("g1"), "XOF")
	require.NoError(t, err)
	assert.Equal(t, escrow.ID, again.ID)
	assert.Equal(t, "tontine:g1:escrow", escrow.OwnerKey)

	commission, err := w.ResolveAccount(ctx, w.db, CommissionOwner("g1"), "XOF")
	require.NoError(t, err)
	assert.NotEqual(t, escrow.ID, commission.ID)

	eur, err := w.ResolveAccount(ctx, w.db, EscrowOwner("g1"), "EUR")
	require.NoError(t, err)
	assert.NotEqual(t, escrow.ID, eur.ID)
	assert.Equal(t, escrow.UserID, eur.UserID)

	member, err := w.ResolveAccount(ctx, w.db, MemberOwner("alice"), "XOF")
	require.NoError(t, err)
	assert.Equal(t, MemberOwner("alice").ID(), member.UserID)
	assert.Equal(t, MemberOwner("alice").ID(), store.users["user:alice"].ID)
	assert.Len(t, store.users, 3)
	assert.Len(t, store.accounts, 4)
}

func TestWallet_ResolveAccount_MemberCannotShareVirtualOwner(t *testing.T) {
	ctx := context.Background()
	w, store, _, _ := newTestWallet(t)

	escrow, err := w.ResolveAccount(ctx, w.db, EscrowOwner("g1"), "XOF")
	require.NoError(t, err)
	commission, err := w.ResolveAccount(ctx, w.db, CommissionOwner("g1"), "XOF")
	require.NoError(t, err)

	for _, virtual := range []string{"tontine:g1:escrow", "tontine:g1:commission"} {
		member, err := w.ResolveAccount(ctx, w.db, MemberOwner(virtual), "XOF")
		require.NoError(t, err)
		assert.NotEqual(t, escrow.ID, member.ID)
		assert.NotEqual(t, commission.ID, member.ID)
		assert.Equal(t, MemberOwner(virtual).ID(), member.UserID)
		assert.Equal(t, "user:"+virtual, member.OwnerKey)
	}
	assert.Len(t, store.users, 4)
	assert.Len(t, store.accounts, 4)
}

func TestWallet_ResolveAccount_MismatchIsIntegrityError(t *testing.T) {
	ctx := context.Background()

	t.Run("users row with another id", func(t *testing.T) {
		w, store, _, _ := newTestWallet(t)
		store.users["user:mallory"] = models.User{ID: "someone-else", ExternalUID: "user:mallory"}

		_, err := w.ResolveAccount(ctx, w.db, MemberOwner("mallory"), "XOF")
		assert.ErrorIs(t, err, common.ErrAccountMismatch)
		assert.ErrorIs(t, err, common.ErrIntegrity)
		assert.Empty(t, store.accounts)
	})

	t.Run("owner already holds another account", func(t *testing.T) {
		w, store, _, _ := newTestWallet(t)
		owner := MemberOwner("bob")
		store.accounts["stale"] = models.Account{ID: "stale", UserID: owner.ID(), OwnerKey: owner.OwnerKey(), Currency: "XOF"}

		_, err := w.ResolveAccount(ctx, w.db, owner, "XOF")
		assert.ErrorIs(t, err, common.ErrAccountMismatch)
	})
}

func TestWallet_PostDoubleEntry(t *testing.T) {
	ctx := context.Background()
	w, store, chain, mock := newTestWallet(t)
	a, err := w.ResolveAccount(ctx, w.db, MemberOwner("alice"), "XOF")
	require.NoError(t, err)
	b, err := w.ResolveAccount(ctx, w.db, EscrowOwner("g1"), "XOF")
	require.NoError(t, err)

	expectCommits(mock, 1)
	debitID, creditID, err := w.PostDoubleEntry(ctx, Posting{
		DebitAccount: a.ID, CreditAccount: b.ID, Amount: dec("150.005"),
		Currency: "XOF", Reference: "ref-1", ActorID: "alice",
	})
	require.NoError(t, err)
	assert.NotEqual(t, debitID, creditID)

	require.Len(t, store.entries, 2)
	assert.Equal(t, models.Debit, store.entries[0].Direction)
	assert.Equal(t, models.Credit, store.entries[1].Direction)
	assert.Equal(t, "150.01", store.entries[0].Amount.StringFixed(2))

	bal, err := w.Balance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "150.01", bal.StringFixed(2))
	bal, err = w.Balance(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "-150.01", bal.StringFixed(2))

	require.NoError(t, w.CheckConservation(ctx, "ref-1"))

	require.Len(t, store.events, 1)
	ev := store.events[0]
	assert.Equal(t, ActionDoubleEntry, ev.Action)
	assert.Contains(t, string(ev.Payload), debitID)
	assert.Contains(t, string(ev.Payload), creditID)

	report, err := chain.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWallet_PostDoubleEntry_Rejects(t *testing.T) {
	ctx := context.Background()
	w, store, _, mock := newTestWallet(t)

	tests := []struct {
		name string
		p    Posting
		want error
	}{
		{"zero", Posting{DebitAccount: "a", CreditAccount: "b", Amount: decimal.Zero, ActorID: "x"}, common.ErrAmountNotPositive},
		{"rounds to zero", Posting{DebitAccount: "a", CreditAccount: "b", Amount: dec("0.004"), ActorID: "x"}, common.ErrAmountNotPositive},
		{"negative", Posting{DebitAccount: "a", CreditAccount: "b", Amount: dec("-1"), ActorID: "x"}, common.ErrAmountNotPositive},
		{"same account", Posting{DebitAccount: "a", CreditAccount: "a", Amount: dec("1"), ActorID: "x"}, common.ErrSameAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectRollback(mock)
			_, _, err := w.PostDoubleEntry(ctx, tt.p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, store.entries)
	assert.Empty(t, store.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWallet_PostDoubleEntry_LedgerFailure(t *testing.T) {
	w, store, _, mock := newTestWallet(t)
	store.failLedgerInsert = errBoom{}

	expectRollback(mock)
	_, _, err := w.PostDoubleEntry(context.Background(), Posting{DebitAccount: "a", CreditAccount: "b", Amount: dec("1"), ActorID: "x"})
	assert.EqualError(t, err, "boom")
	assert.Empty(t, store.events, "no audit event without entries")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWallet_CheckConservation_Unbalanced(t *testing.T) {
	w, store, _, _ := newTestWallet(t)
	ref := "ref-x"
	store.entries = append(store.entries, models.LedgerEntry{ID: "1", AccountID: "a", Amount: dec("5"), Direction: models.Credit, Reference: &ref})

	err := w.CheckConservation(context.Background(), ref)
	assert.ErrorIs(t, err, common.ErrUnbalancedPostings)
	assert.ErrorIs(t, err, common.ErrIntegrity)

	assert.NoError(t, w.CheckConservation(context.Background(), "unknown"))
}
