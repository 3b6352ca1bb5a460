package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/audit"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/cycles"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/groups"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/members"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/users"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/votes"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/withdrawals"
)

// RepositoryManager vends repositories bound to a *sql.DB or a *sql.Tx so a
// service can run several of them inside one unit of work.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Accounts(db dbx.DBTX) accounts.Repository
	Ledger(db dbx.DBTX) ledger.Repository
	Audit(db dbx.DBTX) audit.Repository
	Idempotency(db dbx.DBTX) idempotency.Repository
	Groups(db dbx.DBTX) groups.Repository
	Members(db dbx.DBTX) members.Repository
	Cycles(db dbx.DBTX) cycles.Repository
	Withdrawals(db dbx.DBTX) withdrawals.Repository
	Votes(db dbx.DBTX) votes.Repository
}
