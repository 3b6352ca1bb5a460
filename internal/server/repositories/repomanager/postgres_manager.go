// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/migrations"
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
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Ledger(db dbx.DBTX) ledger.Repository {
	return ledger.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Idempotency(db dbx.DBTX) idempotency.Repository {
	return idempotency.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Groups(db dbx.DBTX) groups.Repository {
	return groups.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Members(db dbx.DBTX) members.Repository {
	return members.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Cycles(db dbx.DBTX) cycles.Repository {
	return cycles.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Withdrawals(db dbx.DBTX) withdrawals.Repository {
	return withdrawals.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Votes(db dbx.DBTX) votes.Repository {
	return votes.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}
