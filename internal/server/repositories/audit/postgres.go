// Package audit persists the hash-chained audit trail. Rows are only ever
// inserted; chain order is the bigserial id.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
)

// chainLockKey is the pg_advisory_xact_lock key guarding appends.
const chainLockKey int64 = 0x746f6e74696e65

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) LockChain(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LatestHash(ctx context.Context) (string, error) {
	query := `SELECT current_hash FROM audit_chain_events ORDER BY id DESC LIMIT 1`

	var hash string
	err := r.db.QueryRowContext(ctx, query).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return hash, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	query :=
		`INSERT INTO audit_chain_events
		 (event_id, actor_id, action, amount, currency, correlation_id, previous_hash, current_hash, signature, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`

	var amount any
	if e.Amount.Valid {
		amount = e.Amount.Decimal.StringFixed(2)
	}

	err := r.db.QueryRowContext(ctx, query,
		e.EventID, e.ActorID, e.Action, amount, e.Currency, e.CorrelationID,
		e.PreviousHash, e.CurrentHash, e.Signature, []byte(e.Payload),
	).Scan(&e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Iterate(ctx context.Context, fn func(*models.AuditEvent) error) error {
	query :=
		`SELECT id, event_id, actor_id, action, amount, currency, correlation_id,
		        previous_hash, current_hash, signature, payload, created_at
		 FROM audit_chain_events
		 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to select audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e       models.AuditEvent
			payload []byte
		)
		if err := rows.Scan(
			&e.Seq, &e.EventID, &e.ActorID, &e.Action, &e.Amount, &e.Currency, &e.CorrelationID,
			&e.PreviousHash, &e.CurrentHash, &e.Signature, &payload, &e.CreatedAt,
		); err != nil {
			return err
		}
		e.Payload = payload
		if err := fn(&e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) CountGroupActions(ctx context.Context, action, groupID string) (int, error) {
	query :=
		`SELECT COUNT(*) FROM audit_chain_events
		 WHERE action = $1 AND payload->>'group_id' = $2`

	var n int
	if err := r.db.QueryRowContext(ctx, query, action, groupID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
