// Package services contains the server-side business logic of the ledger:
// the audit chain, the idempotency guard, the fee, schedule, reputation and
// penalty engines, the escrow wallet, and the tontine workflows built on
// top of them. Every money-moving operation runs inside one transaction
// opened with dbx.WithTx.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/cryptox"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/audit"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Audit actions written by the services.
const (
	ActionDoubleEntry       = "ledger.double_entry"
	ActionFeeCalculated     = "fee.calculated"
	ActionGroupCreated      = "group.created"
	ActionMemberJoined      = "group.member_joined"
	ActionGroupFrozen       = "group.frozen"
	ActionScheduleChanged   = "schedule.changed"
	ActionScheduleRejected  = "schedule.change_rejected"
	ActionCycleOpened       = "cycle.opened"
	ActionCycleCompleted    = "cycle.completed"
	ActionContribution      = "cycle.contribution"
	ActionDistribution      = "cycle.distribution"
	ActionPenaltyApplied    = "penalty.applied"
	ActionReputation        = "reputation.adjusted"
	ActionCodeRejected      = "security.code_rejected"
	ActionWithdrawRequested = "withdraw.requested"
	ActionVoteCast          = "withdraw.vote_cast"
	ActionWithdrawRejected  = "withdraw.rejected"
	ActionWithdrawExecuted  = "withdraw.executed"
)

// Integrity findings reported by VerifyIntegrity.
const (
	IssueBrokenLink       = "broken_link"
	IssueInvalidSignature = "invalid_signature_or_hash"
)

// FinancialEvent is the input of one audit chain append. Amount and
// Currency are optional.
type FinancialEvent struct {
	ActorID       string
	Action        string
	Amount        *decimal.Decimal
	Currency      string
	CorrelationID string
	Payload       map[string]any
}

// EventRecorder appends audit events. Both *AuditChain (own transaction)
// and *AuditSession (caller's transaction) implement it.
type EventRecorder interface {
	RecordFinancialEvent(ctx context.Context, ev FinancialEvent) (*models.AuditEvent, error)
}

// AuditChain owns the hash-chained audit trail.
type AuditChain struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	secret      []byte
	logger      logging.Logger
}

func NewAuditChain(db *sql.DB, m repomanager.RepositoryManager, secret []byte, logger logging.Logger) *AuditChain {
	return &AuditChain{db: db, repomanager: m, secret: secret, logger: logger}
}

// AuditSession appends events inside one transaction. The chain lock is taken
// and the latest hash read on the first append; later appends reuse the
// cached hash. A session must not outlive its transaction.
type AuditSession struct {
	chain    *AuditChain
	repo     audit.Repository
	lastHash string
	loaded   bool
}

// Session binds a new session to tx.
func (c *AuditChain) Session(tx dbx.DBTX) *AuditSession {
	return &AuditSession{chain: c, repo: c.repomanager.Audit(tx)}
}

// RecordFinancialEvent appends ev in a transaction of its own.
func (c *AuditChain) RecordFinancialEvent(ctx context.Context, ev FinancialEvent) (*models.AuditEvent, error) {
	var out *models.AuditEvent
	err := dbx.WithTx(ctx, c.db, dbx.ReadCommitted, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		out, err = c.Session(tx).RecordFinancialEvent(ctx, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AuditSession) RecordFinancialEvent(ctx context.Context, ev FinancialEvent) (*models.AuditEvent, error) {
	if ev.ActorID == "" {
		return nil, common.ErrMissingActor
	}
	if ev.Action == "" {
		return nil, fmt.Errorf("%w: audit action is required", common.ErrValidation)
	}

	if !s.loaded {
		if err := s.repo.LockChain(ctx); err != nil {
			return nil, err
		}
		hash, err := s.repo.LatestHash(ctx)
		if err != nil {
			return nil, err
		}
		s.lastHash, s.loaded = hash, true
	}

	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := cryptox.CanonicalJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: audit payload: %v", common.ErrValidation, err)
	}

	e := &models.AuditEvent{
		EventID:       uuid.NewString(),
		ActorID:       ev.ActorID,
		Action:        ev.Action,
		CorrelationID: ev.CorrelationID,
		PreviousHash:  s.lastHash,
		Payload:       raw,
	}
	if e.CorrelationID == "" {
		e.CorrelationID = e.EventID
	}
	if ev.Amount != nil {
		e.Amount = decimal.NewNullDecimal(ev.Amount.Round(2))
	}
	if ev.Currency != "" {
		currency := ev.Currency
		e.Currency = &currency
	}

	e.CurrentHash, err = EventHash(e)
	if err != nil {
		return nil, err
	}
	e.Signature = cryptox.HMACSHA256Hex(s.chain.secret, e.CurrentHash)

	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, err
	}
	s.lastHash = e.CurrentHash
	return e, nil
}

// hashedEvent lists the fields covered by current_hash.
type hashedEvent struct {
	ActorID       string          `json:"actor_id"`
	Action        string          `json:"action"`
	Amount        *string         `json:"amount"`
	Currency      *string         `json:"currency"`
	CorrelationID string          `json:"correlation_id"`
	PreviousHash  string          `json:"previous_hash"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHash recomputes current_hash from the stored fields of e: SHA-256 hex
// over the canonical JSON of actor, action, amount (two decimals or null),
// currency, correlation id, previous hash and payload.
func EventHash(e *models.AuditEvent) (string, error) {
	h := hashedEvent{
		ActorID:       e.ActorID,
		Action:        e.Action,
		Currency:      e.Currency,
		CorrelationID: e.CorrelationID,
		PreviousHash:  e.PreviousHash,
		Payload:       e.Payload,
	}
	if e.Amount.Valid {
		amount := e.Amount.Decimal.StringFixed(2)
		h.Amount = &amount
	}
	if len(h.Payload) == 0 {
		h.Payload = json.RawMessage(`{}`)
	}

	doc, err := cryptox.CanonicalJSON(h)
	if err != nil {
		return "", fmt.Errorf("%w: audit event %s: %v", common.ErrIntegrity, e.EventID, err)
	}
	return cryptox.SHA256Hex(doc), nil
}

type IntegrityIssue struct {
	Seq     int64  `json:"seq"`
	EventID string `json:"event_id"`
	Issue   string `json:"issue"`
}

// IntegrityReport is the result of one full chain walk.
type IntegrityReport struct {
	Valid   bool             `json:"valid"`
	Checked int              `json:"checked"`
	Issues  []IntegrityIssue `json:"issues"`
}

// Err returns common.ErrChainBroken for a report with findings.
func (r *IntegrityReport) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %d issue(s) in %d event(s)", common.ErrChainBroken, len(r.Issues), r.Checked)
}

// VerifyIntegrity walks the whole chain in order. Each event is checked for
// a previous_hash equal to its predecessor's stored current_hash, and for a
// current_hash and signature that match a recomputation from its fields.
func (c *AuditChain) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{Issues: []IntegrityIssue{}}
	expected := models.GenesisHash

	err := c.repomanager.Audit(c.db).Iterate(ctx, func(e *models.AuditEvent) error {
		report.Checked++
		if e.PreviousHash != expected {
			report.Issues = append(report.Issues, IntegrityIssue{Seq: e.Seq, EventID: e.EventID, Issue: IssueBrokenLink})
		}
		hash, err := EventHash(e)
		if err != nil || hash != e.CurrentHash || !cryptox.VerifyHMACSHA256Hex(c.secret, e.CurrentHash, e.Signature) {
			report.Issues = append(report.Issues, IntegrityIssue{Seq: e.Seq, EventID: e.EventID, Issue: IssueInvalidSignature})
		}
		expected = e.CurrentHash
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Valid = len(report.Issues) == 0
	if !report.Valid {
		c.logger.Error(ctx, "audit chain verification failed", "checked", report.Checked, "issues", len(report.Issues))
	} else {
		c.logger.Info(ctx, "audit chain verified", "checked", report.Checked)
	}
	return report, nil
}

// exportedEvent is the JSON-lines representation written by Export.
type exportedEvent struct {
	Seq           int64           `json:"seq"`
	EventID       string          `json:"event_id"`
	ActorID       string          `json:"actor_id"`
	Action        string          `json:"action"`
	Amount        *string         `json:"amount"`
	Currency      *string         `json:"currency"`
	CorrelationID string          `json:"correlation_id"`
	PreviousHash  string          `json:"previous_hash"`
	CurrentHash   string          `json:"current_hash"`
	Signature     string          `json:"signature"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Export writes every event to w as one JSON document per line, in chain
// order, and returns the number written.
func (c *AuditChain) Export(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	n := 0
	err := c.repomanager.Audit(c.db).Iterate(ctx, func(e *models.AuditEvent) error {
		out := exportedEvent{
			Seq: e.Seq, EventID: e.EventID, ActorID: e.ActorID, Action: e.Action,
			Currency: e.Currency, CorrelationID: e.CorrelationID,
			PreviousHash: e.PreviousHash, CurrentHash: e.CurrentHash, Signature: e.Signature,
			Payload: e.Payload, CreatedAt: e.CreatedAt,
		}
		if e.Amount.Valid {
			amount := e.Amount.Decimal.StringFixed(2)
			out.Amount = &amount
		}
		if len(out.Payload) == 0 {
			out.Payload = json.RawMessage(`{}`)
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("export event %d: %w", e.Seq, err)
		}
		n++
		return nil
	})
	return n, err
}

// CountGroupActions counts events of action recorded for a group.
func (c *AuditChain) CountGroupActions(ctx context.Context, action, groupID string) (int, error) {
	return c.repomanager.Audit(c.db).CountGroupActions(ctx, action, groupID)
}
