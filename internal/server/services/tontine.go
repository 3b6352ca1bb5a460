package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/cryptox"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/config"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// recentRequestsLimit bounds the withdraw history in a risk snapshot.
const recentRequestsLimit = 50

// Operation names scoping idempotency keys.
const (
	OpCreateGroup     = "create_group"
	OpJoinGroup       = "join_group"
	OpContribute      = "contribute"
	OpRequestWithdraw = "request_withdraw"
	OpVote            = "vote"
	OpUpdateFrequency = "update_frequency"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// RequestMeta identifies the caller of one externally triggered operation.
type RequestMeta struct {
	ActorID        string
	CorrelationID  string
	IdempotencyKey string
}

type CreateGroupInput struct {
	Name               string
	ContributionAmount decimal.Decimal
	Currency           string
	Frequency          string
	MaxMembers         int
	SecurityCode       string
}

// GroupView is a group with its members and account balances.
type GroupView struct {
	Group             *models.Group
	Members           []*models.Member
	EscrowBalance     decimal.Decimal
	CommissionBalance decimal.Decimal
}

// TontineService runs the group lifecycle. Every mutating operation claims
// its idempotency key, then locks the group row, then checks the group is
// not frozen, all in one transaction.
type TontineService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	audit           *AuditChain
	guard           *IdempotencyGuard
	wallet          *Wallet
	codes           *SecurityCodeManager
	cycles          *CycleEngine
	withdrawals     *WithdrawalEngine
	hooks           []RiskHook
	signingKey      []byte
	defaultCurrency string
	freezeThreshold int
	logger          logging.Logger
}

// NewTontineService constructs the service and the engines it depends on
// from the server config.
func NewTontineService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *TontineService {
	secret := []byte(cfg.AuditSecret)
	chain := NewAuditChain(db, m, secret, logger)
	wallet := NewWallet(db, m, chain)
	fees := NewFeeEngine(map[FeeType]decimal.Decimal{FeeContribution: cfg.ContributionFeeRate}, nil)
	cycles := NewCycleEngine(m, wallet, fees, NewPenaltyEngine(cfg.LatePaymentPenaltyRate), logger)

	return &TontineService{
		db:              db,
		repomanager:     m,
		audit:           chain,
		guard:           NewIdempotencyGuard(m),
		wallet:          wallet,
		codes:           NewSecurityCodeManager([]byte(cfg.SecurityCodePepper), cfg.SecurityCodeIterations),
		cycles:          cycles,
		withdrawals:     NewWithdrawalEngine(m, cycles, logger),
		hooks:           DefaultRiskHooks(),
		signingKey:      secret,
		defaultCurrency: cfg.DefaultCurrency,
		freezeThreshold: cfg.FreezeThreshold,
		logger:          logger,
	}
}

func (s *TontineService) AuditChain() *AuditChain { return s.audit }

func (s *TontineService) Wallet() *Wallet { return s.wallet }

// SetRiskHooks replaces the hooks consulted by EvaluateRisk.
func (s *TontineService) SetRiskHooks(hooks ...RiskHook) { s.hooks = hooks }

// CreateGroup creates a group with the caller as its first member, and
// opens its escrow and commission accounts.
func (s *TontineService) CreateGroup(ctx context.Context, meta RequestMeta, in CreateGroupInput) (*models.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name", common.ErrorIncorrectRequestField)
	}
	amount := in.ContributionAmount.Round(2)
	if !amount.IsPositive() {
		return nil, common.ErrAmountNotPositive
	}
	freq, err := ValidateFrequency(in.Frequency)
	if err != nil {
		return nil, err
	}
	if in.MaxMembers < models.MinGroupMembers || in.MaxMembers > models.MaxGroupMembers {
		return nil, fmt.Errorf("%w: %d not in [%d,%d]", common.ErrInvalidMaxMembers, in.MaxMembers, models.MinGroupMembers, models.MaxGroupMembers)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidCurrency, in.Currency)
	}
	codeHash, err := s.codes.Hash(in.SecurityCode)
	if err != nil {
		return nil, err
	}

	g := &models.Group{
		ID:                 uuid.NewString(),
		Name:               name,
		ContributionAmount: amount,
		Currency:           currency,
		FrequencyType:      string(freq),
		MaxMembers:         in.MaxMembers,
		SecurityCodeHash:   codeHash,
		Status:             models.GroupActive,
		CreatedBy:          meta.ActorID,
	}
	if g.SignatureHash, err = s.groupSignature(g); err != nil {
		return nil, err
	}

	err = s.withUnitOfWork(ctx, meta, func(ctx context.Context, u *UnitOfWork) error {
		if err := s.guard.claim(ctx, u.Tx, OpCreateGroup, meta.ActorID, meta.IdempotencyKey); err != nil {
			return err
		}
		if err := s.repomanager.Groups(u.Tx).Create(ctx, g); err != nil {
			return err
		}
		for _, owner := range []AccountOwner{EscrowOwner(g.ID), CommissionOwner(g.ID)} {
			if _, err := s.wallet.ResolveAccount(ctx, u.Tx, owner, g.Currency); err != nil {
				return err
			}
		}
		if err := u.record(ctx, ActionGroupCreated, &g.ContributionAmount, g.Currency, map[string]any{
			"group_id":    g.ID,
			"name":        g.Name,
			"frequency":   g.FrequencyType,
			"max_members": g.MaxMembers,
		}); err != nil {
			return err
		}
		_, err := s.addMember(ctx, u, g, meta.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "group created", "group_id", g.ID, "actor", meta.ActorID)
	return g, nil
}

// JoinGroup adds the caller to the group after checking the shared code
// and the capacity.
func (s *TontineService) JoinGroup(ctx context.Context, meta RequestMeta, groupID, code string) (*models.Member, error) {
	if err := s.checkCode(ctx, groupID, code); err != nil {
		return nil, err
	}

	var member *models.Member
	err := s.withGroup(ctx, meta, OpJoinGroup, groupID, func(ctx context.Context, u *UnitOfWork, g *models.Group) error {
		members := s.repomanager.Members(u.Tx)
		if _, err := members.Get(ctx, g.ID, meta.ActorID); err == nil {
			return common.ErrAlreadyMember
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		n, err := members.Count(ctx, g.ID)
		if err != nil {
			return err
		}
		if n >= g.MaxMembers {
			return common.ErrGroupFull
		}
		member, err = s.addMember(ctx, u, g, meta.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// Contribute pays amount, or the group's contribution amount when amount is
// zero, into the in-flight cycle.
func (s *TontineService) Contribute(ctx context.Context, meta RequestMeta, groupID string, amount decimal.Decimal) (*ContributionResult, error) {
	var res *ContributionResult
	err := s.withGroup(ctx, meta, OpContribute, groupID, func(ctx context.Context, u *UnitOfWork, g *models.Group) error {
		member, err := s.member(ctx, u.Tx, g.ID, meta.ActorID)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			amount = g.ContributionAmount
		}
		cycle, err := s.cycles.EnsureActiveCycle(ctx, u, g)
		if err != nil {
			return err
		}
		res, err = s.cycles.RecordContribution(ctx, u, g, cycle, meta.ActorID, amount)
		if err != nil {
			return err
		}
		return s.applyReputation(ctx, u, member, res.Reputation)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RequestWithdraw files a withdraw request. A wrong security code lowers
// the caller's reputation, and that penalty is committed even though the
// call fails with common.ErrSecurityCodeWrong.
func (s *TontineService) RequestWithdraw(ctx context.Context, meta RequestMeta, groupID string, amount decimal.Decimal, code string) (*models.WithdrawRequest, error) {
	codeErr := s.checkCode(ctx, groupID, code)
	if codeErr != nil && !errors.Is(codeErr, common.ErrSecurityCodeWrong) {
		return nil, codeErr
	}

	var req *models.WithdrawRequest
	err := s.withGroup(ctx, meta, OpRequestWithdraw, groupID, func(ctx context.Context, u *UnitOfWork, g *models.Group) error {
		member, err := s.member(ctx, u.Tx, g.ID, meta.ActorID)
		if err != nil {
			return err
		}
		if codeErr != nil {
			if err := u.record(ctx, ActionCodeRejected, nil, "", map[string]any{
				"group_id": g.ID, "user_id": meta.ActorID, "operation": OpRequestWithdraw,
			}); err != nil {
				return err
			}
			return s.applyReputation(ctx, u, member, FraudAttempt)
		}
		req, err = s.withdrawals.CreateRequest(ctx, u, g, meta.ActorID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	if codeErr != nil {
		s.logger.Warn(ctx, "withdraw request with wrong security code", "group_id", groupID, "actor", meta.ActorID)
		return nil, codeErr
	}
	return req, nil
}

// Vote casts the caller's vote on a withdraw request of the group.
func (s *TontineService) Vote(ctx context.Context, meta RequestMeta, groupID, requestID string, approve bool) (*VoteOutcome, error) {
	var out *VoteOutcome
	err := s.withGroup(ctx, meta, OpVote, groupID, func(ctx context.Context, u *UnitOfWork, g *models.Group) error {
		var err error
		out, err = s.withdrawals.Vote(ctx, u, g, requestID, meta.ActorID, approve)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFrequency changes the schedule of a group with no cycle in flight.
// A refused change is audited and committed before common.ErrScheduleLocked
// is returned, so repeated attempts are visible to the risk hooks.
func (s *TontineService) UpdateFrequency(ctx context.Context, meta RequestMeta, groupID, frequency string) (*models.Group, error) {
	requested, err := ValidateFrequency(frequency)
	if err != nil {
		return nil, err
	}

	var (
		updated *models.Group
		lockErr error
	)
	err = s.withGroup(ctx, meta, OpUpdateFrequency, groupID, func(ctx context.Context, u *UnitOfWork, g *models.Group) error {
		if _, err := s.member(ctx, u.Tx, g.ID, meta.ActorID); err != nil {
			return err
		}
		active := true
		if _, err := s.repomanager.Cycles(u.Tx).InFlightForUpdate(ctx, g.ID); err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			active = false
		}

		if lockErr = EnforceScheduleLock(Frequency(g.FrequencyType), requested, active); lockErr != nil {
			return u.record(ctx, ActionScheduleRejected, nil, "", map[string]any{
				"group_id": g.ID, "stored": g.FrequencyType, "requested": string(requested),
			})
		}

		previous := g.FrequencyType
		g.FrequencyType = string(requested)
		sig, err := s.groupSignature(g)
		if err != nil {
			return err
		}
		if err := s.repomanager.Groups(u.Tx).UpdateSchedule(ctx, g.ID, g.FrequencyType, sig); err != nil {
			return err
		}
		g.SignatureHash = sig
		updated = g
		return u.record(ctx, ActionScheduleChanged, nil, "", map[string]any{
			"group_id": g.ID, "from": previous, "to": g.FrequencyType,
		})
	})
	if err != nil {
		return nil, err
	}
	if lockErr != nil {
		return nil, lockErr
	}
	return updated, nil
}

// EvaluateRisk runs the risk hooks over a snapshot of the group and freezes
// it when the summed score reaches the configured threshold.
func (s *TontineService) EvaluateRisk(ctx context.Context, meta RequestMeta, groupID string) (*RiskAssessment, error) {
	var assessment *RiskAssessment
	err := s.withUnitOfWork(ctx, meta, func(ctx context.Context, u *UnitOfWork) error {
		g, err := s.lockGroup(ctx, u.Tx, groupID)
		if err != nil {
			return err
		}
		snap, err := s.snapshot(ctx, u.Tx, g)
		if err != nil {
			return err
		}
		assessment = assessRisk(s.hooks, snap)

		if assessment.Score < s.freezeThreshold || g.Status == models.GroupFrozen {
			assessment.Frozen = g.Status == models.GroupFrozen
			return nil
		}
		if err := s.repomanager.Groups(u.Tx).UpdateStatus(ctx, g.ID, models.GroupFrozen); err != nil {
			return err
		}
		reasons := make([]string, 0, len(assessment.Signals))
		for _, sig := range assessment.Signals {
			reasons = append(reasons, sig.Hook+": "+sig.Reason)
		}
		if err := u.record(ctx, ActionGroupFrozen, nil, "", map[string]any{
			"group_id": g.ID, "score": assessment.Score, "reasons": reasons,
		}); err != nil {
			return err
		}
		assessment.Frozen = true
		s.logger.Warn(ctx, "group frozen", "group_id", g.ID, "score", assessment.Score)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assessment, nil
}

func (s *TontineService) GetGroup(ctx context.Context, groupID string) (*GroupView, error) {
	g, err := s.getGroup(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}
	members, err := s.repomanager.Members(s.db).List(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	view := &GroupView{Group: g, Members: members}
	for _, b := range []struct {
		owner AccountOwner
		dst   *decimal.Decimal
	}{
		{EscrowOwner(g.ID), &view.EscrowBalance},
		{CommissionOwner(g.ID), &view.CommissionBalance},
	} {
		acc, err := s.repomanager.Accounts(s.db).GetByOwner(ctx, b.owner.ID(), g.Currency)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if *b.dst, err = s.wallet.Balance(ctx, acc.ID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func (s *TontineService) GetWithdrawRequest(ctx context.Context, requestID string) (*models.WithdrawRequest, []*models.Vote, error) {
	return s.withdrawals.GetRequest(ctx, s.db, requestID)
}

func (s *TontineService) withUnitOfWork(ctx context.Context, meta RequestMeta, fn func(ctx context.Context, u *UnitOfWork) error) error {
	if meta.ActorID == "" {
		return common.ErrMissingActor
	}
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return dbx.WithTx(ctx, s.db, dbx.ReadCommitted, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &UnitOfWork{Tx: tx, Audit: s.audit.Session(tx), ActorID: meta.ActorID, CorrelationID: correlationID})
	})
}

// withGroup claims the idempotency key of op, locks the group row and
// rejects frozen or closed groups before running fn.
func (s *TontineService) withGroup(ctx context.Context, meta RequestMeta, op, groupID string, fn func(ctx context.Context, u *UnitOfWork, g *models.Group) error) error {
	return s.withUnitOfWork(ctx, meta, func(ctx context.Context, u *UnitOfWork) error {
		if err := s.guard.claim(ctx, u.Tx, op, meta.ActorID, meta.IdempotencyKey); err != nil {
			return err
		}
		g, err := s.lockGroup(ctx, u.Tx, groupID)
		if err != nil {
			return err
		}
		switch g.Status {
		case models.GroupFrozen:
			return common.ErrGroupFrozen
		case models.GroupClosed:
			return fmt.Errorf("%w: group is closed", common.ErrConflict)
		}
		return fn(ctx, u, g)
	})
}

func (s *TontineService) lockGroup(ctx context.Context, tx dbx.DBTX, groupID string) (*models.Group, error) {
	g, err := s.repomanager.Groups(tx).GetForUpdate(ctx, groupID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrGroupNotFound
	}
	return g, err
}

func (s *TontineService) getGroup(ctx context.Context, db dbx.DBTX, groupID string) (*models.Group, error) {
	g, err := s.repomanager.Groups(db).Get(ctx, groupID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrGroupNotFound
	}
	return g, err
}

// checkCode verifies code against the group's stored hash outside any
// transaction. The code hash never changes once a group exists.
func (s *TontineService) checkCode(ctx context.Context, groupID, code string) error {
	g, err := s.getGroup(ctx, s.db, groupID)
	if err != nil {
		return err
	}
	ok, err := s.codes.Verify(code, g.SecurityCodeHash)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrSecurityCodeWrong
	}
	return nil
}

func (s *TontineService) member(ctx context.Context, tx dbx.DBTX, groupID, userID string) (*models.Member, error) {
	m, err := s.repomanager.Members(tx).Get(ctx, groupID, userID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrNotMember
	}
	return m, err
}

func (s *TontineService) addMember(ctx context.Context, u *UnitOfWork, g *models.Group, userID string) (*models.Member, error) {
	m := &models.Member{ID: uuid.NewString(), TontineID: g.ID, UserID: userID, ReputationScore: StartingReputation}
	if err := s.repomanager.Members(u.Tx).Add(ctx, m); err != nil {
		return nil, err
	}
	if _, err := s.wallet.ResolveAccount(ctx, u.Tx, MemberOwner(userID), g.Currency); err != nil {
		return nil, err
	}
	if err := u.record(ctx, ActionMemberJoined, nil, "", map[string]any{
		"group_id": g.ID, "user_id": userID,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *TontineService) applyReputation(ctx context.Context, u *UnitOfWork, m *models.Member, event ReputationEvent) error {
	next, err := AdjustReputation(m.ReputationScore, event)
	if err != nil {
		return err
	}
	if err := s.repomanager.Members(u.Tx).UpdateReputation(ctx, m.ID, next); err != nil {
		return err
	}
	if err := u.record(ctx, ActionReputation, nil, "", map[string]any{
		"group_id": m.TontineID,
		"user_id":  m.UserID,
		"event":    string(event),
		"from":     m.ReputationScore.StringFixed(2),
		"to":       next.StringFixed(2),
	}); err != nil {
		return err
	}
	m.ReputationScore = next
	return nil
}

// groupTerms is the canonical JSON of the terms covered by signature_hash.
func groupTerms(g *models.Group) (string, error) {
	doc, err := cryptox.CanonicalJSON(map[string]any{
		"id":                  g.ID,
		"contribution_amount": g.ContributionAmount.StringFixed(2),
		"currency":            g.Currency,
		"frequency":           g.FrequencyType,
		"max_members":         g.MaxMembers,
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

func (s *TontineService) groupSignature(g *models.Group) (string, error) {
	terms, err := groupTerms(g)
	if err != nil {
		return "", err
	}
	return cryptox.HMACSHA256Hex(s.signingKey, terms), nil
}

func (s *TontineService) snapshot(ctx context.Context, tx dbx.DBTX, g *models.Group) (RiskSnapshot, error) {
	snap := RiskSnapshot{Group: g, Now: time.Now()}

	terms, err := groupTerms(g)
	if err != nil {
		return snap, err
	}
	snap.SignatureValid = cryptox.VerifyHMACSHA256Hex(s.signingKey, terms, g.SignatureHash)

	if snap.Members, err = s.repomanager.Members(tx).List(ctx, g.ID); err != nil {
		return snap, err
	}
	requests, err := s.repomanager.Withdrawals(tx).ListRecent(ctx, g.ID, recentRequestsLimit)
	if err != nil {
		return snap, err
	}
	for _, r := range requests {
		votes, err := s.repomanager.Votes(tx).ListByRequest(ctx, r.ID)
		if err != nil {
			return snap, err
		}
		snap.Requests = append(snap.Requests, RequestWithVotes{Request: r, Votes: votes})
	}
	if snap.RejectedScheduleChanges, err = s.repomanager.Audit(tx).CountGroupActions(ctx, ActionScheduleRejected, g.ID); err != nil {
		return snap, err
	}
	return snap, nil
}
