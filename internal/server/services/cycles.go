package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnitOfWork carries the handles of one transaction: the tx itself, the
// audit session bound to it, and the caller identity recorded on every event.
type UnitOfWork struct {
	Tx            dbx.DBTX
	Audit         *AuditSession
	ActorID       string
	CorrelationID string
}

func (u *UnitOfWork) record(ctx context.Context, action string, amount *decimal.Decimal, currency string, payload map[string]any) error {
	_, err := u.Audit.RecordFinancialEvent(ctx, FinancialEvent{
		ActorID:       u.ActorID,
		Action:        action,
		Amount:        amount,
		Currency:      currency,
		CorrelationID: u.CorrelationID,
		Payload:       payload,
	})
	return err
}

// ContributionResult reports what one contribution changed.
type ContributionResult struct {
	Cycle      *models.Cycle
	Fee        *FeeQuote
	Penalty    decimal.Decimal
	Late       bool
	Reputation ReputationEvent
}

// CycleEngine manages the in-flight funding cycle of a group and moves money
// between member, escrow and commission accounts.
type CycleEngine struct {
	repomanager repomanager.RepositoryManager
	wallet      *Wallet
	fees        *FeeEngine
	penalties   *PenaltyEngine
	logger      logging.Logger
	now         func() time.Time
}

func NewCycleEngine(m repomanager.RepositoryManager, wallet *Wallet, fees *FeeEngine, penalties *PenaltyEngine, logger logging.Logger) *CycleEngine {
	return &CycleEngine{repomanager: m, wallet: wallet, fees: fees, penalties: penalties, logger: logger, now: time.Now}
}

// EnsureActiveCycle returns the row-locked PENDING or ACTIVE cycle of g, or
// opens cycle last+1 as PENDING.
func (e *CycleEngine) EnsureActiveCycle(ctx context.Context, u *UnitOfWork, g *models.Group) (*models.Cycle, error) {
	repo := e.repomanager.Cycles(u.Tx)

	c, err := repo.InFlightForUpdate(ctx, g.ID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	freq, err := ValidateFrequency(g.FrequencyType)
	if err != nil {
		return nil, err
	}
	last, err := repo.LastNumber(ctx, g.ID)
	if err != nil {
		return nil, err
	}

	c = &models.Cycle{
		ID:                   uuid.NewString(),
		TontineID:            g.ID,
		CycleNumber:          last + 1,
		TotalPool:            decimal.Zero,
		CommissionTotal:      decimal.Zero,
		NextDistributionDate: NextDistributionDate(freq, e.now()),
		Status:               models.CyclePending,
	}
	if err := repo.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := u.record(ctx, ActionCycleOpened, nil, "", map[string]any{
		"group_id":               g.ID,
		"cycle_id":               c.ID,
		"cycle_number":           c.CycleNumber,
		"next_distribution_date": c.NextDistributionDate.UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "cycle opened", "group_id", g.ID, "cycle", c.CycleNumber)
	return c, nil
}

// RecordContribution moves amount from the member into escrow, routes the
// contribution fee to the commission account, and grows the pool by the net
// amount. A contribution after the cycle's distribution date also pays a
// late penalty into commission.
func (e *CycleEngine) RecordContribution(ctx context.Context, u *UnitOfWork, g *models.Group, c *models.Cycle, userID string, amount decimal.Decimal) (*ContributionResult, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, common.ErrAmountNotPositive
	}

	member, err := e.wallet.ResolveAccount(ctx, u.Tx, MemberOwner(userID), g.Currency)
	if err != nil {
		return nil, err
	}
	escrow, err := e.wallet.ResolveAccount(ctx, u.Tx, EscrowOwner(g.ID), g.Currency)
	if err != nil {
		return nil, err
	}
	commission, err := e.wallet.ResolveAccount(ctx, u.Tx, CommissionOwner(g.ID), g.Currency)
	if err != nil {
		return nil, err
	}

	op := uuid.NewString()
	if _, _, err := e.wallet.PostInTx(ctx, u.Tx, u.Audit, e.posting(u, g, member.ID, escrow.ID, amount, "contribution:"+op)); err != nil {
		return nil, err
	}

	quote, err := e.fees.CalculateContribution(ctx, u.Audit, amount, g.Currency, u.ActorID, u.CorrelationID)
	if err != nil {
		return nil, err
	}
	if quote.FeeAmount.IsPositive() {
		if _, _, err := e.wallet.PostInTx(ctx, u.Tx, u.Audit, e.posting(u, g, escrow.ID, commission.ID, quote.FeeAmount, "fee:"+op)); err != nil {
			return nil, err
		}
	}

	res := &ContributionResult{Cycle: c, Fee: quote, Penalty: decimal.Zero, Reputation: RegularPayment}
	if e.now().After(c.NextDistributionDate) {
		res.Late = true
		res.Reputation = LatePayment
		res.Penalty = e.penalties.LatePaymentPenalty(amount)
		if res.Penalty.IsPositive() {
			if _, _, err := e.wallet.PostInTx(ctx, u.Tx, u.Audit, e.posting(u, g, member.ID, commission.ID, res.Penalty, "penalty:"+op)); err != nil {
				return nil, err
			}
			if err := u.record(ctx, ActionPenaltyApplied, &res.Penalty, g.Currency, map[string]any{
				"group_id": g.ID, "cycle_id": c.ID, "user_id": userID,
			}); err != nil {
				return nil, err
			}
		}
	}

	c.TotalPool = c.TotalPool.Add(amount).Sub(quote.FeeAmount)
	c.CommissionTotal = c.CommissionTotal.Add(quote.FeeAmount).Add(res.Penalty)
	if c.Status == models.CyclePending {
		c.Status = models.CycleActive
	}
	if err := e.repomanager.Cycles(u.Tx).Update(ctx, c); err != nil {
		return nil, err
	}

	if err := u.record(ctx, ActionContribution, &amount, g.Currency, map[string]any{
		"group_id":         g.ID,
		"cycle_id":         c.ID,
		"cycle_number":     c.CycleNumber,
		"user_id":          userID,
		"fee_amount":       quote.FeeAmount.StringFixed(2),
		"total_pool":       c.TotalPool.StringFixed(2),
		"commission_total": c.CommissionTotal.StringFixed(2),
		"late":             res.Late,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// RecordDistribution pays amount from escrow to the recipient member. The
// amount must be positive and covered by the aggregated escrow balance. The
// cycle completes once its pool is exhausted.
func (e *CycleEngine) RecordDistribution(ctx context.Context, u *UnitOfWork, g *models.Group, c *models.Cycle, userID string, amount decimal.Decimal) (*models.Cycle, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, common.ErrAmountNotPositive
	}

	escrow, err := e.wallet.ResolveAccount(ctx, u.Tx, EscrowOwner(g.ID), g.Currency)
	if err != nil {
		return nil, err
	}
	balance, err := e.wallet.BalanceInTx(ctx, u.Tx, escrow.ID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(balance) {
		return nil, fmt.Errorf("%w: requested %s, available %s",
			common.ErrInsufficientBalance, amount.StringFixed(2), balance.StringFixed(2))
	}

	member, err := e.wallet.ResolveAccount(ctx, u.Tx, MemberOwner(userID), g.Currency)
	if err != nil {
		return nil, err
	}
	if _, _, err := e.wallet.PostInTx(ctx, u.Tx, u.Audit, e.posting(u, g, escrow.ID, member.ID, amount, "distribution:"+uuid.NewString())); err != nil {
		return nil, err
	}

	freq, err := ValidateFrequency(g.FrequencyType)
	if err != nil {
		return nil, err
	}
	c.TotalPool = c.TotalPool.Sub(amount)
	c.NextDistributionDate = NextDistributionDate(freq, e.now())
	if !c.TotalPool.IsPositive() {
		c.Status = models.CycleCompleted
	}
	if err := e.repomanager.Cycles(u.Tx).Update(ctx, c); err != nil {
		return nil, err
	}

	if err := u.record(ctx, ActionDistribution, &amount, g.Currency, map[string]any{
		"group_id":   g.ID,
		"cycle_id":   c.ID,
		"user_id":    userID,
		"total_pool": c.TotalPool.StringFixed(2),
	}); err != nil {
		return nil, err
	}

	if c.Status == models.CycleCompleted {
		if err := u.record(ctx, ActionCycleCompleted, nil, "", map[string]any{
			"group_id": g.ID, "cycle_id": c.ID, "cycle_number": c.CycleNumber,
		}); err != nil {
			return nil, err
		}
		e.logger.Info(ctx, "cycle completed", "group_id", g.ID, "cycle", c.CycleNumber)
	}
	return c, nil
}

func (e *CycleEngine) posting(u *UnitOfWork, g *models.Group, debit, credit string, amount decimal.Decimal, reference string) Posting {
	return Posting{
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		Currency:      g.Currency,
		Reference:     reference,
		ActorID:       u.ActorID,
		CorrelationID: u.CorrelationID,
	}
}
