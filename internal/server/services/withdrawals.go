package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VoteOutcome is the state of a request after one vote.
type VoteOutcome struct {
	Request  *models.WithdrawRequest
	Votes    []*models.Vote
	Members  int
	Executed bool
	Cycle    *models.Cycle
}

// WithdrawalEngine runs the unanimous vote that gates every release of
// escrowed funds. PENDING moves to REJECTED on the first rejection, or to
// APPROVED and then EXECUTED once every member has approved.
type WithdrawalEngine struct {
	repomanager repomanager.RepositoryManager
	cycles      *CycleEngine
	logger      logging.Logger
}

func NewWithdrawalEngine(m repomanager.RepositoryManager, cycles *CycleEngine, logger logging.Logger) *WithdrawalEngine {
	return &WithdrawalEngine{repomanager: m, cycles: cycles, logger: logger}
}

// CreateRequest opens a PENDING request by a current member.
func (w *WithdrawalEngine) CreateRequest(ctx context.Context, u *UnitOfWork, g *models.Group, requester string, amount decimal.Decimal) (*models.WithdrawRequest, error) {
	if _, err := w.member(ctx, u.Tx, g.ID, requester); err != nil {
		return nil, err
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, common.ErrAmountNotPositive
	}

	req := &models.WithdrawRequest{
		ID:          uuid.NewString(),
		TontineID:   g.ID,
		RequestedBy: requester,
		Amount:      amount,
		Status:      models.WithdrawPending,
	}
	if err := w.repomanager.Withdrawals(u.Tx).Create(ctx, req); err != nil {
		return nil, err
	}
	if err := u.record(ctx, ActionWithdrawRequested, &amount, g.Currency, map[string]any{
		"group_id": g.ID, "request_id": req.ID, "requested_by": requester,
	}); err != nil {
		return nil, err
	}
	return req, nil
}

// Vote records one vote and evaluates the request. The request row is
// locked so that two concurrent final votes cannot both execute it.
func (w *WithdrawalEngine) Vote(ctx context.Context, u *UnitOfWork, g *models.Group, requestID, voter string, approve bool) (*VoteOutcome, error) {
	requests := w.repomanager.Withdrawals(u.Tx)

	req, err := requests.GetForUpdate(ctx, requestID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrRequestNotFound
		}
		return nil, err
	}
	if req.TontineID != g.ID {
		return nil, common.ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %s", common.ErrRequestClosed, req.Status)
	}
	if _, err := w.member(ctx, u.Tx, g.ID, voter); err != nil {
		return nil, err
	}

	vote := &models.Vote{ID: uuid.NewString(), TontineID: g.ID, WithdrawRequestID: req.ID, UserID: voter, Approved: approve}
	if err := w.repomanager.Votes(u.Tx).Create(ctx, vote); err != nil {
		return nil, err
	}
	if err := u.record(ctx, ActionVoteCast, nil, "", map[string]any{
		"group_id": g.ID, "request_id": req.ID, "voter": voter, "approved": approve,
	}); err != nil {
		return nil, err
	}

	votes, err := w.repomanager.Votes(u.Tx).ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	memberCount, err := w.repomanager.Members(u.Tx).Count(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	out := &VoteOutcome{Request: req, Votes: votes, Members: memberCount}

	for _, v := range votes {
		if !v.Approved {
			if err := w.setStatus(ctx, u, req, models.WithdrawRejected); err != nil {
				return nil, err
			}
			if err := u.record(ctx, ActionWithdrawRejected, &req.Amount, g.Currency, map[string]any{
				"group_id": g.ID, "request_id": req.ID, "rejected_by": v.UserID,
			}); err != nil {
				return nil, err
			}
			w.logger.Info(ctx, "withdraw request rejected", "group_id", g.ID, "request_id", req.ID)
			return out, nil
		}
	}

	if len(votes) < memberCount {
		return out, nil
	}

	if err := w.setStatus(ctx, u, req, models.WithdrawApproved); err != nil {
		return nil, err
	}
	cycle, err := w.repomanager.Cycles(u.Tx).InFlightForUpdate(ctx, g.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: no funded cycle", common.ErrInsufficientBalance)
		}
		return nil, err
	}
	cycle, err = w.cycles.RecordDistribution(ctx, u, g, cycle, req.RequestedBy, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := w.setStatus(ctx, u, req, models.WithdrawExecuted); err != nil {
		return nil, err
	}
	if err := u.record(ctx, ActionWithdrawExecuted, &req.Amount, g.Currency, map[string]any{
		"group_id": g.ID, "request_id": req.ID, "requested_by": req.RequestedBy, "votes": len(votes),
	}); err != nil {
		return nil, err
	}

	out.Executed = true
	out.Cycle = cycle
	w.logger.Info(ctx, "withdraw request executed", "group_id", g.ID, "request_id", req.ID, "votes", len(votes))
	return out, nil
}

// GetRequest returns a request and its votes in any state.
func (w *WithdrawalEngine) GetRequest(ctx context.Context, db dbx.DBTX, requestID string) (*models.WithdrawRequest, []*models.Vote, error) {
	req, err := w.repomanager.Withdrawals(db).Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrRequestNotFound
		}
		return nil, nil, err
	}
	votes, err := w.repomanager.Votes(db).ListByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, votes, nil
}

func (w *WithdrawalEngine) setStatus(ctx context.Context, u *UnitOfWork, req *models.WithdrawRequest, status models.WithdrawStatus) error {
	if err := w.repomanager.Withdrawals(u.Tx).UpdateStatus(ctx, req.ID, status); err != nil {
		return err
	}
	req.Status = status
	return nil
}

func (w *WithdrawalEngine) member(ctx context.Context, db dbx.DBTX, groupID, userID string) (*models.Member, error) {
	m, err := w.repomanager.Members(db).Get(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrNotMember
		}
		return nil, err
	}
	return m, nil
}
