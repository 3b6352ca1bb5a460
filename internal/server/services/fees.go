package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/shopspring/decimal"
)

type FeeType string

const FeeContribution FeeType = "contribution"

// RateOptimizer may scale a configured rate. The result is used as a
// multiplier, so returning 1 leaves the rate unchanged.
type RateOptimizer interface {
	Multiplier(feeType FeeType, baseAmount decimal.Decimal) decimal.Decimal
}

type neutralOptimizer struct{}

func (neutralOptimizer) Multiplier(FeeType, decimal.Decimal) decimal.Decimal { return decimal.NewFromInt(1) }

// FeeQuote is the outcome of one fee computation.
type FeeQuote struct {
	FeeType    FeeType
	BaseAmount decimal.Decimal
	FeeAmount  decimal.Decimal
	Rate       decimal.Decimal
	Currency   string
}

// FeeEngine computes fees from configured per-type rates. Every quote is
// written to the audit chain before it is returned.
type FeeEngine struct {
	rates     map[FeeType]decimal.Decimal
	optimizer RateOptimizer
}

func NewFeeEngine(rates map[FeeType]decimal.Decimal, optimizer RateOptimizer) *FeeEngine {
	if optimizer == nil {
		optimizer = neutralOptimizer{}
	}
	return &FeeEngine{rates: rates, optimizer: optimizer}
}

// Calculate quotes the fee on amount. Amounts are rounded half-up to two
// decimals and the effective rate to six decimals before multiplying. A
// failed audit write fails the calculation.
func (f *FeeEngine) Calculate(ctx context.Context, rec EventRecorder, feeType FeeType, amount decimal.Decimal, currency, actorID, correlationID string) (*FeeQuote, error) {
	rate, ok := f.rates[feeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownFeeType, feeType)
	}
	base := amount.Round(2)
	if !base.IsPositive() {
		return nil, common.ErrAmountNotPositive
	}

	rate = rate.Mul(f.optimizer.Multiplier(feeType, base)).Round(6)
	quote := &FeeQuote{
		FeeType:    feeType,
		BaseAmount: base,
		FeeAmount:  base.Mul(rate).Round(2),
		Rate:       rate,
		Currency:   currency,
	}

	_, err := rec.RecordFinancialEvent(ctx, FinancialEvent{
		ActorID:       actorID,
		Action:        ActionFeeCalculated,
		Amount:        &quote.FeeAmount,
		Currency:      currency,
		CorrelationID: correlationID,
		Payload: map[string]any{
			"fee_type":    string(feeType),
			"base_amount": base.StringFixed(2),
			"rate":        rate.StringFixed(6),
			"fee_amount":  quote.FeeAmount.StringFixed(2),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fee audit: %w", err)
	}
	return quote, nil
}

func (f *FeeEngine) CalculateContribution(ctx context.Context, rec EventRecorder, amount decimal.Decimal, currency, actorID, correlationID string) (*FeeQuote, error) {
	return f.Calculate(ctx, rec, FeeContribution, amount, currency, actorID, correlationID)
}
