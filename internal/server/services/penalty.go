package services

import "github.com/shopspring/decimal"

// PenaltyEngine computes flat-rate late payment penalties.
type PenaltyEngine struct {
	rate decimal.Decimal
}

func NewPenaltyEngine(rate decimal.Decimal) *PenaltyEngine {
	return &PenaltyEngine{rate: rate}
}

// LatePaymentPenalty is amount*rate rounded half-up to two decimals, zero
// for non-positive amounts.
func (p *PenaltyEngine) LatePaymentPenalty(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(p.rate).Round(2)
}
