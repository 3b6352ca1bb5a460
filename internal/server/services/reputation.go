package services

import (
	"fmt"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/shopspring/decimal"
)

type ReputationEvent string

const (
	LatePayment    ReputationEvent = "LATE_PAYMENT"
	FraudAttempt   ReputationEvent = "FRAUD_ATTEMPT"
	RegularPayment ReputationEvent = "REGULAR_PAYMENT"
)

var reputationDeltas = map[ReputationEvent]int64{
	LatePayment:    -7,
	FraudAttempt:   -25,
	RegularPayment: 3,
}

var (
	StartingReputation = decimal.NewFromInt(50)
	minReputation      = decimal.Zero
	maxReputation      = decimal.NewFromInt(100)
)

// AdjustReputation applies the fixed delta of event and clamps to [0,100].
func AdjustReputation(current decimal.Decimal, event ReputationEvent) (decimal.Decimal, error) {
	delta, ok := reputationDeltas[event]
	if !ok {
		return current, fmt.Errorf("%w: unknown reputation event %q", common.ErrValidation, event)
	}
	next := current.Add(decimal.NewFromInt(delta))
	if next.LessThan(minReputation) {
		return minReputation, nil
	}
	if next.GreaterThan(maxReputation) {
		return maxReputation, nil
	}
	return next, nil
}
