package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/common"
)

type Frequency string

const (
	Daily    Frequency = "DAILY"
	Weekly   Frequency = "WEEKLY"
	Biweekly Frequency = "BIWEEKLY"
	Monthly  Frequency = "MONTHLY"
)

var frequencyDays = map[Frequency]int{
	Daily:    1,
	Weekly:   7,
	Biweekly: 14,
	Monthly:  30,
}

// Days is the distribution interval of f.
func (f Frequency) Days() int { return frequencyDays[f] }

// ValidateFrequency normalizes case and surrounding space and accepts only
// the known frequencies.
func ValidateFrequency(value string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := frequencyDays[f]; !ok {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidFrequency, value)
	}
	return f, nil
}

func NextDistributionDate(f Frequency, from time.Time) time.Time {
	return from.AddDate(0, 0, f.Days())
}

// EnforceScheduleLock forbids a frequency change while a cycle is in flight.
func EnforceScheduleLock(stored, requested Frequency, cycleActive bool) error {
	if cycleActive && stored != requested {
		return common.ErrScheduleLocked
	}
	return nil
}
