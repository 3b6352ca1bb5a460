package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GroupStatus string

const (
	GroupActive GroupStatus = "ACTIVE"
	GroupFrozen GroupStatus = "FROZEN"
	GroupClosed GroupStatus = "CLOSED"
)

const (
	MinGroupMembers = 2
	MaxGroupMembers = 10
)

// Group is a rotating savings group (tontine).
type Group struct {
	ID                 string
	Name               string
	ContributionAmount decimal.Decimal
	Currency           string
	FrequencyType      string
	MaxMembers         int
	SecurityCodeHash   string
	Status             GroupStatus
	SignatureHash      string
	CreatedBy          string
	CreatedAt          time.Time
}

// Member joins one group; ReputationScore stays within [0,100].
type Member struct {
	ID              string
	TontineID       string
	UserID          string
	ReputationScore decimal.Decimal
	JoinedAt        time.Time
}

type CycleStatus string

const (
	CyclePending   CycleStatus = "PENDING"
	CycleActive    CycleStatus = "ACTIVE"
	CycleCompleted CycleStatus = "COMPLETED"
)

// InFlight reports whether a cycle with this status blocks schedule changes
// and is reused by the next contribution.
func (s CycleStatus) InFlight() bool {
	return s == CyclePending || s == CycleActive
}

type Cycle struct {
	ID                   string
	TontineID            string
	CycleNumber          int
	TotalPool            decimal.Decimal
	CommissionTotal      decimal.Decimal
	NextDistributionDate time.Time
	Status               CycleStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type WithdrawStatus string

const (
	WithdrawPending  WithdrawStatus = "PENDING"
	WithdrawApproved WithdrawStatus = "APPROVED"
	WithdrawRejected WithdrawStatus = "REJECTED"
	WithdrawExecuted WithdrawStatus = "EXECUTED"
)

// Terminal reports whether no further votes are accepted.
func (s WithdrawStatus) Terminal() bool {
	return s == WithdrawRejected || s == WithdrawExecuted
}

type WithdrawRequest struct {
	ID          string
	TontineID   string
	RequestedBy string
	Amount      decimal.Decimal
	Status      WithdrawStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Vote is cast once per (request, user) and never revised.
type Vote struct {
	ID                string
	TontineID         string
	WithdrawRequestID string
	UserID            string
	Approved          bool
	CreatedAt         time.Time
}
